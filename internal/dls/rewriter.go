package dls

import "github.com/dls-engine/go-core/internal/filter"

// Rewritten is an executed query: the user's scoring query plus the security
// filter applied in filter context. The filter narrows the result set without
// affecting relevance scores of the user query.
type Rewritten struct {
	Query  filter.Query
	Filter filter.Query // nil when no narrowing applies
}

// Rewrite injects the effective filter into the executed query. This is the
// enforcement point for search-style requests, including sub-queries used
// inside parent/child joins and percolation matching.
func Rewrite(userQuery filter.Query, ef EffectiveFilter) Rewritten {
	if userQuery == nil {
		userQuery = &filter.MatchAll{}
	}

	switch ef.Kind() {
	case Unrestricted:
		return Rewritten{Query: userQuery}
	case DenyAll:
		return Rewritten{Query: &filter.MatchNone{}}
	default:
		return Rewritten{Query: userQuery, Filter: ef.Query()}
	}
}
