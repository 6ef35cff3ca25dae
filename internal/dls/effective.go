// Package dls implements document-level security: computing the effective
// visibility filter for one (principal, index, operation) request context and
// applying it at the engine's enforcement points.
//
// Visibility decisions never surface as distinguishable errors. Lack of
// access manifests as empty result sets, zero counts, or found=false,
// structurally identical to genuine absence.
package dls

import (
	"github.com/dls-engine/go-core/internal/filter"
)

// Kind classifies an effective filter.
type Kind int

const (
	// Unrestricted grants full visibility: at least one granting role has no
	// filter.
	Unrestricted Kind = iota
	// Predicate restricts visibility to documents matching the combined
	// role filters.
	Predicate
	// DenyAll grants no visibility: no role grants the principal access to
	// the index for this operation.
	DenyAll
)

func (k Kind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case Predicate:
		return "predicate"
	case DenyAll:
		return "deny_all"
	default:
		return "unknown"
	}
}

// EffectiveFilter is the combined visibility predicate for one principal
// against one index in one request. It is derived fresh per request and
// discarded afterward; role membership is part of the principal context and
// must never be cached globally.
type EffectiveFilter struct {
	kind  Kind
	query filter.Query
}

// NewUnrestricted returns a filter granting full visibility.
func NewUnrestricted() EffectiveFilter {
	return EffectiveFilter{kind: Unrestricted}
}

// NewDenyAll returns a filter granting no visibility.
func NewDenyAll() EffectiveFilter {
	return EffectiveFilter{kind: DenyAll}
}

// NewPredicate returns a filter restricting visibility to documents matching q.
func NewPredicate(q filter.Query) EffectiveFilter {
	return EffectiveFilter{kind: Predicate, query: q}
}

// Kind returns the filter classification.
func (ef EffectiveFilter) Kind() Kind { return ef.kind }

// Query returns the combined predicate; nil unless Kind is Predicate.
func (ef EffectiveFilter) Query() filter.Query { return ef.query }

// Combine merges per-role filter contributions into one effective filter.
// A nil contribution means a granting role without a filter (unrestricted),
// and the most permissive grant wins. Otherwise the contributions are OR-ed:
// the visible set is the union of each role's accessible documents. An empty
// contribution set is deny-all.
func Combine(contributions []filter.Query, unrestricted bool) EffectiveFilter {
	if unrestricted {
		return NewUnrestricted()
	}
	if len(contributions) == 0 {
		return NewDenyAll()
	}
	return NewPredicate(filter.FlattenOr(contributions...))
}
