// Package filter provides the boolean query AST shared by user queries and
// role-level security filters, plus pure evaluation of that AST against a
// single document.
//
// This package is a representation and evaluation layer only. It MUST NOT:
//   - Access indexes or storage
//   - Resolve roles or principals
//   - Execute joins (has_child/has_parent nodes are resolved by the engine)
package filter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Query is the interface for all AST nodes.
// The marker method prevents external types from implementing Query.
type Query interface {
	query()
	// String returns a human-readable representation of the query.
	String() string
}

// MatchAll matches every document.
type MatchAll struct{}

func (MatchAll) query() {}

func (MatchAll) String() string { return "match_all" }

// MatchNone matches no document. Used as the rewritten query for principals
// with no access at all.
type MatchNone struct{}

func (MatchNone) query() {}

func (MatchNone) String() string { return "match_none" }

// Term matches documents whose field carries exactly the given value.
type Term struct {
	Field string
	Value string
}

func (Term) query() {}

func (t *Term) String() string {
	return fmt.Sprintf("term(%s=%s)", t.Field, t.Value)
}

// And matches documents matching every sub-query.
// Invariant: len(Terms) >= 2
type And struct {
	Terms []Query
}

func (And) query() {}

func (a *And) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// Or matches documents matching at least one sub-query.
// Invariant: len(Terms) >= 2
type Or struct {
	Terms []Query
}

func (Or) query() {}

func (o *Or) String() string {
	parts := make([]string, len(o.Terms))
	for i, t := range o.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Not matches documents not matching the sub-query.
type Not struct {
	Term Query
}

func (Not) query() {}

func (n *Not) String() string { return "NOT " + n.Term.String() }

// Script is a leaf predicate backed by a compiled CEL expression over the
// document's fields (bound as "doc"). Compiled once at role-configuration
// load; evaluation failures count as no-match.
type Script struct {
	Source  string
	program cel.Program
}

func (Script) query() {}

func (s *Script) String() string { return fmt.Sprintf("script(%s)", s.Source) }

// Raw wraps a query that arrived in serialized form. The serialized text is
// normalized into Inner exactly once, at parse; evaluation and rewriting see
// only the normalized form.
type Raw struct {
	Source string
	Inner  Query
}

func (Raw) query() {}

func (r *Raw) String() string { return r.Inner.String() }

// HasChild matches parent documents having at least one child of Type that
// matches Query. Resolved by the engine's join executor, never by Matches.
type HasChild struct {
	Type  string
	Query Query
}

func (HasChild) query() {}

func (h *HasChild) String() string {
	return fmt.Sprintf("has_child(%s, %s)", h.Type, h.Query.String())
}

// HasParent matches child documents whose parent of ParentType matches Query.
// Resolved by the engine's join executor, never by Matches.
type HasParent struct {
	ParentType string
	Query      Query
}

func (HasParent) query() {}

func (h *HasParent) String() string {
	return fmt.Sprintf("has_parent(%s, %s)", h.ParentType, h.Query.String())
}

// FlattenAnd combines multiple queries into an And, flattening nested Ands.
// Returns nil for no input and the query itself for a single input.
func FlattenAnd(queries ...Query) Query {
	return flatten(queries, true)
}

// FlattenOr combines multiple queries into an Or, flattening nested Ors.
// Returns nil for no input and the query itself for a single input.
func FlattenOr(queries ...Query) Query {
	return flatten(queries, false)
}

func flatten(queries []Query, and bool) Query {
	if len(queries) == 0 {
		return nil
	}
	if len(queries) == 1 {
		return queries[0]
	}

	var terms []Query
	for _, q := range queries {
		if and {
			if a, ok := q.(*And); ok {
				terms = append(terms, a.Terms...)
				continue
			}
		} else {
			if o, ok := q.(*Or); ok {
				terms = append(terms, o.Terms...)
				continue
			}
		}
		terms = append(terms, q)
	}

	if and {
		return &And{Terms: terms}
	}
	return &Or{Terms: terms}
}

// ContainsJoin reports whether the query contains a has_child or has_parent
// node anywhere. Role filters must be join-free; the loader rejects them.
func ContainsJoin(q Query) bool {
	switch v := q.(type) {
	case *HasChild, *HasParent:
		return true
	case *And:
		for _, t := range v.Terms {
			if ContainsJoin(t) {
				return true
			}
		}
	case *Or:
		for _, t := range v.Terms {
			if ContainsJoin(t) {
				return true
			}
		}
	case *Not:
		return ContainsJoin(v.Term)
	case *Raw:
		return ContainsJoin(v.Inner)
	}
	return false
}
