package filter

import "github.com/dls-engine/go-core/pkg/types"

// Matches evaluates a query against a single document. Evaluation is pure:
// no I/O, no mutation, deterministic given (document, query).
//
// A field referenced by a predicate but absent from the document counts as
// no-match, consistent with normal query-evaluation semantics; it is never an
// error. Join nodes (has_child/has_parent) require index access and evaluate
// to no-match here; the engine's join executor resolves them before documents
// reach this function.
func Matches(q Query, doc *types.Document) bool {
	if doc == nil {
		return false
	}

	switch v := q.(type) {
	case nil:
		return false
	case *MatchAll, MatchAll:
		return true
	case *MatchNone, MatchNone:
		return false
	case *Term:
		val, ok := doc.Field(v.Field)
		return ok && val == v.Value
	case *And:
		for _, t := range v.Terms {
			if !Matches(t, doc) {
				return false
			}
		}
		return true
	case *Or:
		for _, t := range v.Terms {
			if Matches(t, doc) {
				return true
			}
		}
		return false
	case *Not:
		return !Matches(v.Term, doc)
	case *Raw:
		return Matches(v.Inner, doc)
	case *Script:
		return v.eval(doc)
	default:
		return false
	}
}

// eval runs the compiled CEL program against the document's fields. Any
// evaluation error (missing field, type mismatch) counts as no-match so the
// enclosing request still completes.
func (s *Script) eval(doc *types.Document) bool {
	if s.program == nil {
		return false
	}

	fields := make(map[string]interface{}, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}

	out, _, err := s.program.Eval(map[string]interface{}{
		"doc": fields,
	})
	if err != nil {
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}
