package filter

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// ParseRaw normalizes a serialized JSON query into the AST. The result is a
// Raw node wrapping the normalized query so callers can still see the
// original text; everything downstream evaluates the normalized form.
//
// Supported query kinds mirror what the engine executes:
// match_all, term, bool (must/should/must_not), script, has_child, has_parent.
func ParseRaw(raw string) (Query, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse query JSON: %w", err)
	}

	inner, err := FromMap(obj)
	if err != nil {
		return nil, err
	}

	return &Raw{Source: raw, Inner: inner}, nil
}

// FromMap builds a query from its decoded object form. Both the JSON parser
// and the YAML role loader funnel through here so the structured and
// raw-string spellings of a filter normalize into the same AST.
func FromMap(obj map[string]interface{}) (Query, error) {
	if len(obj) != 1 {
		return nil, fmt.Errorf("query object must have exactly one key, got %d", len(obj))
	}

	for kind, body := range obj {
		switch kind {
		case "match_all":
			return &MatchAll{}, nil
		case "match_none":
			return &MatchNone{}, nil
		case "term":
			return termFromMap(body)
		case "bool":
			return boolFromMap(body)
		case "script":
			return scriptFromValue(body)
		case "has_child":
			return hasChildFromMap(body)
		case "has_parent":
			return hasParentFromMap(body)
		default:
			return nil, fmt.Errorf("unsupported query kind: %s", kind)
		}
	}

	return nil, fmt.Errorf("empty query object")
}

func termFromMap(body interface{}) (Query, error) {
	fields, ok := body.(map[string]interface{})
	if !ok || len(fields) != 1 {
		return nil, fmt.Errorf("term query requires a single field-to-value mapping")
	}

	for field, value := range fields {
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("term value for field %q must be a string, got %T", field, value)
		}
		return &Term{Field: field, Value: str}, nil
	}

	return nil, fmt.Errorf("term query requires a field")
}

func boolFromMap(body interface{}) (Query, error) {
	clauses, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("bool query body must be an object")
	}

	var (
		must    []Query
		should  []Query
		mustNot []Query
	)

	for clause, raw := range clauses {
		subs, err := clauseQueries(clause, raw)
		if err != nil {
			return nil, err
		}
		switch clause {
		case "must", "filter":
			must = append(must, subs...)
		case "should":
			should = append(should, subs...)
		case "must_not":
			mustNot = append(mustNot, subs...)
		default:
			return nil, fmt.Errorf("unsupported bool clause: %s", clause)
		}
	}

	var parts []Query
	if len(must) > 0 {
		parts = append(parts, FlattenAnd(must...))
	}
	if len(should) > 0 {
		parts = append(parts, FlattenOr(should...))
	}
	for _, q := range mustNot {
		parts = append(parts, &Not{Term: q})
	}

	if len(parts) == 0 {
		return &MatchAll{}, nil
	}
	return FlattenAnd(parts...), nil
}

// clauseQueries accepts a single query object or an array of them.
func clauseQueries(clause string, raw interface{}) ([]Query, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		q, err := FromMap(v)
		if err != nil {
			return nil, fmt.Errorf("bool %s clause: %w", clause, err)
		}
		return []Query{q}, nil
	case []interface{}:
		queries := make([]Query, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("bool %s clause item %d must be an object", clause, i)
			}
			q, err := FromMap(obj)
			if err != nil {
				return nil, fmt.Errorf("bool %s clause item %d: %w", clause, i, err)
			}
			queries = append(queries, q)
		}
		return queries, nil
	default:
		return nil, fmt.Errorf("bool %s clause must be an object or array", clause)
	}
}

// scriptFromValue accepts either a bare expression string or an object with a
// "source" key, and compiles the expression eagerly so configuration errors
// surface at load time rather than on the request path.
func scriptFromValue(body interface{}) (Query, error) {
	var source string
	switch v := body.(type) {
	case string:
		source = v
	case map[string]interface{}:
		s, ok := v["source"].(string)
		if !ok {
			return nil, fmt.Errorf("script query requires a string source")
		}
		source = s
	default:
		return nil, fmt.Errorf("script query body must be a string or object, got %T", body)
	}

	return CompileScript(source)
}

// CompileScript compiles a CEL expression into a Script leaf. The expression
// sees the document's fields as the "doc" map and must produce a boolean.
func CompileScript(source string) (*Script, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	parsed, issues := env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to parse script expression: %w", issues.Err())
	}

	checked, issues := env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to check script expression: %w", issues.Err())
	}

	if checked.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("script expression must return boolean, got %v", checked.OutputType())
	}

	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script expression: %w", err)
	}

	return &Script{Source: source, program: program}, nil
}

func hasChildFromMap(body interface{}) (Query, error) {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("has_child query body must be an object")
	}

	childType, ok := obj["type"].(string)
	if !ok || childType == "" {
		return nil, fmt.Errorf("has_child query requires a type")
	}

	sub, err := subQuery(obj, "has_child")
	if err != nil {
		return nil, err
	}

	return &HasChild{Type: childType, Query: sub}, nil
}

func hasParentFromMap(body interface{}) (Query, error) {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("has_parent query body must be an object")
	}

	parentType, ok := obj["parent_type"].(string)
	if !ok || parentType == "" {
		return nil, fmt.Errorf("has_parent query requires a parent_type")
	}

	sub, err := subQuery(obj, "has_parent")
	if err != nil {
		return nil, err
	}

	return &HasParent{ParentType: parentType, Query: sub}, nil
}

func subQuery(obj map[string]interface{}, kind string) (Query, error) {
	rawSub, ok := obj["query"]
	if !ok {
		return &MatchAll{}, nil
	}

	subObj, ok := rawSub.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s query field must be an object", kind)
	}

	sub, err := FromMap(subObj)
	if err != nil {
		return nil, fmt.Errorf("%s sub-query: %w", kind, err)
	}
	return sub, nil
}
