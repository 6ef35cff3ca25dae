// Package types provides shared types for the document-level security engine
package types

import "sort"

// Operation identifies the kind of access a request performs against an index.
type Operation string

const (
	OpAll       Operation = "all"
	OpRead      Operation = "read"
	OpWrite     Operation = "write"
	OpGet       Operation = "get"
	OpSearch    Operation = "search"
	OpPercolate Operation = "percolate"
)

// Covers reports whether a granted operation covers a requested one.
// "all" covers everything; "read" covers the read-only request kinds.
func (o Operation) Covers(requested Operation) bool {
	if o == OpAll || o == requested {
		return true
	}
	if o == OpRead {
		switch requested {
		case OpGet, OpSearch, OpPercolate, OpRead:
			return true
		}
	}
	return false
}

// Principal represents an authenticated entity making a request.
// It is resolved by the authenticator before any filter computation and is
// immutable for the lifetime of one request.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks if the principal has a specific role
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Document is a stored document identified by (index, type, id). Field values
// are used only for predicate evaluation; this layer never mutates them.
type Document struct {
	Index  string            `json:"_index"`
	Type   string            `json:"_type"`
	ID     string            `json:"_id"`
	Parent string            `json:"_parent,omitempty"`
	Fields map[string]string `json:"fields"`
}

// Field returns a field value and whether the field is present.
func (d *Document) Field(name string) (string, bool) {
	if d == nil || d.Fields == nil {
		return "", false
	}
	v, ok := d.Fields[name]
	return v, ok
}

// FieldNames returns the document's field names in sorted order.
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
