package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/pkg/types"
)

// Aggregation kinds. A terms aggregation buckets its scope by field value,
// a global aggregation widens the scope to the whole index (bounded by
// visibility), and a children aggregation narrows it to the visible
// children of the scope documents.
const (
	AggTerms    = "terms"
	AggGlobal   = "global"
	AggChildren = "children"
)

// AggregationRequest describes one aggregation node, possibly with
// sub-aggregations over the node's scope.
type AggregationRequest struct {
	Name      string               `json:"name"`
	Kind      string               `json:"kind"`
	Field     string               `json:"field,omitempty"`
	ChildType string               `json:"child_type,omitempty"`
	Sub       []AggregationRequest `json:"aggregations,omitempty"`
}

// Aggregation is the computed result of one aggregation node. Counts
// reflect visible documents only.
type Aggregation struct {
	DocCount     int64                   `json:"doc_count"`
	Buckets      []Bucket                `json:"buckets,omitempty"`
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// Bucket is one terms bucket.
type Bucket struct {
	Key          string                  `json:"key"`
	DocCount     int64                   `json:"doc_count"`
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// runAggregations evaluates aggregation requests over the search's hit
// documents. Every scope, including the widened scope of a global
// aggregation, is intersected with the caller's effective filter before
// any counting happens.
func (e *Engine) runAggregations(ctx context.Context, indexName string, reqs []AggregationRequest, scope []*types.Document, ef dls.EffectiveFilter) (map[string]*Aggregation, error) {
	out := make(map[string]*Aggregation, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		agg, err := e.runAggregation(ctx, indexName, req, scope, ef)
		if err != nil {
			return nil, err
		}
		out[req.Name] = agg
	}
	return out, nil
}

func (e *Engine) runAggregation(ctx context.Context, indexName string, req AggregationRequest, scope []*types.Document, ef dls.EffectiveFilter) (*Aggregation, error) {
	switch req.Kind {
	case AggTerms:
		return e.termsAggregation(ctx, indexName, req, scope, ef)
	case AggGlobal:
		return e.globalAggregation(ctx, indexName, req, ef)
	case AggChildren:
		return e.childrenAggregation(ctx, indexName, req, scope, ef)
	default:
		return nil, fmt.Errorf("unknown aggregation kind %q", req.Kind)
	}
}

// termsAggregation buckets the scope by the values of one field. Documents
// without the field contribute no bucket. A field whose values occur only
// on invisible documents produces no bucket at all rather than an empty
// one.
func (e *Engine) termsAggregation(ctx context.Context, indexName string, req AggregationRequest, scope []*types.Document, ef dls.EffectiveFilter) (*Aggregation, error) {
	byValue := map[string][]*types.Document{}
	for _, doc := range scope {
		value, ok := doc.Field(req.Field)
		if !ok {
			continue
		}
		byValue[value] = append(byValue[value], doc)
	}

	buckets := make([]Bucket, 0, len(byValue))
	for value, docs := range byValue {
		bucket := Bucket{Key: value, DocCount: int64(len(docs))}
		if len(req.Sub) > 0 {
			subs, err := e.runAggregations(ctx, indexName, req.Sub, docs, ef)
			if err != nil {
				return nil, err
			}
			bucket.Aggregations = subs
		}
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].DocCount != buckets[j].DocCount {
			return buckets[i].DocCount > buckets[j].DocCount
		}
		return buckets[i].Key < buckets[j].Key
	})

	return &Aggregation{DocCount: int64(len(scope)), Buckets: buckets}, nil
}

// globalAggregation widens the scope from the current hit set to the whole
// index, but never past what the caller may see: the document count is the
// number of visible documents, and sub-aggregations run over that visible
// set.
func (e *Engine) globalAggregation(ctx context.Context, indexName string, req AggregationRequest, ef dls.EffectiveFilter) (*Aggregation, error) {
	all, err := e.store.Docs(indexName)
	if err != nil {
		return nil, err
	}
	visible := make([]*types.Document, 0, len(all))
	for _, doc := range all {
		if doc.Type == PercolatorType {
			continue
		}
		if dls.Visible(doc, ef) {
			visible = append(visible, doc)
		}
	}
	agg := &Aggregation{DocCount: int64(len(visible))}
	if len(req.Sub) > 0 {
		subs, err := e.runAggregations(ctx, indexName, req.Sub, visible, ef)
		if err != nil {
			return nil, err
		}
		agg.Aggregations = subs
	}
	return agg, nil
}

// childrenAggregation narrows the scope to the children of the scope
// documents that carry the requested type. Invisible children are excluded
// before counting, so a parent whose children are all invisible
// contributes doc_count zero.
func (e *Engine) childrenAggregation(ctx context.Context, indexName string, req AggregationRequest, scope []*types.Document, ef dls.EffectiveFilter) (*Aggregation, error) {
	var children []*types.Document
	for _, parent := range scope {
		kids, err := e.store.Children(indexName, req.ChildType, parent.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range kids {
			if dls.Visible(child, ef) {
				children = append(children, child)
			}
		}
	}
	agg := &Aggregation{DocCount: int64(len(children))}
	if len(req.Sub) > 0 {
		subs, err := e.runAggregations(ctx, indexName, req.Sub, children, ef)
		if err != nil {
			return nil, err
		}
		agg.Aggregations = subs
	}
	return agg, nil
}
