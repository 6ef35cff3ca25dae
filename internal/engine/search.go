package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/pkg/types"
)

// SearchRequest describes one search execution. A nil Query matches all
// documents. Types restricts hits to the named document types; empty means
// every type except the reserved percolator type.
type SearchRequest struct {
	Index        string               `json:"index"`
	Types        []string             `json:"types,omitempty"`
	Query        filter.Query         `json:"-"`
	Aggregations []AggregationRequest `json:"aggregations,omitempty"`
}

// Hit is one matching document reference. Field values are returned only
// for documents the caller is allowed to see, which by construction is
// every hit.
type Hit struct {
	Index  string            `json:"_index"`
	Type   string            `json:"_type"`
	ID     string            `json:"_id"`
	Score  float64           `json:"_score"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SearchResponse is the outcome of one search. Totals count only visible
// documents.
type SearchResponse struct {
	Total        int64                   `json:"total"`
	Hits         []Hit                   `json:"hits"`
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// Search runs a query as the given principal. The effective filter is
// derived once and applied to the hit set, to both sides of any
// parent/child join inside the query, and to every aggregation scope.
func (e *Engine) Search(ctx context.Context, principal *types.Principal, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	ef, err := e.effectiveFilter(principal, req.Index, types.OpSearch)
	if err != nil {
		return nil, err
	}
	rewritten := dls.Rewrite(req.Query, ef)

	candidates, err := e.candidateDocs(req.Index, req.Types)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0)
	hitDocs := make([]*types.Document, 0)
	suppressed := 0
	for _, doc := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.matches(req.Index, doc, rewritten.Query, ef) {
			continue
		}
		if rewritten.Filter != nil && !filter.Matches(rewritten.Filter, doc) {
			suppressed++
			continue
		}
		hits = append(hits, Hit{
			Index:  doc.Index,
			Type:   doc.Type,
			ID:     doc.ID,
			Score:  1.0,
			Fields: doc.Fields,
		})
		hitDocs = append(hitDocs, doc)
	}

	resp := &SearchResponse{Total: int64(len(hits)), Hits: hits}
	if len(req.Aggregations) > 0 {
		aggs, err := e.runAggregations(ctx, req.Index, req.Aggregations, hitDocs, ef)
		if err != nil {
			return nil, err
		}
		resp.Aggregations = aggs
	}

	e.metrics.RecordRequest(string(types.OpSearch), time.Since(start))
	e.auditScoped(principal, req.Index, string(types.OpSearch), ef, suppressed)
	e.logger.Debug("search executed",
		zap.String("index", req.Index),
		zap.String("principal", principal.ID),
		zap.String("filter", ef.Kind().String()),
		zap.Int64("hits", resp.Total))
	return resp, nil
}

// Count runs the query and reports only the number of visible matches.
func (e *Engine) Count(ctx context.Context, principal *types.Principal, req SearchRequest) (int64, error) {
	req.Aggregations = nil
	resp, err := e.Search(ctx, principal, req)
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// candidateDocs returns the documents a search scans: the requested types,
// or every type except stored percolator queries.
func (e *Engine) candidateDocs(indexName string, docTypes []string) ([]*types.Document, error) {
	if len(docTypes) == 0 {
		all, err := e.store.Docs(indexName)
		if err != nil {
			return nil, err
		}
		docs := make([]*types.Document, 0, len(all))
		for _, doc := range all {
			if doc.Type != PercolatorType {
				docs = append(docs, doc)
			}
		}
		return docs, nil
	}
	var docs []*types.Document
	for _, t := range docTypes {
		typed, err := e.store.DocsOfType(indexName, t)
		if err != nil {
			return nil, err
		}
		docs = append(docs, typed...)
	}
	return docs, nil
}

// matches evaluates q against doc, resolving parent/child joins through
// the store. Both sides of a join are restricted by the caller's effective
// filter: an invisible child cannot make a parent match and an invisible
// parent cannot make a child match.
func (e *Engine) matches(indexName string, doc *types.Document, q filter.Query, ef dls.EffectiveFilter) bool {
	switch v := q.(type) {
	case *filter.HasChild:
		children, err := e.store.Children(indexName, v.Type, doc.ID)
		if err != nil {
			return false
		}
		for _, child := range children {
			if dls.Visible(child, ef) && e.matches(indexName, child, v.Query, ef) {
				return true
			}
		}
		return false
	case *filter.HasParent:
		if doc.Parent == "" {
			return false
		}
		parent, err := e.store.Get(indexName, v.ParentType, doc.Parent)
		if err != nil || parent == nil {
			return false
		}
		return dls.Visible(parent, ef) && e.matches(indexName, parent, v.Query, ef)
	case *filter.And:
		for _, sub := range v.Terms {
			if !e.matches(indexName, doc, sub, ef) {
				return false
			}
		}
		return true
	case *filter.Or:
		for _, sub := range v.Terms {
			if e.matches(indexName, doc, sub, ef) {
				return true
			}
		}
		return false
	case *filter.Not:
		return !e.matches(indexName, doc, v.Term, ef)
	case *filter.Raw:
		return e.matches(indexName, doc, v.Inner, ef)
	default:
		return filter.Matches(q, doc)
	}
}
