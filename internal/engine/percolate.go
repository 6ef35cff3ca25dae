package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/pkg/types"
)

// storedQuery is one registered percolator query together with the
// document it is stored as. The document carries the query source and any
// metadata fields, and is what visibility filters evaluate against.
type storedQuery struct {
	id    string
	query filter.Query
	doc   *types.Document
}

// percolatorSet is the in-memory registry of parsed percolator queries,
// keyed by index. All reads and writes go through its lock; a reload
// after an index reopen replaces the index's entry wholesale, so a
// concurrent percolate request sees either nothing (closed) or the fully
// rebuilt set. An index is marked pending for the span between its store
// reopen and the completed reload; percolate requests reject pending
// indexes the same way they reject closed ones.
type percolatorSet struct {
	mu      sync.RWMutex
	queries map[string]map[string]*storedQuery
	pending map[string]bool
}

func newPercolatorSet() *percolatorSet {
	return &percolatorSet{
		queries: make(map[string]map[string]*storedQuery),
		pending: make(map[string]bool),
	}
}

func (p *percolatorSet) put(indexName string, sq *storedQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := p.queries[indexName]
	if byID == nil {
		byID = make(map[string]*storedQuery)
		p.queries[indexName] = byID
	}
	byID[sq.id] = sq
}

func (p *percolatorSet) unload(indexName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queries, indexName)
	delete(p.pending, indexName)
}

// markPending flags an index as awaiting a reload. A pending index does
// not accept percolate requests until replace clears the flag.
func (p *percolatorSet) markPending(indexName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[indexName] = true
}

func (p *percolatorSet) isPending(indexName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pending[indexName]
}

func (p *percolatorSet) replace(indexName string, entries map[string]*storedQuery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries[indexName] = entries
	delete(p.pending, indexName)
}

// entries returns the index's stored queries sorted by id.
func (p *percolatorSet) entries(indexName string) []*storedQuery {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byID := p.queries[indexName]
	out := make([]*storedQuery, 0, len(byID))
	for _, sq := range byID {
		out = append(out, sq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// RegisterPercolator stores a percolator query document. The fields map
// must carry the query source under "query"; any remaining fields are
// metadata that visibility filters and percolate pre-filters can match
// against.
func (e *Engine) RegisterPercolator(indexName, id string, fields map[string]string) error {
	source, ok := fields["query"]
	if !ok {
		return fmt.Errorf("percolator %s/%s: missing query field", indexName, id)
	}
	q, err := filter.ParseRaw(source)
	if err != nil {
		return fmt.Errorf("percolator %s/%s: %w", indexName, id, err)
	}
	doc := &types.Document{Index: indexName, Type: PercolatorType, ID: id, Fields: fields}
	if err := e.store.Put(doc); err != nil {
		return err
	}
	e.perc.put(indexName, &storedQuery{id: id, query: q, doc: doc})
	return nil
}

// reloadPercolators rebuilds an index's in-memory query set from its
// stored percolator documents. Called after an index reopen.
func (e *Engine) reloadPercolators(indexName string) error {
	docs, err := e.store.DocsOfType(indexName, PercolatorType)
	if err != nil {
		return err
	}
	entries := make(map[string]*storedQuery, len(docs))
	for _, doc := range docs {
		source, ok := doc.Field("query")
		if !ok {
			return fmt.Errorf("percolator %s/%s: missing query field", indexName, doc.ID)
		}
		q, err := filter.ParseRaw(source)
		if err != nil {
			return fmt.Errorf("percolator %s/%s: %w", indexName, doc.ID, err)
		}
		entries[doc.ID] = &storedQuery{id: doc.ID, query: q, doc: doc}
	}
	e.perc.replace(indexName, entries)
	e.metrics.RecordPercolatorLoad()
	e.logger.Info("percolator queries reloaded",
		zap.String("index", indexName), zap.Int("queries", len(entries)))
	return nil
}

// PercolateRequest submits a candidate document for matching against the
// stored queries of an index. Filter optionally pre-selects stored
// queries by their metadata fields before the caller's visibility filter
// applies.
type PercolateRequest struct {
	Index   string            `json:"index"`
	DocType string            `json:"doc_type"`
	Doc     map[string]string `json:"doc"`
	Filter  filter.Query      `json:"-"`
}

// PercolateResponse lists the identifiers of matching stored queries.
type PercolateResponse struct {
	Total   int64    `json:"total"`
	Matches []string `json:"matches"`
}

// Percolate matches the candidate document against every stored query the
// caller is allowed to see. Stored queries are documents: invisible ones
// are skipped before matching, with no error and no trace in the
// response.
func (e *Engine) Percolate(ctx context.Context, principal *types.Principal, req PercolateRequest) (*PercolateResponse, error) {
	start := time.Now()
	if !e.store.Exists(req.Index) {
		return nil, fmt.Errorf("percolate %s: %w", req.Index, index.ErrIndexNotFound)
	}
	if e.store.IsClosed(req.Index) || e.perc.isPending(req.Index) {
		return nil, fmt.Errorf("percolate %s: %w", req.Index, index.ErrIndexClosed)
	}
	ef, err := e.effectiveFilter(principal, req.Index, types.OpPercolate)
	if err != nil {
		return nil, err
	}

	candidate := &types.Document{
		Index:  req.Index,
		Type:   req.DocType,
		ID:     "_candidate",
		Fields: req.Doc,
	}

	matches := make([]string, 0)
	suppressed := 0
	for _, sq := range e.perc.entries(req.Index) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !dls.Visible(sq.doc, ef) {
			suppressed++
			continue
		}
		if req.Filter != nil && !filter.Matches(req.Filter, sq.doc) {
			continue
		}
		if filter.Matches(sq.query, candidate) {
			matches = append(matches, sq.id)
		}
	}

	e.metrics.RecordRequest(string(types.OpPercolate), time.Since(start))
	e.auditScoped(principal, req.Index, string(types.OpPercolate), ef, suppressed)
	return &PercolateResponse{Total: int64(len(matches)), Matches: matches}, nil
}
