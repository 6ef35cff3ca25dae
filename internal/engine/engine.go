// Package engine executes search, fetch, aggregation, and percolation
// requests against an index store while enforcing per-principal document
// visibility on every read path.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/audit"
	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/internal/metrics"
	"github.com/dls-engine/go-core/pkg/types"
)

// PercolatorType is the reserved document type under which stored
// percolator queries live in the index store.
const PercolatorType = ".percolator"

// Engine binds the index store to the visibility resolver. Every read
// operation derives the caller's effective filter once and applies it at
// each point where a document could otherwise leak.
type Engine struct {
	store    *index.Store
	resolver *dls.Resolver
	perc     *percolatorSet
	metrics  *metrics.Metrics
	audit    *audit.Logger
	logger   *zap.Logger
}

// Config carries the optional collaborators of an Engine.
type Config struct {
	Metrics *metrics.Metrics
	Audit   *audit.Logger
}

func New(store *index.Store, resolver *dls.Resolver, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		perc:     newPercolatorSet(),
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		logger:   logger,
	}
}

// Store exposes the underlying index store for write-side callers. Writes
// are not subject to document visibility.
func (e *Engine) Store() *index.Store {
	return e.store
}

// Index stores a document. Registration of percolator queries goes
// through RegisterPercolator instead so the in-memory query set stays in
// step with the store.
func (e *Engine) Index(doc *types.Document) error {
	if doc.Type == PercolatorType {
		return e.RegisterPercolator(doc.Index, doc.ID, doc.Fields)
	}
	return e.store.Put(doc)
}

// CloseIndex closes an index and unloads its percolator queries. Requests
// against a closed index fail with index.ErrIndexClosed.
func (e *Engine) CloseIndex(name string) error {
	if err := e.store.Close(name); err != nil {
		return err
	}
	e.perc.unload(name)
	e.logEvent(audit.Event{EventType: audit.EventTypeIndexChange, Index: name, Detail: "close"})
	return nil
}

// OpenIndex reopens an index and reloads its percolator queries from the
// stored query documents. The index is marked pending before the store
// flips to open and stays pending until the reload lands, so a percolate
// request racing the reopen is rejected rather than evaluated against an
// empty query set. A failed reload leaves the index pending; percolation
// resumes only after a reopen whose reload succeeds.
func (e *Engine) OpenIndex(name string) error {
	if !e.store.Exists(name) {
		return fmt.Errorf("open %s: %w", name, index.ErrIndexNotFound)
	}
	e.perc.markPending(name)
	if err := e.store.Open(name); err != nil {
		return err
	}
	if err := e.reloadPercolators(name); err != nil {
		return err
	}
	e.logEvent(audit.Event{EventType: audit.EventTypeIndexChange, Index: name, Detail: "open"})
	return nil
}

// effectiveFilter derives the caller's filter for one request and records
// the outcome kind and resolve latency.
func (e *Engine) effectiveFilter(principal *types.Principal, indexName string, op types.Operation) (dls.EffectiveFilter, error) {
	start := time.Now()
	ef, err := e.resolver.EffectiveFilter(principal, indexName, op)
	if err != nil {
		return ef, err
	}
	e.metrics.RecordFilterOutcome(ef.Kind().String(), time.Since(start))
	return ef, nil
}

func (e *Engine) logEvent(ev audit.Event) {
	if e.audit != nil {
		e.audit.Log(ev)
	}
}

// scoped emits an access_scoped audit event when a request suppressed at
// least one document.
func (e *Engine) auditScoped(principal *types.Principal, indexName, op string, ef dls.EffectiveFilter, suppressed int) {
	if e.audit == nil || suppressed == 0 {
		return
	}
	e.audit.Log(audit.Event{
		EventType:  audit.EventTypeAccessScoped,
		Principal:  principal.ID,
		Index:      indexName,
		Operation:  op,
		FilterKind: ef.Kind().String(),
		Suppressed: suppressed,
	})
}
