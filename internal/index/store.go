// Package index provides the in-memory document store the engine executes
// against: documents keyed by (index, type, id), parent routing for join
// queries, and index open/close state.
//
// The store performs no security filtering. Every fetch is the normal
// unfiltered storage path; visibility is decided by the callers' enforcement
// points.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/pkg/types"
)

var (
	// ErrIndexNotFound reports an operation against an index that does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexClosed reports an operation against a closed index.
	ErrIndexClosed = errors.New("index is closed")
)

type indexState struct {
	name   string
	closed bool
	// type -> id -> document
	docs map[string]map[string]*types.Document
}

// Store is an in-memory single-node document store.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*indexState
	logger  *zap.Logger
}

// NewStore creates an empty document store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		indices: make(map[string]*indexState),
		logger:  logger,
	}
}

// CreateIndex creates an index. Creating an existing index is an error.
func (s *Store) CreateIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[name]; ok {
		return fmt.Errorf("index %q already exists", name)
	}

	s.indices[name] = &indexState{
		name: name,
		docs: make(map[string]map[string]*types.Document),
	}

	s.logger.Info("Index created", zap.String("index", name))
	return nil
}

// Put stores a document, creating the index on first write.
func (s *Store) Put(doc *types.Document) error {
	if doc.Index == "" || doc.Type == "" || doc.ID == "" {
		return fmt.Errorf("document requires index, type, and id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[doc.Index]
	if !ok {
		idx = &indexState{
			name: doc.Index,
			docs: make(map[string]map[string]*types.Document),
		}
		s.indices[doc.Index] = idx
	}
	if idx.closed {
		return fmt.Errorf("index %q: %w", doc.Index, ErrIndexClosed)
	}

	byID, ok := idx.docs[doc.Type]
	if !ok {
		byID = make(map[string]*types.Document)
		idx.docs[doc.Type] = byID
	}
	byID[doc.ID] = doc
	return nil
}

// Get fetches a document. A missing document returns (nil, nil): absence is
// not an error at the storage layer.
func (s *Store) Get(index, docType, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexNotFound)
	}
	if idx.closed {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexClosed)
	}

	return idx.docs[docType][id], nil
}

// Docs returns every document in the index, sorted by (type, id) so scans and
// responses are deterministic.
func (s *Store) Docs(index string) ([]*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexNotFound)
	}
	if idx.closed {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexClosed)
	}

	var docs []*types.Document
	for _, byID := range idx.docs {
		for _, doc := range byID {
			docs = append(docs, doc)
		}
	}
	sortDocs(docs)
	return docs, nil
}

// DocsOfType returns the index's documents of one type, sorted by id.
func (s *Store) DocsOfType(index, docType string) ([]*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexNotFound)
	}
	if idx.closed {
		return nil, fmt.Errorf("index %q: %w", index, ErrIndexClosed)
	}

	var docs []*types.Document
	for _, doc := range idx.docs[docType] {
		docs = append(docs, doc)
	}
	sortDocs(docs)
	return docs, nil
}

// Children returns the documents of childType routed to the given parent id,
// sorted by id.
func (s *Store) Children(index, childType, parentID string) ([]*types.Document, error) {
	docs, err := s.DocsOfType(index, childType)
	if err != nil {
		return nil, err
	}

	var children []*types.Document
	for _, doc := range docs {
		if doc.Parent == parentID {
			children = append(children, doc)
		}
	}
	return children, nil
}

// Close marks an index closed. Reads and writes fail until it is reopened.
func (s *Store) Close(index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[index]
	if !ok {
		return fmt.Errorf("index %q: %w", index, ErrIndexNotFound)
	}
	idx.closed = true

	s.logger.Info("Index closed", zap.String("index", index))
	return nil
}

// Open reopens a closed index. The stored documents are retained across a
// close/open cycle; only derived in-memory state (like loaded percolator
// query sets) must be rebuilt by the owning component.
func (s *Store) Open(index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[index]
	if !ok {
		return fmt.Errorf("index %q: %w", index, ErrIndexNotFound)
	}
	idx.closed = false

	s.logger.Info("Index opened", zap.String("index", index))
	return nil
}

// IsClosed reports whether the index exists and is closed.
func (s *Store) IsClosed(index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	return ok && idx.closed
}

// Exists reports whether the index exists.
func (s *Store) Exists(index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.indices[index]
	return ok
}

// Count returns the number of documents in an index, across all types.
func (s *Store) Count(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return 0
	}

	n := 0
	for _, byID := range idx.docs {
		n += len(byID)
	}
	return n
}

func sortDocs(docs []*types.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Type != docs[j].Type {
			return docs[i].Type < docs[j].Type
		}
		return docs[i].ID < docs[j].ID
	})
}
