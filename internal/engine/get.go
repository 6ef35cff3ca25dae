package engine

import (
	"context"
	"strings"
	"time"

	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/pkg/types"
)

// GetResponse reports a single-document lookup. Found is false both when
// the document does not exist and when it exists but is outside the
// caller's visibility; the two cases are structurally identical.
type GetResponse struct {
	Index  string            `json:"_index"`
	Type   string            `json:"_type"`
	ID     string            `json:"_id"`
	Found  bool              `json:"found"`
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// DocRef identifies one document in a multi-document request.
type DocRef struct {
	Index string `json:"_index"`
	Type  string `json:"_type"`
	ID    string `json:"_id"`
}

// Get fetches a document by identity, subject to the caller's effective
// filter.
func (e *Engine) Get(ctx context.Context, principal *types.Principal, indexName, docType, id string) (*GetResponse, error) {
	start := time.Now()
	ef, err := e.effectiveFilter(principal, indexName, types.OpGet)
	if err != nil {
		return nil, err
	}
	resp, suppressed, err := e.getOne(ef, indexName, docType, id)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRequest(string(types.OpGet), time.Since(start))
	e.auditScoped(principal, indexName, string(types.OpGet), ef, suppressed)
	return resp, nil
}

// MultiGet fetches several documents in one call. Each item is gated
// independently; an invisible document yields found=false in place, and
// an item-level failure (a missing or closed index) carries its error in
// place without failing the remaining items.
func (e *Engine) MultiGet(ctx context.Context, principal *types.Principal, refs []DocRef) ([]*GetResponse, error) {
	start := time.Now()
	out := make([]*GetResponse, 0, len(refs))
	suppressedByIndex := map[string]int{}
	filters := map[string]dls.EffectiveFilter{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ef, ok := filters[ref.Index]
		if !ok {
			var err error
			ef, err = e.effectiveFilter(principal, ref.Index, types.OpGet)
			if err != nil {
				out = append(out, &GetResponse{Index: ref.Index, Type: ref.Type, ID: ref.ID, Error: err.Error()})
				continue
			}
			filters[ref.Index] = ef
		}
		resp, suppressed, err := e.getOne(ef, ref.Index, ref.Type, ref.ID)
		if err != nil {
			out = append(out, &GetResponse{Index: ref.Index, Type: ref.Type, ID: ref.ID, Error: err.Error()})
			continue
		}
		suppressedByIndex[ref.Index] += suppressed
		out = append(out, resp)
	}
	e.metrics.RecordRequest("mget", time.Since(start))
	for idx, n := range suppressedByIndex {
		e.auditScoped(principal, idx, "mget", filters[idx], n)
	}
	return out, nil
}

func (e *Engine) getOne(ef dls.EffectiveFilter, indexName, docType, id string) (*GetResponse, int, error) {
	resp := &GetResponse{Index: indexName, Type: docType, ID: id}
	doc, err := e.store.Get(indexName, docType, id)
	if err != nil {
		return nil, 0, err
	}
	if doc == nil {
		return resp, 0, nil
	}
	if !dls.Visible(doc, ef) {
		return resp, 1, nil
	}
	resp.Found = true
	resp.Fields = doc.Fields
	return resp, 0, nil
}

// TermVectorsResponse reports per-field term frequencies of one document.
// Found follows the same indistinguishability rule as Get.
type TermVectorsResponse struct {
	Index string                    `json:"_index"`
	Type  string                    `json:"_type"`
	ID    string                    `json:"_id"`
	Found bool                      `json:"found"`
	Terms map[string]map[string]int `json:"term_vectors,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// TermVectors computes term statistics for a document the caller can see.
// For an invisible or absent document the response carries found=false and
// no statistics.
func (e *Engine) TermVectors(ctx context.Context, principal *types.Principal, indexName, docType, id string) (*TermVectorsResponse, error) {
	start := time.Now()
	ef, err := e.effectiveFilter(principal, indexName, types.OpGet)
	if err != nil {
		return nil, err
	}
	resp, suppressed, err := e.termVectorsOne(ef, indexName, docType, id)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRequest("termvectors", time.Since(start))
	e.auditScoped(principal, indexName, "termvectors", ef, suppressed)
	return resp, nil
}

// MultiTermVectors computes term statistics for several documents,
// gating each one independently. Item-level failures are reported in
// place like MultiGet.
func (e *Engine) MultiTermVectors(ctx context.Context, principal *types.Principal, refs []DocRef) ([]*TermVectorsResponse, error) {
	start := time.Now()
	out := make([]*TermVectorsResponse, 0, len(refs))
	suppressedByIndex := map[string]int{}
	filters := map[string]dls.EffectiveFilter{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ef, ok := filters[ref.Index]
		if !ok {
			var err error
			ef, err = e.effectiveFilter(principal, ref.Index, types.OpGet)
			if err != nil {
				out = append(out, &TermVectorsResponse{Index: ref.Index, Type: ref.Type, ID: ref.ID, Error: err.Error()})
				continue
			}
			filters[ref.Index] = ef
		}
		resp, suppressed, err := e.termVectorsOne(ef, ref.Index, ref.Type, ref.ID)
		if err != nil {
			out = append(out, &TermVectorsResponse{Index: ref.Index, Type: ref.Type, ID: ref.ID, Error: err.Error()})
			continue
		}
		suppressedByIndex[ref.Index] += suppressed
		out = append(out, resp)
	}
	e.metrics.RecordRequest("mtermvectors", time.Since(start))
	for idx, n := range suppressedByIndex {
		e.auditScoped(principal, idx, "mtermvectors", filters[idx], n)
	}
	return out, nil
}

func (e *Engine) termVectorsOne(ef dls.EffectiveFilter, indexName, docType, id string) (*TermVectorsResponse, int, error) {
	resp := &TermVectorsResponse{Index: indexName, Type: docType, ID: id}
	doc, err := e.store.Get(indexName, docType, id)
	if err != nil {
		return nil, 0, err
	}
	if doc == nil {
		return resp, 0, nil
	}
	if !dls.Visible(doc, ef) {
		return resp, 1, nil
	}
	resp.Found = true
	resp.Terms = termVectors(doc)
	return resp, 0, nil
}

// termVectors tokenizes field values on whitespace, lowercased.
func termVectors(doc *types.Document) map[string]map[string]int {
	vectors := make(map[string]map[string]int, len(doc.Fields))
	for _, field := range doc.FieldNames() {
		value, _ := doc.Field(field)
		freqs := map[string]int{}
		for _, tok := range strings.Fields(strings.ToLower(value)) {
			freqs[tok]++
		}
		vectors[field] = freqs
	}
	return vectors
}
