package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/engine"
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/pkg/types"
)

// searchBody is the request payload of _search and _count.
type searchBody struct {
	Query        json.RawMessage             `json:"query,omitempty"`
	Types        []string                    `json:"types,omitempty"`
	Aggregations []engine.AggregationRequest `json:"aggregations,omitempty"`
}

// percolateBody is the request payload of _percolate.
type percolateBody struct {
	DocType string            `json:"doc_type"`
	Doc     map[string]string `json:"doc"`
	Filter  json.RawMessage   `json:"filter,omitempty"`
}

// mdocsBody is the request payload of _mget and _mtermvectors.
type mdocsBody struct {
	Docs []engine.DocRef `json:"docs"`
}

// documentBody is the request payload of a document PUT.
type documentBody struct {
	Parent string            `json:"parent,omitempty"`
	Fields map[string]string `json:"fields"`
}

// parseQuery turns an optional raw JSON query into a filter AST node.
func parseQuery(raw json.RawMessage) (filter.Query, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return filter.ParseRaw(string(raw))
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON payload")
		return false
	}
	return true
}

// respondEngineError maps engine errors onto HTTP statuses. Visibility is
// never an error condition, so nothing here distinguishes a filtered
// document from an absent one.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrIndexNotFound):
		s.respondError(w, http.StatusNotFound, "INDEX_NOT_FOUND", err.Error())
	case errors.Is(err, index.ErrIndexClosed):
		s.respondError(w, http.StatusBadRequest, "INDEX_CLOSED", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "REQUEST_FAILED", err.Error())
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	indexName := mux.Vars(r)["index"]
	var body searchBody
	if r.ContentLength > 0 && !s.decodeBody(w, r, &body) {
		return
	}
	query, err := parseQuery(body.Query)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	resp, err := s.engine.Search(r.Context(), principalFrom(r), engine.SearchRequest{
		Index:        indexName,
		Types:        body.Types,
		Query:        query,
		Aggregations: body.Aggregations,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	indexName := mux.Vars(r)["index"]
	var body searchBody
	if r.ContentLength > 0 && !s.decodeBody(w, r, &body) {
		return
	}
	query, err := parseQuery(body.Query)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	n, err := s.engine.Count(r.Context(), principalFrom(r), engine.SearchRequest{
		Index: indexName,
		Types: body.Types,
		Query: query,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resp, err := s.engine.Get(r.Context(), principalFrom(r), vars["index"], vars["type"], vars["id"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	status := http.StatusOK
	if !resp.Found {
		status = http.StatusNotFound
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) multiGet(w http.ResponseWriter, r *http.Request) {
	var body mdocsBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	out, err := s.engine.MultiGet(r.Context(), principalFrom(r), body.Docs)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"docs": out})
}

func (s *Server) termVectors(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resp, err := s.engine.TermVectors(r.Context(), principalFrom(r), vars["index"], vars["type"], vars["id"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) multiTermVectors(w http.ResponseWriter, r *http.Request) {
	var body mdocsBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	out, err := s.engine.MultiTermVectors(r.Context(), principalFrom(r), body.Docs)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"docs": out})
}

func (s *Server) percolate(w http.ResponseWriter, r *http.Request) {
	indexName := mux.Vars(r)["index"]
	var body percolateBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	prefilter, err := parseQuery(body.Filter)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	resp, err := s.engine.Percolate(r.Context(), principalFrom(r), engine.PercolateRequest{
		Index:   indexName,
		DocType: body.DocType,
		Doc:     body.Doc,
		Filter:  prefilter,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) indexDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body documentBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	doc := &types.Document{
		Index:  vars["index"],
		Type:   vars["type"],
		ID:     vars["id"],
		Parent: body.Parent,
		Fields: body.Fields,
	}
	if err := s.engine.Index(doc); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.logger.Debug("Document indexed",
		zap.String("index", doc.Index), zap.String("type", doc.Type), zap.String("id", doc.ID))
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"_index": doc.Index,
		"_type":  doc.Type,
		"_id":    doc.ID,
	})
}

func (s *Server) closeIndex(w http.ResponseWriter, r *http.Request) {
	indexName := mux.Vars(r)["index"]
	if err := s.engine.CloseIndex(indexName); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func (s *Server) openIndex(w http.ResponseWriter, r *http.Request) {
	indexName := mux.Vars(r)["index"]
	if err := s.engine.OpenIndex(indexName); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}
