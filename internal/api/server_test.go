package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/auth"
	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/engine"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/internal/roles"
	"github.com/dls-engine/go-core/pkg/types"
)

const serverRoles = `
role1:
  indices:
    "*":
      privileges: all
      query:
        term: {field1: value1}
role2:
  indices:
    "*":
      privileges: all
      query:
        term: {field2: value2}
`

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()

	snap, err := roles.NewLoader(zap.NewNop()).Load([]byte(serverRoles))
	if err != nil {
		t.Fatalf("Failed to load roles: %v", err)
	}
	roleStore := roles.NewStore(zap.NewNop())
	roleStore.Swap(snap)

	eng := engine.New(
		index.NewStore(zap.NewNop()),
		dls.NewResolver(roleStore, zap.NewNop()),
		zap.NewNop(),
		engine.Config{},
	)

	authenticator := auth.NewAuthenticator(zap.NewNop())
	if err := authenticator.AddUser("user1", "passwd1", []string{"role1"}); err != nil {
		t.Fatalf("Failed to add user: %v", err)
	}
	if err := authenticator.AddUser("user2", "passwd2", []string{"role2"}); err != nil {
		t.Fatalf("Failed to add user: %v", err)
	}

	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "dls-test", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token issuer: %v", err)
	}

	srv, err := New(DefaultConfig(), eng, authenticator, zap.NewNop(), Options{Tokens: tokens})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv, eng
}

func seedServerDocs(t *testing.T, eng *engine.Engine) {
	t.Helper()
	docs := []*types.Document{
		{Index: "test", Type: "type1", ID: "1", Fields: map[string]string{"field1": "value1"}},
		{Index: "test", Type: "type1", ID: "2", Fields: map[string]string{"field2": "value2"}},
	}
	for _, doc := range docs {
		if err := eng.Index(doc); err != nil {
			t.Fatalf("Failed to index document: %v", err)
		}
	}
}

func doRequest(srv *Server, method, path, user, password string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.SetBasicAuth(user, password)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestServer_RequiresAuthentication(t *testing.T) {
	srv, eng := newTestServer(t)
	seedServerDocs(t, eng)

	w := doRequest(srv, "POST", "/api/v1/indices/test/_search", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}

	w = doRequest(srv, "POST", "/api/v1/indices/test/_search", "user1", "wrong", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad password, got %d", w.Code)
	}

	w = doRequest(srv, "POST", "/api/v1/indices/test/_search", "nobody", "passwd1", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown user, got %d", w.Code)
	}
}

func TestServer_SearchFiltersPerUser(t *testing.T) {
	srv, eng := newTestServer(t)
	seedServerDocs(t, eng)

	w := doRequest(srv, "POST", "/api/v1/indices/test/_search", "user1", "passwd1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp engine.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].ID != "1" {
		t.Errorf("Expected only hit 1 for user1, got %+v", resp)
	}
}

func TestServer_BearerToken(t *testing.T) {
	srv, eng := newTestServer(t)
	seedServerDocs(t, eng)

	token, err := srv.tokens.Issue(&types.Principal{ID: "user2", Roles: []string{"role2"}})
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/indices/test/_count", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["count"] != 1 {
		t.Errorf("Expected count 1 for user2, got %d", resp["count"])
	}
}

func TestServer_GetHidesInvisibleDocument(t *testing.T) {
	srv, eng := newTestServer(t)
	seedServerDocs(t, eng)

	// Invisible and absent documents produce the same status and shape.
	invisible := doRequest(srv, "GET", "/api/v1/indices/test/type1/1", "user2", "passwd2", nil)
	absent := doRequest(srv, "GET", "/api/v1/indices/test/type1/missing", "user2", "passwd2", nil)

	if invisible.Code != http.StatusNotFound || absent.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for both, got %d and %d", invisible.Code, absent.Code)
	}
	var a, b engine.GetResponse
	if err := json.Unmarshal(invisible.Body.Bytes(), &a); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if err := json.Unmarshal(absent.Body.Bytes(), &b); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if a.Found || b.Found || a.Fields != nil {
		t.Errorf("Invisible document leaked: %+v", a)
	}
}

func TestServer_IndexAndSearchRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "PUT", "/api/v1/indices/test/type1/9", "user1", "passwd1",
		map[string]interface{}{"fields": map[string]string{"field1": "value1"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(srv, "POST", "/api/v1/indices/test/_search", "user1", "passwd1",
		map[string]interface{}{"query": map[string]interface{}{"term": map[string]string{"field1": "value1"}}})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp engine.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Hits[0].ID != "9" {
		t.Errorf("Expected hit 9, got %+v", resp)
	}
}

func TestServer_MultiGet(t *testing.T) {
	srv, eng := newTestServer(t)
	seedServerDocs(t, eng)

	w := doRequest(srv, "POST", "/api/v1/_mget", "user1", "passwd1", map[string]interface{}{
		"docs": []map[string]string{
			{"_index": "test", "_type": "type1", "_id": "1"},
			{"_index": "test", "_type": "type1", "_id": "2"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Docs []engine.GetResponse `json:"docs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Docs) != 2 || !resp.Docs[0].Found || resp.Docs[1].Found {
		t.Errorf("Expected [found, not found], got %+v", resp.Docs)
	}
}

func TestServer_PercolateAndIndexCycle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "PUT", "/api/v1/indices/test/.percolator/1", "user1", "passwd1",
		map[string]interface{}{"fields": map[string]string{
			"query":  `{"term": {"source": "alpha"}}`,
			"field1": "value1",
		}})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	percolate := func() *httptest.ResponseRecorder {
		return doRequest(srv, "POST", "/api/v1/indices/test/_percolate", "user1", "passwd1",
			map[string]interface{}{"doc_type": "type1", "doc": map[string]string{"source": "alpha"}})
	}

	w = percolate()
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp engine.PercolateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Matches[0] != "1" {
		t.Errorf("Expected match [1], got %+v", resp)
	}

	if w := doRequest(srv, "POST", "/api/v1/indices/test/_close", "user1", "passwd1", nil); w.Code != http.StatusOK {
		t.Fatalf("Failed to close index: %d", w.Code)
	}
	if w := percolate(); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 against closed index, got %d", w.Code)
	}
	if w := doRequest(srv, "POST", "/api/v1/indices/test/_open", "user1", "passwd1", nil); w.Code != http.StatusOK {
		t.Fatalf("Failed to open index: %d", w.Code)
	}

	w = percolate()
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 after reopen, got %d", w.Code)
	}
	resp = engine.PercolateResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("Expected stored query to survive the close/open cycle, got %+v", resp)
	}
}

func TestServer_HealthIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, "GET", "/health", "", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for unauthenticated health check, got %d", w.Code)
	}
}
