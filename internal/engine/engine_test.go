package engine

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/dls"
	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/internal/index"
	"github.com/dls-engine/go-core/internal/roles"
	"github.com/dls-engine/go-core/pkg/types"
)

const testRoles = `
role1:
  cluster: all
  indices:
    "*":
      privileges: all
      query:
        term: {field1: value1}
role2:
  cluster: all
  indices:
    "*":
      privileges: all
      query: '{"term": {"field2": "value2"}}'
open_role:
  indices:
    "*":
      privileges: all
`

var (
	user1    = &types.Principal{ID: "user1", Roles: []string{"role1"}}
	user2    = &types.Principal{ID: "user2", Roles: []string{"role2"}}
	user3    = &types.Principal{ID: "user3", Roles: []string{"role1", "role2"}}
	admin    = &types.Principal{ID: "admin", Roles: []string{"open_role"}}
	outsider = &types.Principal{ID: "outsider", Roles: nil}
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	snap, err := roles.NewLoader(zap.NewNop()).Load([]byte(testRoles))
	if err != nil {
		t.Fatalf("Failed to load roles: %v", err)
	}
	roleStore := roles.NewStore(zap.NewNop())
	roleStore.Swap(snap)
	resolver := dls.NewResolver(roleStore, zap.NewNop())
	return New(index.NewStore(zap.NewNop()), resolver, zap.NewNop(), Config{})
}

func mustIndex(t *testing.T, e *Engine, doc *types.Document) {
	t.Helper()
	if err := e.Index(doc); err != nil {
		t.Fatalf("Failed to index %s/%s/%s: %v", doc.Index, doc.Type, doc.ID, err)
	}
}

func seedDocs(t *testing.T, e *Engine) {
	t.Helper()
	mustIndex(t, e, &types.Document{Index: "test", Type: "type1", ID: "1", Fields: map[string]string{"field1": "value1"}})
	mustIndex(t, e, &types.Document{Index: "test", Type: "type1", ID: "2", Fields: map[string]string{"field2": "value2"}})
	mustIndex(t, e, &types.Document{Index: "test", Type: "type1", ID: "3", Fields: map[string]string{"field3": "value3"}})
}

func hitIDs(resp *SearchResponse) []string {
	ids := make([]string, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func equalIDs(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestSearch_PerPrincipalVisibility(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)
	ctx := context.Background()

	cases := []struct {
		principal *types.Principal
		want      []string
	}{
		{user1, []string{"1"}},
		{user2, []string{"2"}},
		{user3, []string{"1", "2"}},
		{admin, []string{"1", "2", "3"}},
		{outsider, []string{}},
	}
	for _, tc := range cases {
		resp, err := e.Search(ctx, tc.principal, SearchRequest{Index: "test"})
		if err != nil {
			t.Fatalf("Search as %s failed: %v", tc.principal.ID, err)
		}
		if !equalIDs(hitIDs(resp), tc.want) {
			t.Errorf("Search as %s: got hits %v, want %v", tc.principal.ID, hitIDs(resp), tc.want)
		}
		if resp.Total != int64(len(tc.want)) {
			t.Errorf("Search as %s: got total %d, want %d", tc.principal.ID, resp.Total, len(tc.want))
		}
	}
}

func TestSearch_QueryIntersectsFilter(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	// user1 may only see field1=value1 documents; asking for field2=value2
	// yields nothing even though the document exists.
	resp, err := e.Search(context.Background(), user1, SearchRequest{
		Index: "test",
		Query: &filter.Term{Field: "field2", Value: "value2"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Expected 0 hits, got %d", resp.Total)
	}
}

func TestSearch_FilterDoesNotAffectScore(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)
	ctx := context.Background()

	restricted, err := e.Search(ctx, user1, SearchRequest{Index: "test"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	unrestricted, err := e.Search(ctx, admin, SearchRequest{Index: "test"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if restricted.Hits[0].Score != unrestricted.Hits[0].Score {
		t.Errorf("Filter changed score: %f vs %f", restricted.Hits[0].Score, unrestricted.Hits[0].Score)
	}
}

func TestSearch_ClosedIndex(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)
	if err := e.CloseIndex("test"); err != nil {
		t.Fatalf("Failed to close index: %v", err)
	}
	_, err := e.Search(context.Background(), admin, SearchRequest{Index: "test"})
	if !errors.Is(err, index.ErrIndexClosed) {
		t.Errorf("Expected ErrIndexClosed, got %v", err)
	}
}

func TestCount(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	n, err := e.Count(context.Background(), user3, SearchRequest{Index: "test"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected count 2, got %d", n)
	}
}

func TestGet_InvisibleIndistinguishableFromAbsent(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)
	ctx := context.Background()

	invisible, err := e.Get(ctx, user2, "test", "type1", "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	absent, err := e.Get(ctx, user2, "test", "type1", "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if invisible.Found {
		t.Errorf("Expected found=false for invisible document")
	}
	if invisible.Fields != nil {
		t.Errorf("Invisible document leaked fields: %v", invisible.Fields)
	}
	// Same shape either way, only the requested id differs.
	if invisible.Found != absent.Found || (invisible.Fields == nil) != (absent.Fields == nil) {
		t.Errorf("Invisible and absent responses differ: %+v vs %+v", invisible, absent)
	}
}

func TestGet_VisibleDocument(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	resp, err := e.Get(context.Background(), user1, "test", "type1", "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !resp.Found {
		t.Fatalf("Expected found=true")
	}
	if resp.Fields["field1"] != "value1" {
		t.Errorf("Expected field1=value1, got %v", resp.Fields)
	}
}

func TestMultiGet_PerItemGating(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	refs := []DocRef{
		{Index: "test", Type: "type1", ID: "1"},
		{Index: "test", Type: "type1", ID: "2"},
		{Index: "test", Type: "type1", ID: "missing"},
	}
	out, err := e.MultiGet(context.Background(), user1, refs)
	if err != nil {
		t.Fatalf("MultiGet failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(out))
	}
	if !out[0].Found {
		t.Errorf("Expected item 1 found")
	}
	if out[1].Found || out[2].Found {
		t.Errorf("Expected items 2 and missing to report found=false")
	}
}

func TestMultiGet_BadIndexFailsOnlyThatItem(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	refs := []DocRef{
		{Index: "test", Type: "type1", ID: "1"},
		{Index: "no-such-index", Type: "type1", ID: "1"},
		{Index: "test", Type: "type1", ID: "3"},
	}
	out, err := e.MultiGet(context.Background(), admin, refs)
	if err != nil {
		t.Fatalf("MultiGet failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(out))
	}
	if !out[0].Found || !out[2].Found {
		t.Errorf("Expected surrounding items to resolve, got %+v and %+v", out[0], out[2])
	}
	if out[1].Error == "" || out[1].Found {
		t.Errorf("Expected item against missing index to carry an error, got %+v", out[1])
	}
}

func TestTermVectors_Gated(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)
	ctx := context.Background()

	visible, err := e.TermVectors(ctx, user1, "test", "type1", "1")
	if err != nil {
		t.Fatalf("TermVectors failed: %v", err)
	}
	if !visible.Found {
		t.Fatalf("Expected found=true")
	}
	if visible.Terms["field1"]["value1"] != 1 {
		t.Errorf("Expected term value1 with frequency 1, got %v", visible.Terms)
	}

	invisible, err := e.TermVectors(ctx, user2, "test", "type1", "1")
	if err != nil {
		t.Fatalf("TermVectors failed: %v", err)
	}
	if invisible.Found {
		t.Errorf("Expected found=false for invisible document")
	}
	if invisible.Terms != nil {
		t.Errorf("Invisible document leaked term statistics: %v", invisible.Terms)
	}
}

func TestMultiTermVectors_PerItemGating(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	refs := []DocRef{
		{Index: "test", Type: "type1", ID: "1"},
		{Index: "test", Type: "type1", ID: "2"},
	}
	out, err := e.MultiTermVectors(context.Background(), user2, refs)
	if err != nil {
		t.Fatalf("MultiTermVectors failed: %v", err)
	}
	if out[0].Found {
		t.Errorf("Expected first item found=false")
	}
	if !out[1].Found {
		t.Errorf("Expected second item found=true")
	}
	if out[1].Terms["field2"]["value2"] != 1 {
		t.Errorf("Expected term value2 with frequency 1, got %v", out[1].Terms)
	}
}

func TestGlobalAggregation_BoundedByVisibility(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	// A global aggregation escapes the query scope but not the caller's
	// visibility: user1 sees one document and field2 never occurs on it.
	resp, err := e.Search(context.Background(), user1, SearchRequest{
		Index: "test",
		Query: &filter.Term{Field: "field1", Value: "value1"},
		Aggregations: []AggregationRequest{{
			Name: "global", Kind: AggGlobal,
			Sub: []AggregationRequest{{Name: "field2", Kind: AggTerms, Field: "field2"}},
		}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	global := resp.Aggregations["global"]
	if global == nil {
		t.Fatalf("Missing global aggregation")
	}
	if global.DocCount != 1 {
		t.Errorf("Expected global doc_count 1, got %d", global.DocCount)
	}
	sub := global.Aggregations["field2"]
	if sub == nil {
		t.Fatalf("Missing sub-aggregation")
	}
	if len(sub.Buckets) != 0 {
		t.Errorf("Expected no buckets for invisible values, got %v", sub.Buckets)
	}
}

func TestGlobalAggregation_Unrestricted(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	resp, err := e.Search(context.Background(), admin, SearchRequest{
		Index: "test",
		Query: &filter.Term{Field: "field1", Value: "value1"},
		Aggregations: []AggregationRequest{{
			Name: "global", Kind: AggGlobal,
			Sub: []AggregationRequest{{Name: "field2", Kind: AggTerms, Field: "field2"}},
		}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	global := resp.Aggregations["global"]
	if global.DocCount != 3 {
		t.Errorf("Expected global doc_count 3, got %d", global.DocCount)
	}
	sub := global.Aggregations["field2"]
	if len(sub.Buckets) != 1 || sub.Buckets[0].Key != "value2" {
		t.Errorf("Expected one value2 bucket, got %v", sub.Buckets)
	}
}

func seedFamily(t *testing.T, e *Engine) {
	t.Helper()
	mustIndex(t, e, &types.Document{Index: "test", Type: "parent", ID: "p1", Fields: map[string]string{"field1": "value1"}})
	mustIndex(t, e, &types.Document{Index: "test", Type: "child", ID: "c1", Parent: "p1", Fields: map[string]string{"field2": "value2"}})
}

func TestHasChild_BothSidesMustBeVisible(t *testing.T) {
	e := newTestEngine(t)
	seedFamily(t, e)
	ctx := context.Background()
	query := &filter.HasChild{Type: "child", Query: &filter.Term{Field: "field2", Value: "value2"}}

	// user1 sees the parent but not the child: no hits.
	resp, err := e.Search(ctx, user1, SearchRequest{Index: "test", Types: []string{"parent"}, Query: query})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Expected 0 hits when the child is invisible, got %d", resp.Total)
	}

	// user3 sees both sides: the parent matches.
	resp, err = e.Search(ctx, user3, SearchRequest{Index: "test", Types: []string{"parent"}, Query: query})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !equalIDs(hitIDs(resp), []string{"p1"}) {
		t.Errorf("Expected hit p1, got %v", hitIDs(resp))
	}
}

func TestHasParent_BothSidesMustBeVisible(t *testing.T) {
	e := newTestEngine(t)
	seedFamily(t, e)
	ctx := context.Background()
	query := &filter.HasParent{ParentType: "parent", Query: &filter.Term{Field: "field1", Value: "value1"}}

	// user2 sees the child but not the parent: no hits.
	resp, err := e.Search(ctx, user2, SearchRequest{Index: "test", Types: []string{"child"}, Query: query})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Expected 0 hits when the parent is invisible, got %d", resp.Total)
	}

	resp, err = e.Search(ctx, user3, SearchRequest{Index: "test", Types: []string{"child"}, Query: query})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !equalIDs(hitIDs(resp), []string{"c1"}) {
		t.Errorf("Expected hit c1, got %v", hitIDs(resp))
	}
}

func TestChildrenAggregation_InvisibleChildrenCountZero(t *testing.T) {
	e := newTestEngine(t)
	seedFamily(t, e)

	resp, err := e.Search(context.Background(), user1, SearchRequest{
		Index: "test",
		Types: []string{"parent"},
		Aggregations: []AggregationRequest{{
			Name: "kids", Kind: AggChildren, ChildType: "child",
		}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("Expected the parent itself to be a hit, got %d", resp.Total)
	}
	kids := resp.Aggregations["kids"]
	if kids.DocCount != 0 {
		t.Errorf("Expected children doc_count 0 for invisible children, got %d", kids.DocCount)
	}

	resp, err = e.Search(context.Background(), user3, SearchRequest{
		Index: "test",
		Types: []string{"parent"},
		Aggregations: []AggregationRequest{{
			Name: "kids", Kind: AggChildren, ChildType: "child",
		}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.Aggregations["kids"].DocCount != 1 {
		t.Errorf("Expected children doc_count 1, got %d", resp.Aggregations["kids"].DocCount)
	}
}

func TestAggregation_UnknownKind(t *testing.T) {
	e := newTestEngine(t)
	seedDocs(t, e)

	_, err := e.Search(context.Background(), admin, SearchRequest{
		Index:        "test",
		Aggregations: []AggregationRequest{{Name: "x", Kind: "percentiles"}},
	})
	if err == nil {
		t.Fatalf("Expected error for unknown aggregation kind")
	}
}
