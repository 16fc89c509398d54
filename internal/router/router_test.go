package router

import (
	"context"
	"testing"
)

type fakeSearcher struct {
	items []Item
}

func (f fakeSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	if k > 0 && len(f.items) > k {
		return f.items[:k], false, nil
	}
	return f.items, false, nil
}

func fixedRouter() *Router {
	fact := fakeSearcher{items: []Item{
		{Layer: LayerFact, ID: "f1", Title: "fact one", Score: 0.9},
		{Layer: LayerFact, ID: "f2", Title: "fact two", Score: 0.5},
	}}
	event := fakeSearcher{items: []Item{
		{Layer: LayerEvent, ID: "e1", Title: "event one", Score: 0.6},
		{Layer: LayerEvent, ID: "e2", Title: "event two", Score: 0.6},
	}}
	graph := fakeSearcher{items: []Item{
		{Layer: LayerGraph, ID: "g1", Title: "entity one", Score: 0.4},
	}}
	return New(map[Layer]Searcher{LayerFact: fact, LayerEvent: event, LayerGraph: graph})
}

// TestQueryDeterminism covers invariant 7: query(q) twice on unchanged
// state returns the same ordered ids.
func TestQueryDeterminism(t *testing.T) {
	r := fixedRouter()
	q := Query{Text: "anything", K: 10}

	first, err := r.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	second, err := r.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(first.Items) != len(second.Items) {
		t.Fatalf("result length changed across identical queries: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if first.Items[i].ID != second.Items[i].ID {
			t.Fatalf("order changed at index %d: %s vs %s", i, first.Items[i].ID, second.Items[i].ID)
		}
	}
}

// TestQueryPaginationRoundTrip covers invariant 8: iterating pages with
// next_cursor returns each item exactly once, in the documented order.
func TestQueryPaginationRoundTrip(t *testing.T) {
	r := fixedRouter()

	seen := make(map[string]bool)
	var order []string
	cursor := ""
	for page := 0; page < 10; page++ {
		res, err := r.Query(context.Background(), Query{Text: "anything", K: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("query page %d: %v", page, err)
		}
		for _, it := range res.Items {
			if seen[it.ID] {
				t.Fatalf("item %s returned more than once across pages", it.ID)
			}
			seen[it.ID] = true
			order = append(order, it.ID)
		}
		if !res.HasMore {
			break
		}
		cursor = res.NextCursor
	}

	full, err := r.Query(context.Background(), Query{Text: "anything", K: 100})
	if err != nil {
		t.Fatalf("full query: %v", err)
	}
	if len(order) != len(full.Items) {
		t.Fatalf("paginated total %d != full query total %d", len(order), len(full.Items))
	}
	for i, it := range full.Items {
		if order[i] != it.ID {
			t.Fatalf("pagination order mismatch at %d: got %s want %s", i, order[i], it.ID)
		}
	}
}

// TestClassifyRoutesIntentKeywords spot-checks the classifier's keyword
// mapping for each intent bucket.
func TestClassifyRoutesIntentKeywords(t *testing.T) {
	cases := []struct {
		query string
		want  Layer
	}{
		{"what happened yesterday", LayerEvent},
		{"what is the deploy process", LayerFact},
		{"how is service A related to service B", LayerGraph},
		{"how do I deploy the service", LayerProcedure},
		{"how confident are we about this", LayerMeta},
	}
	for _, c := range cases {
		layers, _ := classify(c.query)
		if len(layers) != 1 || layers[0] != c.want {
			t.Fatalf("classify(%q) = %v, want [%s]", c.query, layers, c.want)
		}
	}
}

// TestClassifyDefaultsToFanout covers the else branch: unmatched queries
// fan out to {C2, C1, C5}.
func TestClassifyDefaultsToFanout(t *testing.T) {
	layers, _ := classify("tell me something")
	want := map[Layer]bool{LayerFact: true, LayerEvent: true, LayerGraph: true}
	if len(layers) != len(want) {
		t.Fatalf("expected %d layers, got %v", len(want), layers)
	}
	for _, l := range layers {
		if !want[l] {
			t.Fatalf("unexpected layer in default fanout: %s", l)
		}
	}
}

// TestRenormalizeHandlesDegenerateLayer ensures a layer whose items share
// one raw score doesn't collapse to 0 under min-max scaling.
func TestRenormalizeHandlesDegenerateLayer(t *testing.T) {
	items := []Item{
		{Layer: LayerEvent, ID: "a", Score: 0.6},
		{Layer: LayerEvent, ID: "b", Score: 0.6},
	}
	out := renormalize(items)
	for _, it := range out {
		if it.Score != 1 {
			t.Fatalf("expected degenerate layer score to normalize to 1, got %v", it.Score)
		}
	}
}

// TestMergeSortTieBreaksByPriorityThenID ensures a deterministic order
// when normalized scores tie across layers.
func TestMergeSortTieBreaksByPriorityThenID(t *testing.T) {
	items := []Item{
		{Layer: LayerEvent, ID: "e1", Score: 0.5},
		{Layer: LayerFact, ID: "f1", Score: 0.5},
		{Layer: LayerGraph, ID: "g1", Score: 0.5},
	}
	priority := Priority{LayerGraph, LayerFact, LayerEvent}
	out := mergeSort(items, priority)
	want := []string{"g1", "f1", "e1"}
	for i, id := range want {
		if out[i].ID != id {
			t.Fatalf("index %d: got %s, want %s", i, out[i].ID, id)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for offset := 0; offset < 5; offset++ {
		c := EncodeCursor(offset)
		got, err := DecodeCursor(c)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != offset {
			t.Fatalf("roundtrip offset mismatch: got %d want %d", got, offset)
		}
	}
	if _, err := DecodeCursor("not-a-valid-cursor!!"); err == nil {
		t.Fatalf("expected error decoding malformed cursor")
	}
}
