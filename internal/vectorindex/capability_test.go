package vectorindex

import (
	"context"
	"testing"
)

func TestMemoryIndexKNN(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	if err := idx.Upsert(ctx, []Record{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Embedding: []float32{0, 1, 0}},
		{ID: "c", Embedding: []float32{0.9, 0.1, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ID != "a" {
		t.Fatalf("closest hit = %s, want a", hits[0].ID)
	}
}

func TestRebuildFromFactStore(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	source := []SourceFact{
		{ID: "f1", Embedding: []float32{1, 1, 0}},
		{ID: "f2", Embedding: []float32{0, 0, 1}},
	}
	if err := Rebuild(ctx, idx, source); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	hits, err := idx.KNN(ctx, []float32{1, 1, 0}, 1)
	if err != nil {
		t.Fatalf("knn: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "f1" {
		t.Fatalf("unexpected hits after rebuild: %+v", hits)
	}
}

func TestMemoryIndexDelete(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	idx.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}})
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	hits, _ := idx.KNN(ctx, []float32{1, 0}, 5)
	if len(hits) != 0 {
		t.Fatalf("expected no hits after delete, got %d", len(hits))
	}
}
