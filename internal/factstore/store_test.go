package factstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/storage"
	"github.com/athenamind/athena/internal/vectorindex"
)

// fakeEmbedder returns a deterministic one-hot-ish embedding based on which
// fixed vocabulary words appear in the text, so cosine similarity between
// related sentences is meaningfully higher than unrelated ones.
type fakeEmbedder struct {
	dim   int
	fail  bool
	vocab []string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		dim:   4,
		vocab: []string{"database", "deploy", "rollback", "weather"},
	}
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, envelope.New(envelope.KindDependencyUnavailable, "embedder down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		for j, word := range f.vocab {
			if contains(text, word) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T, emb embedder) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "facts.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	index := vectorindex.NewMemoryIndex()
	return New(db.Writer(), db.Reader(), index, emb), db
}

func TestStoreFactAndSearchHybridRanking(t *testing.T) {
	emb := newFakeEmbedder()
	store, _ := newTestStore(t, emb)
	ctx := context.Background()

	_, err := store.StoreFact(ctx, "the database migration rolled back cleanly", "ops", nil, 0.6)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}
	_, err = store.StoreFact(ctx, "the deploy pipeline triggers a rollback on failure", "ops", nil, 0.5)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}
	_, err = store.StoreFact(ctx, "the weather today is sunny", "smalltalk", nil, 0.9)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}

	results, vectorDisabled, err := store.Search(ctx, "rollback", 2, DefaultWeights)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if vectorDisabled {
		t.Fatalf("expected vector search enabled")
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	for _, r := range results {
		if r.Fact.Domain == "smalltalk" {
			t.Fatalf("unrelated fact ranked in top results: %+v", r)
		}
	}
}

func TestSearchDegradesWhenEmbedderFails(t *testing.T) {
	emb := newFakeEmbedder()
	store, _ := newTestStore(t, emb)
	ctx := context.Background()

	if _, err := store.StoreFact(ctx, "the database migration rolled back cleanly", "ops", nil, 0.6); err != nil {
		t.Fatalf("store fact: %v", err)
	}

	emb.fail = true
	results, vectorDisabled, err := store.Search(ctx, "database", 5, DefaultWeights)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !vectorDisabled {
		t.Fatalf("expected vector_disabled flag set when embedder fails")
	}
	if len(results) == 0 {
		t.Fatalf("expected lexical-only fallback to still return results")
	}
}

func TestSearchWithNoEmbedderIsLexicalOnly(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.StoreFact(ctx, "the database migration rolled back cleanly", "ops", nil, 0.6); err != nil {
		t.Fatalf("store fact: %v", err)
	}

	results, vectorDisabled, err := store.Search(ctx, "database", 5, DefaultWeights)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !vectorDisabled {
		t.Fatalf("expected vector_disabled with no embedder configured")
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestReinforceSupportIncreasesConfidence(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	f, err := store.StoreFact(ctx, "fact under test", "ops", nil, 0.5)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}

	updated, err := store.Reinforce(ctx, f.ID, 1, 0, 0.25)
	if err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	if updated <= f.Confidence {
		t.Fatalf("expected confidence to increase, got %f -> %f", f.Confidence, updated)
	}
}

func TestReinforceContradictionWeighsDouble(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	fSupport, _ := store.StoreFact(ctx, "fact a", "ops", nil, 0.5)
	fContradict, _ := store.StoreFact(ctx, "fact b", "ops", nil, 0.5)

	afterSupport, err := store.Reinforce(ctx, fSupport.ID, 1, 0, 0.25)
	if err != nil {
		t.Fatalf("reinforce support: %v", err)
	}
	afterContradict, err := store.Reinforce(ctx, fContradict.ID, 0, 1, 0.25)
	if err != nil {
		t.Fatalf("reinforce contradict: %v", err)
	}

	supportDelta := afterSupport - 0.5
	contradictDelta := 0.5 - afterContradict
	if contradictDelta <= supportDelta {
		t.Fatalf("expected a single contradiction to move confidence more than a single support: support delta %f, contradict delta %f", supportDelta, contradictDelta)
	}
}

func TestReinforceClampsToBounds(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	f, _ := store.StoreFact(ctx, "always supported", "ops", nil, 0.99)
	for i := 0; i < 50; i++ {
		var err error
		_, err = store.Reinforce(ctx, f.ID, 10, 0, 0.25)
		if err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}
	updated, err := store.Reinforce(ctx, f.ID, 10, 0, 0.25)
	if err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	if updated > 0.99 {
		t.Fatalf("confidence exceeded clamp: %f", updated)
	}
}

func TestPurgeRemovesLowConfidenceAgedFacts(t *testing.T) {
	store, db := newTestStore(t, nil)
	ctx := context.Background()
	_ = db

	old := time.Now().Add(-48 * time.Hour)
	store.now = func() time.Time { return old }
	stale, err := store.StoreFact(ctx, "a stale low confidence claim", "ops", nil, 0.05)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}

	store.now = time.Now
	fresh, err := store.StoreFact(ctx, "a fresh low confidence claim", "ops", nil, 0.05)
	if err != nil {
		t.Fatalf("store fact: %v", err)
	}

	removed, err := store.Purge(ctx, 0.1, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 fact purged, got %d", removed)
	}

	if _, err := store.get(ctx, stale.ID); envelope.KindOf(err) != envelope.KindNotFound {
		t.Fatalf("expected stale fact removed, got err=%v", err)
	}
	if _, err := store.get(ctx, fresh.ID); err != nil {
		t.Fatalf("expected fresh fact retained, got err=%v", err)
	}
}

func TestStoreFactRejectsMissingFields(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := store.StoreFact(ctx, "", "ops", nil, 0.5); envelope.KindOf(err) != envelope.KindInvalidInput {
		t.Fatalf("expected InvalidInput for empty content, got %v", err)
	}
	if _, err := store.StoreFact(ctx, "content", "ops", nil, 1.5); envelope.KindOf(err) != envelope.KindInvalidInput {
		t.Fatalf("expected InvalidInput for out-of-range confidence, got %v", err)
	}
}
