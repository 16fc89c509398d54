package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/athenamind/athena/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db.Writer(), db.Reader())
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "C2", "infra", MetricConsistency, 0.9); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, "C2", "infra", MetricConsistency, 0.7); err != nil {
		t.Fatalf("record: %v", err)
	}

	summary, err := s.Summary(ctx, Filters{Layer: "C2", Domain: "infra"})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(summary))
	}
	if summary[0].Count != 2 {
		t.Errorf("expected count 2, got %d", summary[0].Count)
	}
	if got, want := summary[0].Mean, 0.8; got < want-0.001 || got > want+0.001 {
		t.Errorf("mean = %v, want %v", got, want)
	}
}

func TestSummarySinceExcludesOlder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return past }
	if err := s.Record(ctx, "C1", "infra", "novelty", 0.5); err != nil {
		t.Fatalf("record: %v", err)
	}

	s.now = time.Now
	if err := s.Record(ctx, "C1", "infra", "novelty", 1.0); err != nil {
		t.Fatalf("record: %v", err)
	}

	summary, err := s.Summary(ctx, Filters{Since: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 1 || summary[0].Count != 1 {
		t.Fatalf("expected 1 aggregate with count 1 after Since filter, got %+v", summary)
	}
}

func TestLatestNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Latest(context.Background(), "C2", "infra", "missing")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing metric")
	}
}

func TestQualityHelpers(t *testing.T) {
	if got := CompressionRatio(100, 1000); got != 0.1 {
		t.Errorf("CompressionRatio = %v, want 0.1", got)
	}
	if got := CompressionRatio(100, 0); got != 0 {
		t.Errorf("CompressionRatio with 0 event bytes = %v, want 0", got)
	}
	if got := RecallAccuracy([]float64{0.9, 0.5, 0.7}, 0.6); got < 0.66 || got > 0.67 {
		t.Errorf("RecallAccuracy = %v, want ~0.667", got)
	}
	if got := ConsistencyScore(1, 10); got != 0.9 {
		t.Errorf("ConsistencyScore = %v, want 0.9", got)
	}
	if got := ConsistencyScore(0, 0); got != 1 {
		t.Errorf("ConsistencyScore with no pairs = %v, want 1", got)
	}
}
