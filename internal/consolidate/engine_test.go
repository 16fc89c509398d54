package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/factstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
	"github.com/athenamind/athena/internal/provider"
	"github.com/athenamind/athena/internal/storage"
	"github.com/athenamind/athena/internal/vectorindex"
)

func newTestEngine(t *testing.T, cfg Config, validator provider.LLMValidator) (*Engine, *eventlog.Store) {
	return newTestEngineWithEmbedder(t, cfg, validator, nil)
}

func newTestEngineWithEmbedder(t *testing.T, cfg Config, validator provider.LLMValidator, emb provider.EmbeddingProvider) (*Engine, *eventlog.Store) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "consolidate.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := eventlog.New(db.Writer(), db.Reader())
	facts := factstore.New(db.Writer(), db.Reader(), vectorindex.NewMemoryIndex(), nil)
	procedures := procedure.New(db.Writer(), db.Reader(), events)
	meta := metastore.New(db.Writer(), db.Reader())

	return New(cfg, events, facts, nil, procedures, meta, emb, validator, nil), events
}

// constantEmbedder maps every text to the same unit vector, so coherence
// (mean pairwise cosine) is deterministically 1 regardless of wording --
// used to pin Stage C's uncertainty to 0 without depending on lexical
// overlap between distinctly worded steps.
type constantEmbedder struct{}

func (constantEmbedder) Dimension() int { return 1 }

func (constantEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func seedRepeatedPattern(t *testing.T, events *eventlog.Store, base time.Time, sessions int) {
	t.Helper()
	ctx := context.Background()
	for s := 0; s < sessions; s++ {
		sessionID := "sess-" + string(rune('a'+s))
		t0 := base.Add(time.Duration(s) * time.Hour)
		steps := []string{"open ticket", "investigate logs", "deploy fix"}
		for i, desc := range steps {
			d := eventlog.Draft{
				Timestamp:   t0.Add(time.Duration(i) * time.Minute),
				SessionID:   sessionID,
				EventType:   "task_step",
				Description: desc,
			}
			if _, err := events.Insert(ctx, d, "", 1); err != nil {
				t.Fatalf("insert event: %v", err)
			}
		}
	}
}

// TestRunFastPathNoLLMCalls covers the scenario where every candidate's
// uncertainty stays under the slow-path threshold: no validator call
// happens, and the repeated three-step pattern is written as a fact.
func TestRunFastPathNoLLMCalls(t *testing.T) {
	cfg := ProfileConfig(ProfileSpeed) // high tau_slow: everything resolves on the fast path
	cfg.ReferenceSupport = 2
	engine, events := newTestEngineWithEmbedder(t, cfg, failingValidator{t: t}, constantEmbedder{})

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	seedRepeatedPattern(t, events, base, 3)

	res, err := engine.Run(context.Background(), "ops", base.Add(-time.Hour), base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Facts) == 0 {
		t.Fatalf("expected at least one fact written, got none: %+v", res)
	}
	if res.SlowPathCalls != 0 {
		t.Fatalf("expected no slow path calls, got %d", res.SlowPathCalls)
	}
}

// failingValidator fails the test if Validate is ever called, for
// asserting a run stayed entirely on the fast path.
type failingValidator struct{ t *testing.T }

func (f failingValidator) Validate(ctx context.Context, prompt string, schema map[string]any) (provider.Verdict, error) {
	f.t.Fatalf("unexpected slow-path validator call with prompt: %s", prompt)
	return provider.Verdict{}, nil
}

// fixedVerdictValidator always returns the configured verdict and counts
// calls, for asserting slow-path routing and meta recording.
type fixedVerdictValidator struct {
	verdict provider.Verdict
	calls   int
}

func (v *fixedVerdictValidator) Validate(ctx context.Context, prompt string, schema map[string]any) (provider.Verdict, error) {
	v.calls++
	return v.verdict, nil
}

// TestRunSlowPathRoutesUncertainCandidates forces a low tau_slow (quality
// profile) so candidates route to the LLM validator; an invalid verdict
// must drop the candidate without writing a fact, and slow_path_calls must
// be recorded in the meta store.
func TestRunSlowPathRoutesUncertainCandidates(t *testing.T) {
	cfg := ProfileConfig(ProfileQuality)
	cfg.ReferenceSupport = 50 // keeps support_strength low so uncertainty clears tau_slow
	validator := &fixedVerdictValidator{verdict: provider.Verdict{Decision: provider.VerdictInvalid}}
	engine, events := newTestEngine(t, cfg, validator)

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	seedRepeatedPattern(t, events, base, 2)

	res, err := engine.Run(context.Background(), "ops", base.Add(-time.Hour), base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if validator.calls == 0 {
		t.Fatalf("expected at least one slow-path validator call")
	}
	if res.SlowPathCalls != validator.calls {
		t.Fatalf("expected result SlowPathCalls %d to match validator calls %d", res.SlowPathCalls, validator.calls)
	}
	if len(res.Facts) != 0 {
		t.Fatalf("expected invalid verdicts to drop all candidates, got facts: %+v", res.Facts)
	}

	mean, found, err := engine.meta.Latest(context.Background(), "C7", "ops", metastore.MetricSlowPathCalls)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !found {
		t.Fatalf("expected slow_path_calls metric to be recorded")
	}
	if mean != float64(validator.calls) {
		t.Fatalf("expected recorded slow_path_calls %v, got %v", validator.calls, mean)
	}
}

// TestRunIsIdempotentAcrossRepeatedRuns covers invariant 9: running
// consolidation twice over the identical window with a cached validator
// must not duplicate facts.
func TestRunIsIdempotentAcrossRepeatedRuns(t *testing.T) {
	cfg := ProfileConfig(ProfileSpeed)
	cfg.ReferenceSupport = 2
	engine, events := newTestEngineWithEmbedder(t, cfg, failingValidator{t: t}, constantEmbedder{})

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	seedRepeatedPattern(t, events, base, 3)

	from, to := base.Add(-time.Hour), base.Add(6*time.Hour)
	first, err := engine.Run(context.Background(), "ops", from, to)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.Facts) == 0 {
		t.Fatalf("expected facts written on first run")
	}

	second, err := engine.Run(context.Background(), "ops", from, to)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Facts) != 0 {
		t.Fatalf("expected second run over the same window to write no new facts, got %+v", second.Facts)
	}
}

// TestRunAlreadyRunningOnOverlap covers the per-window exclusion lock: a
// concurrent call for the identical window must fail fast rather than
// double-process it.
func TestRunAlreadyRunningOnOverlap(t *testing.T) {
	cfg := DefaultConfig
	engine, _ := newTestEngine(t, cfg, nil)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	key := windowKey("ops", from, to)
	if !engine.acquire(key) {
		t.Fatalf("expected to acquire fresh window lock")
	}
	defer engine.release(key)

	_, err := engine.Run(context.Background(), "ops", from, to)
	if envelope.KindOf(err) != envelope.KindAlreadyRunning {
		t.Fatalf("expected AlreadyRunning, got %v", err)
	}
}

// TestRunNoValidatorDefersSlowPathCandidates ensures a nil validator
// defers rather than silently drops or blocks slow-path candidates.
func TestRunNoValidatorDefersSlowPathCandidates(t *testing.T) {
	cfg := ProfileConfig(ProfileQuality)
	cfg.ReferenceSupport = 50
	engine, events := newTestEngine(t, cfg, nil)

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	seedRepeatedPattern(t, events, base, 2)

	res, err := engine.Run(context.Background(), "ops", base.Add(-time.Hour), base.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Deferred) == 0 {
		t.Fatalf("expected slow-path candidates to be deferred without a validator")
	}
	if res.SlowPathCalls != 0 {
		t.Fatalf("expected zero slow path calls with nil validator, got %d", res.SlowPathCalls)
	}
}
