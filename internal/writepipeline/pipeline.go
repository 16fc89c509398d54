// Package writepipeline implements C10: fingerprinting, deduplication, and
// novelty scoring that gate every insertion into the event log (C1).
//
// The fingerprint/dedup-window check is modeled on the fingerprint-hit-count
// pattern used for request-cache detection elsewhere in the ecosystem
// (hash content, upsert a hit counter, treat a hit within a TTL as a
// duplicate) — generalized here from caching annotation to an outright
// reject-as-duplicate decision over events.
package writepipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
)

// Config holds the pipeline's tunable constants: the dedup window and the
// fingerprint time bucket.
type Config struct {
	// TimeBucket buckets the event timestamp before fingerprinting so that
	// near-simultaneous duplicates collide. Default 5s.
	TimeBucket time.Duration
	// DedupWindow is how long a fingerprint is considered "recent" for
	// dedup purposes. Default 60s.
	DedupWindow time.Duration
	// NoveltyRingSize is how many recent descriptions feed novelty scoring.
	NoveltyRingSize int
	// LowValueNoveltyFloor is the minimum novelty required to accept a
	// record flagged LowValue.
	LowValueNoveltyFloor float32
}

// DefaultConfig holds the pipeline's standard tuning defaults.
var DefaultConfig = Config{
	TimeBucket:           5 * time.Second,
	DedupWindow:          60 * time.Second,
	NoveltyRingSize:       1024,
	LowValueNoveltyFloor: 0.3,
}

// eventStore is the subset of *eventlog.Store the pipeline depends on.
type eventStore interface {
	Insert(ctx context.Context, d eventlog.Draft, fingerprint string, novelty float32) (eventlog.Event, error)
	FindByFingerprint(ctx context.Context, fingerprint string, since time.Time) (eventlog.Event, bool, error)
	RecentDescriptions(ctx context.Context, n int) ([]string, error)
}

// Pipeline is the write-side gate in front of the event log.
type Pipeline struct {
	store  eventStore
	cfg    Config
	now    func() time.Time
}

// New creates a Pipeline over the given event store.
func New(store eventStore, cfg Config) *Pipeline {
	if cfg.TimeBucket <= 0 {
		cfg.TimeBucket = DefaultConfig.TimeBucket
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultConfig.DedupWindow
	}
	if cfg.NoveltyRingSize <= 0 {
		cfg.NoveltyRingSize = DefaultConfig.NoveltyRingSize
	}
	if cfg.LowValueNoveltyFloor <= 0 {
		cfg.LowValueNoveltyFloor = DefaultConfig.LowValueNoveltyFloor
	}
	return &Pipeline{store: store, cfg: cfg, now: time.Now}
}

// DuplicateError carries the id of the event this draft duplicates.
type DuplicateError struct {
	ExistingID uint64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of event %d", e.ExistingID)
}

// RejectedError carries the reason a draft was rejected outright.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "rejected: " + e.Reason }

// RecordEvent computes the draft's fingerprint, checks the dedup window,
// scores novelty, and — if accepted — appends the event. RecordEvent is
// atomic: a failure mid-pipeline leaves no partial state, and duplicate
// detection never fails open (a fingerprint-lookup error is classified as
// DependencyUnavailable, never treated as "not a duplicate").
func (p *Pipeline) RecordEvent(ctx context.Context, d eventlog.Draft) (eventlog.Event, error) {
	if d.Description == "" || d.EventType == "" {
		return eventlog.Event{}, envelope.New(envelope.KindInvalidInput, "event_type and description are required")
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = p.now()
	}

	fp := p.fingerprint(d)

	since := d.Timestamp.Add(-p.cfg.DedupWindow)
	existing, found, err := p.store.FindByFingerprint(ctx, fp, since)
	if err != nil {
		return eventlog.Event{}, envelope.Wrap(envelope.KindDependencyUnavailable, "dedup lookup failed", err)
	}
	if found {
		return eventlog.Event{}, envelope.Wrap(envelope.KindDuplicate, "duplicate event", &DuplicateError{ExistingID: existing.ID})
	}

	novelty, err := p.noveltyScore(ctx, d.Description)
	if err != nil {
		return eventlog.Event{}, envelope.Wrap(envelope.KindInternal, "novelty scoring failed", err)
	}
	if d.LowValue && novelty < p.cfg.LowValueNoveltyFloor {
		return eventlog.Event{}, envelope.Wrap(envelope.KindInvalidInput, "low-value record below novelty floor", &RejectedError{Reason: "novelty below floor for low-value record"})
	}

	ev, err := p.store.Insert(ctx, d, fp, novelty)
	if err != nil {
		return eventlog.Event{}, err
	}
	return ev, nil
}

// fingerprint hashes (event_type, normalized_description, file, function,
// bucketed_timestamp).
func (p *Pipeline) fingerprint(d eventlog.Draft) string {
	bucket := d.Timestamp.Truncate(p.cfg.TimeBucket).Unix()
	norm := normalizeDescription(d.Description)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", d.EventType, norm, d.Context.File, d.Context.Function, bucket)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// noveltyScore computes 1 - max_similarity_to_recent_N(description) using a
// Jaccard-over-tokens similarity against the ring of recent descriptions.
// This is a deterministic lexical fallback; when an embedding provider is
// wired in (internal/consolidate composes this with vector similarity for
// its own clustering), the write pipeline itself stays provider-agnostic so
// that event ingest never depends on the embedding dependency's liveness.
func (p *Pipeline) noveltyScore(ctx context.Context, description string) (float32, error) {
	recent, err := p.store.RecentDescriptions(ctx, p.cfg.NoveltyRingSize)
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 {
		return 1.0, nil
	}
	target := tokenSet(description)
	var maxSim float32
	for _, r := range recent {
		sim := jaccard(target, tokenSet(r))
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim, nil
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float32 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}
