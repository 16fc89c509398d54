// Package consolidate implements C7, the dual-process consolidation
// engine: a fast statistical clustering/extraction pass (Stages A-D)
// gated by an uncertainty threshold, with an optional slow LLM-validation
// pass (Stage E) for uncertain candidates, and a fixed-order write-out
// (Stage F) into the fact, graph, procedure, and meta stores.
//
// Engine.Run wraps the stages in a single pkg/fn.Stage traced with
// fn.TracedStage, so each run is recorded as one OpenTelemetry span; the
// individual stages get no spans of their own.
package consolidate

import (
	"time"

	"github.com/athenamind/athena/internal/eventlog"
)

// Profile selects the threshold/effort tradeoff for a consolidation run.
type Profile string

const (
	ProfileBalanced Profile = "balanced"
	ProfileSpeed    Profile = "speed"
	ProfileQuality  Profile = "quality"
	ProfileMinimal  Profile = "minimal"
)

// Config holds the consolidator's tunable constants: the uncertainty
// threshold that gates the slow path, the per-run LLM budget and
// concurrency, and the internal clustering/extraction thresholds.
type Config struct {
	Profile Profile

	// TemporalWindow is the max gap between consecutive events that keeps
	// them in the same cluster (default 5m).
	TemporalWindow time.Duration
	// ClusterMergeSimilarity is the cosine threshold above which two
	// same-session clusters are merged during refinement (default 0.7).
	ClusterMergeSimilarity float32

	// MinSupport is the minimum number of clusters an n-gram must appear
	// in to become a frequent-sequence candidate (default 2).
	MinSupport int
	// CoOccurrenceThreshold is the minimum conditional probability for a
	// co-occurring event-type pair to become a candidate (default 0.7).
	// Only pairs are mined; event-type triples are not.
	CoOccurrenceThreshold float64
	// ReferenceSupport normalizes support_strength = min(1, |support| /
	// ReferenceSupport) (default 5).
	ReferenceSupport int

	// UncertaintySlowThreshold (τ_slow) gates Stage D: candidates with
	// uncertainty below this are accepted directly; at or above, they are
	// queued for slow-path validation.
	UncertaintySlowThreshold float32

	// MinSteps is the minimum template length for a candidate to also be
	// written as a procedure.
	MinSteps int

	// LLMBudget caps slow-path validator calls per run; overflow
	// candidates are deferred, never dropped.
	LLMBudget int
	// LLMInFlight bounds concurrent slow-path calls (default 4).
	LLMInFlight int
}

// DefaultConfig holds the named defaults under the balanced profile;
// ProfileConfig adjusts UncertaintySlowThreshold per profile.
var DefaultConfig = Config{
	Profile:                  ProfileBalanced,
	TemporalWindow:           5 * time.Minute,
	ClusterMergeSimilarity:   0.7,
	MinSupport:               2,
	CoOccurrenceThreshold:    0.7,
	ReferenceSupport:         5,
	UncertaintySlowThreshold: 0.5,
	MinSteps:                 2,
	LLMBudget:                10,
	LLMInFlight:              4,
}

// ProfileConfig returns DefaultConfig with UncertaintySlowThreshold set
// for the named profile: speed accepts more candidates directly (higher
// threshold), quality routes more to the LLM (lower threshold), minimal
// never invokes the slow path at all.
func ProfileConfig(p Profile) Config {
	cfg := DefaultConfig
	cfg.Profile = p
	switch p {
	case ProfileSpeed:
		cfg.UncertaintySlowThreshold = 0.7
	case ProfileQuality:
		cfg.UncertaintySlowThreshold = 0.3
	case ProfileMinimal:
		cfg.UncertaintySlowThreshold = 1.01 // above the maximum uncertainty of 1, so no candidate reaches it
	default:
		cfg.UncertaintySlowThreshold = 0.5
	}
	return cfg
}

// Cluster is a temporally- and semantically-coherent group of events
// (Stage A output).
type Cluster struct {
	SessionID string
	Events    []eventlog.Event
}

// Candidate is a pattern proposed by Stage B, scored by Stage C, and
// resolved (directly or via the LLM) by Stages D/E.
type Candidate struct {
	Summary           string
	Template          []string // ordered action list
	Support           []uint64 // source event ids
	CoOccurrenceStats map[string]float64
	Domain            string

	Coherence       float32
	SupportStrength float32
	Uncertainty     float32

	// SlowPathConfidence is set only if Stage E ran.
	SlowPathConfidence *float32
	// RoutedSlow reports whether this candidate went through Stage E.
	RoutedSlow bool
}

// WrittenFact records a fact written by Stage F, for callers/tests that
// want to inspect what consolidation produced without re-querying the
// fact store.
type WrittenFact struct {
	ID         string
	Content    string
	Confidence float32
}

// WrittenProcedure records a procedure written by Stage F.
type WrittenProcedure struct {
	ID    string
	Name  string
	Steps int
}

// Result is the consolidation run's accumulated output. Facts/Procedures/
// GraphEdges reflect exactly what was durably written, even on partial
// failure: a crash between writes leaves strictly less recorded, never
// inconsistent more.
type Result struct {
	Facts      []WrittenFact
	Procedures []WrittenProcedure
	GraphEdges int

	// Deferred holds candidates that would have required Stage E but
	// exceeded the per-run LLM budget, or found no validator configured
	// (then every slow-path candidate is deferred); callers should resubmit these in
	// the next run rather than treat them as rejected.
	Deferred []Candidate

	SlowPathCalls int
	VectorDisabled bool
	Partial        bool
}
