// Package eventlog implements C1, the append-only episodic event stream.
// Rows are created exclusively through internal/writepipeline and are never
// mutated after insert; they are only removed by consolidation's archival
// compression.
package eventlog

import "time"

// Outcome classifies how an event concluded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
	OutcomeUnknown Outcome = "unknown"
)

// Context is the spatial location an event occurred in.
type Context struct {
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Function  string         `json:"function,omitempty"`
	Module    string         `json:"module,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Event is an immutable episodic record.
type Event struct {
	ID          uint64    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Context     Context   `json:"context"`
	Outcome     Outcome   `json:"outcome"`
	Fingerprint string    `json:"fingerprint"`
	Novelty     float32   `json:"novelty"`
}

// Draft is the caller-supplied event before fingerprinting/novelty/id
// assignment by the write pipeline.
type Draft struct {
	Timestamp   time.Time
	SessionID   string
	EventType   string
	Description string
	Context     Context
	Outcome     Outcome
	// LowValue marks a heuristically low-value record, which requires
	// novelty >= 0.3 to be accepted.
	LowValue bool
}

// Filters narrows a range_query.
type Filters struct {
	SessionID string
	EventType string
}
