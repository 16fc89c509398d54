// Package factstore implements C2, ranked retrieval of durable statements
// via hybrid vector + lexical scoring, and owns the embedding lifecycle
// that keeps C9 (internal/vectorindex) in sync with fact rows.
package factstore

import "time"

// Fact is a distilled semantic statement with confidence, derived from one
// or more events.
type Fact struct {
	ID                 string
	Content            string
	Embedding          []float32
	Domain             string
	Confidence         float32
	SupportCount       uint32
	ContradictionCount uint32
	Usefulness         float32
	CreatedAt          time.Time
	LastUsedAt         time.Time
	SourceEventIDs      []uint64
}

// Scored pairs a fact with its combined retrieval score.
type Scored struct {
	Fact  Fact
	Score float32
}

// Weights configures the hybrid ranking mix (defaults α=0.7, β=0.3).
type Weights struct {
	Vector  float32
	Lexical float32
}

// DefaultWeights are the documented hybrid-ranking defaults.
var DefaultWeights = Weights{Vector: 0.7, Lexical: 0.3}

// scoreEpsilon is the tie-break threshold: scores within epsilon of each
// other are considered tied and broken by confidence/usefulness/recency/id.
const scoreEpsilon = 1e-6
