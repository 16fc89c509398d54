// Package provider defines the two opaque external collaborators the core
// consumes: an embedding function and an LLM validator. Both are named only
// by interface — concrete implementations are adapters, not core logic.
package provider

import "context"

// EmbeddingProvider computes fixed-dimensionality embeddings for text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports D, the fixed embedding width.
	Dimension() int
}

// Verdict is the LLM validator's structured judgement of a candidate
// pattern during consolidation's slow path.
type Verdict struct {
	Decision         VerdictKind
	RefinedSummary   string
	Confidence       float32
}

// VerdictKind enumerates the LLM validator's possible verdicts.
type VerdictKind string

const (
	VerdictValid           VerdictKind = "valid"
	VerdictInvalid         VerdictKind = "invalid"
	VerdictNeedsRefinement VerdictKind = "needs_refinement"
)

// LLMValidator validates a candidate pattern against a structured prompt
// and schema, returning a verdict, optional refinement, and a confidence.
type LLMValidator interface {
	Validate(ctx context.Context, prompt string, schema map[string]any) (Verdict, error)
}
