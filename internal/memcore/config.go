// Package memcore is the single root object for the memory core: one
// construction point that owns every store, the embedding index, the LLM
// concurrency budget, and the consolidator and router built over them. No
// component outside this package reaches for a store singleton of its own.
package memcore

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-based option the core recognizes, loaded
// with the same envOr pattern the original cmd/api/main.go used.
type Config struct {
	// Ports / connection strings.
	HTTPPort    string
	MetricsPort int
	SQLitePath  string
	NATSURL     string
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	QdrantAddr  string
	Collection  string
	CORSOrigin  string

	// Embedding provider / LLM validator endpoints. Empty disables the
	// corresponding capability (vector search degrades to lexical-only;
	// slow-path candidates are always deferred).
	EmbedEndpoint    string
	ValidateEndpoint string

	// EmbeddingDimension is D, the fixed embedding width.
	EmbeddingDimension int
	// VectorWeight (alpha) and LexicalWeight (beta) are the fact-search
	// blend weights (score = alpha*cosine + beta*lexical). Open does not
	// pass them on: the router's fact searcher scores with
	// factstore.DefaultWeights.
	VectorWeight float64
	LexicalWeight float64
	// DedupWindow bounds how far back write-dedup checks look.
	DedupWindowSeconds int

	// UncertaintySlowThreshold (tau_slow) gates consolidation Stage D.
	UncertaintySlowThreshold float64
	// ConsolidatorLLMBudget caps slow-path validator calls per run.
	ConsolidatorLLMBudget int
	// ConsolidatorStrategy selects the consolidate.Profile by name
	// (balanced, speed, quality, minimal). Open then replaces the
	// profile's slow-path threshold with UncertaintySlowThreshold.
	ConsolidatorStrategy string

	// PurgeConfidenceThreshold and PurgeGraceDays are the settings for
	// low-confidence fact pruning (factstore.Store.Purge takes both as
	// arguments). Nothing in this package calls Purge, and procedures are
	// not pruned.
	PurgeConfidenceThreshold float64
	PurgeGraceDays int

	// ANNIndexTargetRecall is the target recall for the embedding index's
	// approximate search. Neither the in-memory index nor the Qdrant
	// adapter reads it; Qdrant searches run with default parameters.
	ANNIndexTargetRecall float64

	// FrozenValidator runs the LLM validator in "frozen mode": a call that
	// would miss the verdict cache fails instead of reaching a live
	// endpoint, used for reproducible tests and demos.
	FrozenValidator bool
}

// LoadConfig reads Config from the environment, falling back to the
// documented defaults for anything unset.
func LoadConfig() Config {
	return Config{
		HTTPPort:    envOr("ATHENA_HTTP_PORT", "8080"),
		MetricsPort: envOrInt("ATHENA_METRICS_PORT", 9090),
		SQLitePath:  envOr("ATHENA_SQLITE_PATH", "/tmp/athena-data/athena.db"),
		NATSURL:     envOr("ATHENA_NATS_URL", "nats://localhost:4222"),
		Neo4jURL:    envOr("ATHENA_NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:   envOr("ATHENA_NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("ATHENA_NEO4J_PASS", "password"),
		QdrantAddr:  envOr("ATHENA_QDRANT_ADDR", "localhost:6334"),
		Collection:  envOr("ATHENA_QDRANT_COLLECTION", "athena-facts"),
		CORSOrigin:  envOr("ATHENA_CORS_ORIGIN", "*"),

		EmbedEndpoint:    envOr("ATHENA_EMBED_ENDPOINT", ""),
		ValidateEndpoint: envOr("ATHENA_VALIDATE_ENDPOINT", ""),

		EmbeddingDimension: envOrInt("ATHENA_EMBEDDING_DIMENSION", 768),
		VectorWeight:       envOrFloat("ATHENA_VECTOR_WEIGHT", 0.7),
		LexicalWeight:      envOrFloat("ATHENA_LEXICAL_WEIGHT", 0.3),
		DedupWindowSeconds: envOrInt("ATHENA_DEDUP_WINDOW_SECONDS", 60),

		UncertaintySlowThreshold: envOrFloat("ATHENA_UNCERTAINTY_THRESHOLD_SLOW", 0.5),
		ConsolidatorLLMBudget:    envOrInt("ATHENA_CONSOLIDATOR_LLM_BUDGET", 10),
		ConsolidatorStrategy:     envOr("ATHENA_CONSOLIDATOR_STRATEGY", "balanced"),

		PurgeConfidenceThreshold: envOrFloat("ATHENA_PURGE_CONFIDENCE_THRESHOLD", 0.2),
		PurgeGraceDays:           envOrInt("ATHENA_PURGE_GRACE_DAYS", 30),

		ANNIndexTargetRecall: envOrFloat("ATHENA_ANN_INDEX_TARGET_RECALL", 0.95),
		FrozenValidator:      envOrBool("ATHENA_FROZEN_VALIDATOR", false),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
