package consolidate

import (
	"context"
	"time"

	"github.com/athenamind/athena/internal/eventlog"
)

// embedder is the subset of provider.EmbeddingProvider the engine needs,
// kept local so this package has no compile-time dependency on the HTTP
// adapter (mirrors internal/factstore's embedder seam). A nil embedder
// degrades Stage A's refinement and Stage C's coherence to the lexical
// (Jaccard-over-tokens) fallback.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// clusterEvents implements Stage A: partition events into clusters by
// temporal proximity/session, then refine by description-embedding
// similarity. events must already be ordered by timestamp ascending
// (eventlog.RangeQuery's documented order).
func clusterEvents(ctx context.Context, events []eventlog.Event, temporalWindow time.Duration, mergeSimilarity float32, emb embedder) []Cluster {
	if len(events) == 0 {
		return nil
	}

	var clusters []Cluster
	current := Cluster{SessionID: events[0].SessionID, Events: []eventlog.Event{events[0]}}

	for _, ev := range events[1:] {
		last := current.Events[len(current.Events)-1]
		gap := ev.Timestamp.Sub(last.Timestamp)
		sameSession := ev.SessionID == current.SessionID
		if sameSession || gap <= temporalWindow {
			current.Events = append(current.Events, ev)
			continue
		}
		clusters = append(clusters, current)
		current = Cluster{SessionID: ev.SessionID, Events: []eventlog.Event{ev}}
	}
	clusters = append(clusters, current)

	return refineClusters(ctx, clusters, mergeSimilarity, emb)
}

// refineClusters merges same-session clusters whose representative
// description embeddings are cosine-similar above the configured
// threshold, so a session split into temporally-adjacent clusters that
// are still talking about the same thing collapses back into one.
func refineClusters(ctx context.Context, clusters []Cluster, mergeSimilarity float32, emb embedder) []Cluster {
	if len(clusters) < 2 || emb == nil {
		return clusters
	}

	texts := make([]string, len(clusters))
	for i, c := range clusters {
		texts[i] = representativeText(c)
	}
	reps, err := emb.Embed(ctx, texts)
	if err != nil || len(reps) != len(clusters) {
		return clusters
	}

	merged := make([]bool, len(clusters))
	var out []Cluster
	for i := range clusters {
		if merged[i] {
			continue
		}
		acc := clusters[i]
		for j := i + 1; j < len(clusters); j++ {
			if merged[j] || clusters[j].SessionID != acc.SessionID {
				continue
			}
			if cosine(reps[i], reps[j]) >= mergeSimilarity {
				acc.Events = append(acc.Events, clusters[j].Events...)
				merged[j] = true
			}
		}
		out = append(out, acc)
	}
	return out
}

func representativeText(c Cluster) string {
	s := ""
	for i, ev := range c.Events {
		if i > 0 {
			s += " "
		}
		s += ev.Description
	}
	return s
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (sqrtf(na) * sqrtf(nb)))
}

func sqrtf(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 32; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}
