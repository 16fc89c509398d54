package consolidate

import (
	"context"
	"strings"

	"github.com/athenamind/athena/internal/eventlog"
)

// scoreUncertainty implements Stage C: uncertainty = 1 - min(coherence,
// support_strength), where coherence is the mean pairwise similarity of
// the candidate's source events' descriptions, and support_strength =
// min(1, |support| / referenceSupport). When emb is nil or an embedding
// call fails, coherence degrades to lexical (Jaccard) similarity and
// vectorDisabled is reported so the caller can record the degradation in
// meta rather than fail the run outright.
func scoreUncertainty(ctx context.Context, c Candidate, events map[uint64]eventlog.Event, referenceSupport int, emb embedder) (Candidate, bool) {
	descs := make([]string, 0, len(c.Support))
	for _, id := range c.Support {
		if ev, ok := events[id]; ok {
			descs = append(descs, ev.Description)
		}
	}

	coherence, vectorDisabled := coherenceScore(ctx, descs, emb)
	supportStrength := float32(1)
	if referenceSupport > 0 {
		supportStrength = float32(len(c.Support)) / float32(referenceSupport)
		if supportStrength > 1 {
			supportStrength = 1
		}
	}

	minVal := coherence
	if supportStrength < minVal {
		minVal = supportStrength
	}

	c.Coherence = coherence
	c.SupportStrength = supportStrength
	c.Uncertainty = 1 - minVal
	return c, vectorDisabled
}

// coherenceScore is the mean pairwise similarity among descs. vector
// similarity is used when emb is non-nil and succeeds; otherwise a
// deterministic Jaccard-over-tokens fallback is used and vectorDisabled
// is reported true.
func coherenceScore(ctx context.Context, descs []string, emb embedder) (float32, bool) {
	if len(descs) < 2 {
		return 1, emb == nil
	}

	if emb != nil {
		if vecs, err := emb.Embed(ctx, descs); err == nil && len(vecs) == len(descs) {
			return meanPairwise(vecs, cosine), false
		}
	}

	tokenSets := make([]map[string]struct{}, len(descs))
	for i, d := range descs {
		tokenSets[i] = tokenSet(d)
	}
	var sum float32
	var count int
	for i := range tokenSets {
		for j := i + 1; j < len(tokenSets); j++ {
			sum += jaccard(tokenSets[i], tokenSets[j])
			count++
		}
	}
	if count == 0 {
		return 1, true
	}
	return sum / float32(count), true
}

func meanPairwise(vecs [][]float32, sim func(a, b []float32) float32) float32 {
	var sum float32
	var count int
	for i := range vecs {
		for j := i + 1; j < len(vecs); j++ {
			sum += sim(vecs[i], vecs[j])
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return sum / float32(count)
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

// rescoreRefinement re-enters a needs_refinement candidate through the
// coherence/support scoring: the refined summary is folded in alongside
// the source events' descriptions so a refinement that actually tightens
// the candidate's language lowers its measured uncertainty, while one that
// doesn't leaves it unchanged. support_strength is unaffected since the
// refinement doesn't change the candidate's source event set.
func rescoreRefinement(ctx context.Context, c Candidate, events map[uint64]eventlog.Event, referenceSupport int, emb embedder) (Candidate, bool) {
	descs := make([]string, 0, len(c.Support)+1)
	for _, id := range c.Support {
		if ev, ok := events[id]; ok {
			descs = append(descs, ev.Description)
		}
	}
	descs = append(descs, c.Summary)

	coherence, vectorDisabled := coherenceScore(ctx, descs, emb)
	supportStrength := float32(1)
	if referenceSupport > 0 {
		supportStrength = float32(len(c.Support)) / float32(referenceSupport)
		if supportStrength > 1 {
			supportStrength = 1
		}
	}

	minVal := coherence
	if supportStrength < minVal {
		minVal = supportStrength
	}

	c.Coherence = coherence
	c.SupportStrength = supportStrength
	c.Uncertainty = 1 - minVal
	return c, vectorDisabled
}

// needsSlowPath implements Stage D's gating decision: candidates with
// uncertainty at or above tauSlow are queued for slow-path validation;
// below it, they're accepted directly.
func needsSlowPath(c Candidate, tauSlow float32) bool {
	return c.Uncertainty >= tauSlow
}
