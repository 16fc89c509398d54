package consolidate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/provider"
	"github.com/athenamind/athena/pkg/resilience"
)

// validateSlowPath runs the candidates Stage D routed to the slow path
// through the LLM validator, bounded by a per-run budget and an in-flight
// concurrency cap. Candidates beyond the budget are returned as deferred,
// never dropped. A validator error defers that candidate too.
func validateSlowPath(ctx context.Context, candidates []Candidate, validator provider.LLMValidator, limiter *resilience.Limiter, budget, inFlight int, events map[uint64]eventlog.Event, referenceSupport int, emb embedder, tauSlow float32) (accepted []Candidate, deferred []Candidate, calls int) {
	if len(candidates) == 0 {
		return nil, nil, 0
	}

	toValidate := candidates
	if budget >= 0 && len(candidates) > budget {
		toValidate = candidates[:budget]
		deferred = append(deferred, candidates[budget:]...)
	}

	results := make([]slowPathOutcomeResult, len(toValidate))
	if inFlight <= 0 {
		inFlight = 1
	}
	sem := make(chan struct{}, inFlight)
	var wg sync.WaitGroup

	for i, c := range toValidate {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c Candidate) {
			defer func() { <-sem; wg.Done() }()
			results[i] = runSlowPathOne(ctx, i, c, validator, limiter, events, referenceSupport, emb, tauSlow)
		}(i, c)
	}
	wg.Wait()

	for _, r := range results {
		if r.called {
			calls++
		}
		if r.deferred {
			deferred = append(deferred, r.cand)
			continue
		}
		if r.accepted {
			accepted = append(accepted, r.cand)
		}
		// invalid verdict, or a refinement that didn't resolve the
		// uncertainty: dropped (neither accepted nor deferred).
	}

	sort.Slice(deferred, func(i, j int) bool { return deferred[i].Summary < deferred[j].Summary })
	return accepted, deferred, calls
}

type slowPathOutcomeResult = struct {
	idx      int
	accepted bool
	cand     Candidate
	deferred bool
	called   bool
}

func runSlowPathOne(ctx context.Context, idx int, c Candidate, validator provider.LLMValidator, limiter *resilience.Limiter, events map[uint64]eventlog.Event, referenceSupport int, emb embedder, tauSlow float32) slowPathOutcomeResult {
	out := slowPathOutcomeResult{idx: idx, cand: c}

	call := func(ctx context.Context) error {
		prompt := slowPathPrompt(c)
		out.called = true
		v, err := validator.Validate(ctx, prompt, slowPathSchema)
		if err != nil {
			return err
		}
		switch v.Decision {
		case provider.VerdictValid:
			conf := v.Confidence
			c.SlowPathConfidence = &conf
			c.RoutedSlow = true
			out.cand = c
			out.accepted = true
		case provider.VerdictNeedsRefinement:
			// Re-enter the coherence/support scoring with the refined
			// summary standing in for the candidate's description, then
			// re-gate against tauSlow: refinement only resolves the
			// candidate if it actually brings uncertainty back under the
			// threshold, it isn't a free pass.
			refined := c
			refined.Summary = v.RefinedSummary
			rescored, _ := rescoreRefinement(ctx, refined, events, referenceSupport, emb)
			conf := v.Confidence
			rescored.SlowPathConfidence = &conf
			rescored.RoutedSlow = true
			out.cand = rescored
			out.accepted = !needsSlowPath(rescored, tauSlow)
		default: // invalid
			out.accepted = false
		}
		return nil
	}

	var err error
	if limiter != nil {
		err = limiter.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		out.deferred = true
		out.accepted = false
	}
	return out
}

func slowPathPrompt(c Candidate) string {
	return fmt.Sprintf("candidate pattern: %s\ntemplate: %v\nsupport_count: %d\ncoherence: %.3f",
		c.Summary, c.Template, len(c.Support), c.Coherence)
}

var slowPathSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"verdict":         map[string]any{"enum": []string{"valid", "invalid", "needs_refinement"}},
		"refined_summary": map[string]any{"type": "string"},
		"confidence":      map[string]any{"type": "number"},
	},
}
