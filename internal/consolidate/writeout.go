package consolidate

import (
	"context"
	"strings"

	"github.com/athenamind/athena/internal/factstore"
	"github.com/athenamind/athena/internal/graphstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
)

// writeOut implements Stage F in the fixed cross-store order (fact store →
// graph store → procedure store → meta store), so a crash partway through
// leaves strictly less written, never an edge or procedure referencing a
// fact that was never durably stored. It stops and returns whatever was
// written so far on the first error from any store.
func (e *Engine) writeOut(ctx context.Context, accepted []Candidate, domain string) (Result, error) {
	var res Result

	for _, c := range accepted {
		written, skipped, err := e.writeFactIfNew(ctx, c, domain)
		if err != nil {
			res.Partial = true
			return res, err
		}
		if skipped {
			continue
		}
		res.Facts = append(res.Facts, written)

		edges, err := e.writeGraph(ctx, c, domain)
		if err != nil {
			res.Partial = true
			return res, err
		}
		res.GraphEdges += edges

		if len(c.Template) >= e.cfg.MinSteps {
			wp, err := e.writeProcedure(ctx, c, domain)
			if err != nil {
				res.Partial = true
				return res, err
			}
			res.Procedures = append(res.Procedures, wp)
		}
	}

	if e.meta != nil {
		_ = e.meta.Record(ctx, "C7", domain, metastore.MetricCompressionRatio, compressionEstimate(accepted))
	}

	return res, nil
}

// writeFactIfNew enforces idempotence across repeated runs: a prior run's
// fact with identical content in the same domain is treated as already
// consolidated, so a second run over the same window adds no new fact for
// that candidate.
func (e *Engine) writeFactIfNew(ctx context.Context, c Candidate, domain string) (WrittenFact, bool, error) {
	existing, _, err := e.facts.Search(ctx, c.Summary, 1, factstore.DefaultWeights)
	if err != nil {
		return WrittenFact{}, false, err
	}
	for _, s := range existing {
		if s.Fact.Domain == domain && s.Fact.Content == c.Summary {
			return WrittenFact{}, true, nil
		}
	}

	confidence := deriveConfidence(c.Uncertainty, c.SlowPathConfidence)
	f, err := e.facts.StoreFact(ctx, c.Summary, domain, c.Support, confidence)
	if err != nil {
		return WrittenFact{}, false, err
	}
	return WrittenFact{ID: f.ID, Content: f.Content, Confidence: f.Confidence}, false, nil
}

// deriveConfidence computes the fact confidence assigned at write time.
// When the LLM validated the candidate, its confidence is blended evenly
// with the fast-path signal; otherwise confidence is purely
// uncertainty-derived.
func deriveConfidence(uncertainty float32, slowConfidence *float32) float32 {
	base := 1 - uncertainty
	if slowConfidence != nil {
		base = 0.5*base + 0.5*(*slowConfidence)
	}
	return clamp32(base, 0.01, 0.99)
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// writeGraph upserts an entity per distinct step/event-type in the
// candidate's template and a causally_leads_to (or related_to, for
// co-occurrence candidates) edge between consecutive steps.
func (e *Engine) writeGraph(ctx context.Context, c Candidate, domain string) (int, error) {
	if e.graph == nil || len(c.Template) < 2 {
		return 0, nil
	}

	ids := make([]string, len(c.Template))
	for i, step := range c.Template {
		id := entityID(domain, step)
		ids[i] = id
		if _, err := e.graph.UpsertEntity(ctx, graphstore.Entity{ID: id, Type: "pattern_step", Name: step}); err != nil {
			return 0, err
		}
	}

	edgeType := graphstore.EdgeCausallyLeadsTo
	if len(c.CoOccurrenceStats) > 0 {
		edgeType = graphstore.EdgeRelatedTo
	}

	edges := 0
	for i := 0; i+1 < len(ids); i++ {
		strength := float32(0.5)
		if len(c.CoOccurrenceStats) > 0 {
			for _, p := range c.CoOccurrenceStats {
				strength = float32(p)
				break
			}
		}
		if err := e.graph.UpsertEdge(ctx, graphstore.Edge{SourceID: ids[i], TargetID: ids[i+1], Type: edgeType, Strength: strength}); err != nil {
			return edges, err
		}
		edges++
	}
	return edges, nil
}

func entityID(domain, name string) string {
	return domain + ":" + strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// writeProcedure builds a draft from the candidate's template and saves it
// as a new procedure version (no predecessor tracking across runs — the
// consolidator always proposes, never silently supersedes; rollback and
// explicit versioning are a caller's decision via the procedure store's
// own API).
func (e *Engine) writeProcedure(ctx context.Context, c Candidate, domain string) (WrittenProcedure, error) {
	steps := make([]procedure.Step, len(c.Template))
	for i, action := range c.Template {
		steps[i] = procedure.Step{Order: i + 1, Action: action}
	}
	draft := procedure.Draft{
		Name:     c.Summary,
		Category: domain,
		Steps:    steps,
	}
	id, err := e.procedures.SaveVersion(ctx, draft, "")
	if err != nil {
		return WrittenProcedure{}, err
	}
	return WrittenProcedure{ID: id, Name: draft.Name, Steps: len(steps)}, nil
}

func compressionEstimate(accepted []Candidate) float64 {
	if len(accepted) == 0 {
		return 0
	}
	var factBytes, eventBytes int
	for _, c := range accepted {
		factBytes += len(c.Summary)
		eventBytes += len(c.Support) * 64 // rough per-event footprint estimate
	}
	return metastore.CompressionRatio(factBytes, eventBytes)
}
