package consolidate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/factstore"
	"github.com/athenamind/athena/internal/graphstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
	"github.com/athenamind/athena/internal/provider"
	"github.com/athenamind/athena/pkg/fn"
	"github.com/athenamind/athena/pkg/resilience"
)

// Engine is C7: it owns no storage of its own, only the dependencies it
// reads from and writes to. One Engine is shared across runs; per-window
// exclusion is enforced internally so two overlapping Run calls for the
// same domain/window never interleave writes.
type Engine struct {
	cfg Config

	events     *eventlog.Store
	facts      *factstore.Store
	graph      *graphstore.Store
	procedures *procedure.Store
	meta       *metastore.Store

	embedder  embedder
	validator provider.LLMValidator
	limiter   *resilience.Limiter

	mu      sync.Mutex
	running map[string]bool
}

// New constructs a consolidation engine. graph, meta, embedder, validator,
// and limiter may all be nil: a nil graph/meta skips that write-out step, a
// nil embedder degrades clustering/coherence to lexical fallbacks, and a
// nil validator means every candidate routed to the slow path is deferred
// rather than invalidated.
func New(cfg Config, events *eventlog.Store, facts *factstore.Store, graph *graphstore.Store, procedures *procedure.Store, meta *metastore.Store, emb provider.EmbeddingProvider, validator provider.LLMValidator, limiter *resilience.Limiter) *Engine {
	var e embedder
	if emb != nil {
		e = emb
	}
	return &Engine{
		cfg:        cfg,
		events:     events,
		facts:      facts,
		graph:      graph,
		procedures: procedures,
		meta:       meta,
		embedder:   e,
		validator:  validator,
		limiter:    limiter,
		running:    make(map[string]bool),
	}
}

// Run executes Stages A-F over the event window [from, to] for domain.
// Overlapping calls for the identical (domain, from, to) return an
// AlreadyRunning error rather than blocking or double-processing the
// window.
func (e *Engine) Run(ctx context.Context, domain string, from, to time.Time) (Result, error) {
	key := windowKey(domain, from, to)
	if !e.acquire(key) {
		return Result{}, envelope.New(envelope.KindAlreadyRunning, "consolidation already running for this window")
	}
	defer e.release(key)

	stage := fn.TracedStage("consolidate.run", fn.Stage[windowRequest, outcome](e.runStage))
	result := stage(ctx, windowRequest{domain: domain, from: from, to: to})
	out, err := result.Unwrap()
	if err != nil {
		return Result{}, err
	}
	return out.result, out.err
}

// outcome lets runStage report a partially-written Result together with
// the write-out error that truncated it, since fn.Result[T] itself can
// only carry a value or an error, never both.
type outcome struct {
	result Result
	err    error
}

type windowRequest struct {
	domain   string
	from, to time.Time
}

func windowKey(domain string, from, to time.Time) string {
	return fmt.Sprintf("%s|%d|%d", domain, from.UnixNano(), to.UnixNano())
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[key] {
		return false
	}
	e.running[key] = true
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, key)
}

// runStage composes Stages A-F as a single fn.Stage so the whole run gets
// one traced span tree; each stage below is itself a plain function, kept
// simple and independently testable, and only wired into the traced
// composition here.
func (e *Engine) runStage(ctx context.Context, req windowRequest) fn.Result[outcome] {
	events, err := e.events.RangeQuery(ctx, req.from, req.to, eventlog.Filters{})
	if err != nil {
		return fn.Err[outcome](err)
	}
	if len(events) == 0 {
		return fn.Ok(outcome{})
	}

	clusters := clusterEvents(ctx, events, e.cfg.TemporalWindow, e.cfg.ClusterMergeSimilarity, e.embedder)
	candidates := extractCandidates(clusters, e.cfg.MinSupport, e.cfg.CoOccurrenceThreshold, req.domain)

	byID := make(map[uint64]eventlog.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	var (
		fast           []Candidate
		slow           []Candidate
		vectorDisabled bool
	)
	for _, c := range candidates {
		scored, disabled := scoreUncertainty(ctx, c, byID, e.cfg.ReferenceSupport, e.embedder)
		vectorDisabled = vectorDisabled || disabled
		if needsSlowPath(scored, e.cfg.UncertaintySlowThreshold) {
			slow = append(slow, scored)
		} else {
			fast = append(fast, scored)
		}
	}

	var (
		accepted  = fast
		deferred  []Candidate
		slowCalls int
	)
	if len(slow) > 0 {
		if e.validator == nil {
			deferred = append(deferred, slow...)
		} else {
			slowAccepted, slowDeferred, calls := validateSlowPath(ctx, slow, e.validator, e.limiter, e.cfg.LLMBudget, e.cfg.LLMInFlight, byID, e.cfg.ReferenceSupport, e.embedder, e.cfg.UncertaintySlowThreshold)
			accepted = append(accepted, slowAccepted...)
			deferred = append(deferred, slowDeferred...)
			slowCalls = calls
		}
	}

	res, writeErr := e.writeOut(ctx, accepted, req.domain)
	res.Deferred = deferred
	res.SlowPathCalls = slowCalls
	res.VectorDisabled = vectorDisabled

	if writeErr != nil {
		return fn.Ok(outcome{result: res, err: writeErr})
	}

	if e.meta != nil {
		if vectorDisabled {
			_ = e.meta.Record(ctx, "C7", req.domain, metastore.MetricVectorDisabled, 1)
		}
		_ = e.meta.Record(ctx, "C7", req.domain, metastore.MetricSlowPathCalls, float64(slowCalls))
	}

	return fn.Ok(outcome{result: res})
}
