// Package ratelimit implements the per-operation-family rate-limit
// envelope for the request surface: every operation passes through a
// limiter with per-family buckets (default recall=100/min, remember=50/min,
// consolidate=5/hour); overflow returns RateLimited{retry_after_ms}.
//
// This is deliberately a second, independent limiter idiom from
// pkg/resilience.Limiter's hand-rolled token bucket: golang.org/x/time/rate
// gets its own home here so both rate-limiting patterns already present in
// this codebase's lineage are exercised rather than one collapsing onto
// the other (see DESIGN.md).
package ratelimit

import (
	"context"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"golang.org/x/time/rate"
)

// Family names one of the request surface's ten operation families that
// the envelope rate-limits independently.
type Family string

const (
	FamilyRecall      Family = "recall"
	FamilyRemember    Family = "remember"
	FamilyConsolidate Family = "consolidate"
	FamilyEpisodic    Family = "episodic"
	FamilyGraph       Family = "graph"
	FamilyPlanning    Family = "planning"
	FamilyProcedural  Family = "procedural"
	FamilyProspective Family = "prospective"
	FamilyRAG         Family = "rag"
	FamilyCode        Family = "code"
	FamilyAgent       Family = "agent"
)

// Budget configures one family's bucket: Rate events refill per second,
// Burst is the bucket capacity.
type Budget struct {
	Rate  rate.Limit
	Burst int
}

// DefaultBudgets match the operation surface's named defaults. Families
// not listed here fall back to DefaultFallback.
var DefaultBudgets = map[Family]Budget{
	FamilyRecall:      {Rate: rate.Limit(100.0 / 60.0), Burst: 100},
	FamilyRemember:    {Rate: rate.Limit(50.0 / 60.0), Burst: 50},
	FamilyConsolidate: {Rate: rate.Limit(5.0 / 3600.0), Burst: 5},
}

// DefaultFallback covers any family without an explicit default — the
// eight remaining families (episodic, graph, planning, procedural,
// prospective, rag, code, agent) share the `recall` budget unless a
// caller overrides it, since none of them carries its own named default.
var DefaultFallback = DefaultBudgets[FamilyRecall]

// Envelope is the request-surface rate limiter: one token bucket per
// family, each independently exhaustible.
type Envelope struct {
	limiters map[Family]*rate.Limiter
	fallback *rate.Limiter
	fallbackBudget Budget
}

// New builds an Envelope from budgets, or from DefaultBudgets when budgets
// is nil. A non-nil budgets map replaces DefaultBudgets entirely: any
// family it does not list shares the DefaultFallback bucket at Allow time.
func New(budgets map[Family]Budget) *Envelope {
	if budgets == nil {
		budgets = DefaultBudgets
	}
	e := &Envelope{limiters: make(map[Family]*rate.Limiter, len(budgets)), fallbackBudget: DefaultFallback}
	for family, b := range budgets {
		e.limiters[family] = rate.NewLimiter(b.Rate, b.Burst)
	}
	e.fallback = rate.NewLimiter(e.fallbackBudget.Rate, e.fallbackBudget.Burst)
	return e
}

// RateLimitedError carries how long the caller should wait before retrying.
type RateLimitedError struct {
	RetryAfterMS int64
}

func (e *RateLimitedError) Error() string { return "rate limited" }

// Allow checks whether family has an available token for a single
// operation at time now, without blocking. On exhaustion it returns a
// classified RateLimited error carrying the documented retry_after_ms.
func (e *Envelope) Allow(family Family, now time.Time) error {
	lim := e.limiters[family]
	if lim == nil {
		lim = e.fallback
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return envelope.New(envelope.KindRateLimited, "rate limiter misconfigured (burst < 1)")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	r.CancelAt(now) // don't consume a future token for a rejected call
	return envelope.Wrap(envelope.KindRateLimited, "operation family rate limited",
		&RateLimitedError{RetryAfterMS: delay.Milliseconds()})
}

// Wait blocks until family has an available token or ctx is cancelled.
func (e *Envelope) Wait(ctx context.Context, family Family) error {
	lim := e.limiters[family]
	if lim == nil {
		lim = e.fallback
	}
	if err := lim.Wait(ctx); err != nil {
		return envelope.Wrap(envelope.KindTimeout, "rate limiter wait", err)
	}
	return nil
}
