package provider

import (
	"context"
	"testing"

	"github.com/athenamind/athena/internal/envelope"
)

type countingValidator struct {
	calls int
}

func (c *countingValidator) Validate(ctx context.Context, prompt string, schema map[string]any) (Verdict, error) {
	c.calls++
	return Verdict{Decision: VerdictValid, Confidence: 0.9}, nil
}

func TestCachedValidatorDedupesCalls(t *testing.T) {
	inner := &countingValidator{}
	cached := NewCachedValidator(inner, false)

	ctx := context.Background()
	v1, err := cached.Validate(ctx, "same prompt", nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	v2, err := cached.Validate(ctx, "same prompt", nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner called %d times, want 1", inner.calls)
	}
	if v1 != v2 {
		t.Fatalf("cached verdicts differ: %+v vs %+v", v1, v2)
	}
}

func TestFrozenValidatorFailsOnMiss(t *testing.T) {
	inner := &countingValidator{}
	cached := NewCachedValidator(inner, true)

	_, err := cached.Validate(context.Background(), "unseen prompt", nil)
	if envelope.KindOf(err) != envelope.KindDependencyUnavailable {
		t.Fatalf("expected DependencyUnavailable, got %v", envelope.KindOf(err))
	}
	if inner.calls != 0 {
		t.Fatalf("inner should not be called in frozen mode, got %d calls", inner.calls)
	}
}

func TestFrozenValidatorHitsPrimedCache(t *testing.T) {
	inner := &countingValidator{}
	cached := NewCachedValidator(inner, true)
	cached.Prime("known prompt", Verdict{Decision: VerdictInvalid, Confidence: 0.1})

	v, err := cached.Validate(context.Background(), "known prompt", nil)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Decision != VerdictInvalid {
		t.Fatalf("decision = %s, want invalid", v.Decision)
	}
}
