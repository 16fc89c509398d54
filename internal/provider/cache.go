package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/athenamind/athena/internal/envelope"
)

// CachedValidator wraps an LLMValidator with a verdict cache keyed by
// sha256(prompt): callers cache by prompt hash, and the same hash returns
// the same verdict within a run, which is what keeps consolidation runs
// idempotent in the presence of a nondeterministic validator.
type CachedValidator struct {
	inner  LLMValidator
	mu     sync.Mutex
	cache  map[string]Verdict
	frozen bool
}

// NewCachedValidator wraps inner with a verdict cache. If frozen is true,
// any call that would miss the cache fails instead of reaching inner — used
// to make tests and idempotence checks deterministic.
func NewCachedValidator(inner LLMValidator, frozen bool) *CachedValidator {
	return &CachedValidator{inner: inner, cache: make(map[string]Verdict), frozen: frozen}
}

// Prime seeds the cache for a prompt without calling inner, so frozen-mode
// tests can pin exact verdicts.
func (c *CachedValidator) Prime(prompt string, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[promptHash(prompt)] = v
}

func (c *CachedValidator) Validate(ctx context.Context, prompt string, schema map[string]any) (Verdict, error) {
	key := promptHash(prompt)

	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	if c.frozen {
		return Verdict{}, envelope.New(envelope.KindDependencyUnavailable, "frozen validator: cache miss for prompt")
	}

	v, err := c.inner.Validate(ctx, prompt, schema)
	if err != nil {
		return Verdict{}, err
	}

	c.mu.Lock()
	c.cache[key] = v
	c.mu.Unlock()
	return v, nil
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

var _ LLMValidator = (*CachedValidator)(nil)
