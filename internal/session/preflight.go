package session

import (
	"context"
	"sync"
	"time"
)

// CachingPreflight wraps a ModelPreflight with a per-model TTL cache so a
// burst of turns against the same model pays the preflight cost once
// (spec §5: "Model preflight cache TTL: 10s").
type CachingPreflight struct {
	inner   ModelPreflight
	ttl     time.Duration
	timeout time.Duration

	mu       sync.Mutex
	lastOK   map[string]time.Time
}

// NewCachingPreflight wraps inner with the given cache TTL and per-check
// timeout (spec §5 defaults: ttl=10s, timeout=8s, zero retries).
func NewCachingPreflight(inner ModelPreflight, ttl, timeout time.Duration) *CachingPreflight {
	return &CachingPreflight{
		inner:   inner,
		ttl:     ttl,
		timeout: timeout,
		lastOK:  make(map[string]time.Time),
	}
}

// Check returns nil immediately if model passed preflight within ttl;
// otherwise it runs one zero-retry check bounded by timeout.
func (c *CachingPreflight) Check(ctx context.Context, model string) error {
	c.mu.Lock()
	last, ok := c.lastOK[model]
	fresh := ok && time.Since(last) < c.ttl
	c.mu.Unlock()
	if fresh {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.inner.Check(cctx, model); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastOK[model] = time.Now()
	c.mu.Unlock()
	return nil
}
