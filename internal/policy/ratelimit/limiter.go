// Package ratelimit spaces out requests toward the origin site.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// DefaultDelay is the spacing enforced between consecutive fetches.
const DefaultDelay = time.Second

// Pacer enforces a fixed pause between the end of one request and the start
// of the next. The first Wait never blocks.
type Pacer struct {
	delay time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

// Config holds pacer configuration.
type Config struct {
	Delay time.Duration
}

// New creates a Pacer. A non-positive delay disables pacing.
func New(cfg Config) *Pacer {
	p := &Pacer{delay: cfg.Delay}
	p.limiter = p.newLimiter()
	return p
}

func (p *Pacer) newLimiter() *rate.Limiter {
	if p.delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.delay), 1)
}

// Wait blocks until the next request may be sent, respecting the context.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}

// Done marks the end of a request. The next Wait returns one full delay
// after this call, however long the request took.
func (p *Pacer) Done() {
	if p.delay <= 0 {
		return
	}
	limiter := p.newLimiter()
	limiter.Allow()

	p.mu.Lock()
	p.limiter = limiter
	p.mu.Unlock()
}
