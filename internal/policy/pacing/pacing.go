// Package pacing produces randomized pauses between browser actions and
// between search units.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer sleeps for a uniformly random duration in [Min, Max].
type Pacer struct {
	min, max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
	// sleep is swapped in tests so nothing really waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes a Pacer.
type Option func(*Pacer)

// WithRand fixes the random source, making delays reproducible.
func WithRand(r *rand.Rand) Option {
	return func(p *Pacer) {
		if r != nil {
			p.rnd = r
		}
	}
}

// WithSleeper replaces the context-aware sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pacer) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// New builds a Pacer. Bounds are swapped when given in the wrong order and
// negative values clamp to zero.
func New(minDelay, maxDelay time.Duration, opts ...Option) *Pacer {
	minDelay = max(minDelay, 0)
	maxDelay = max(maxDelay, 0)
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	p := &Pacer{
		min:   minDelay,
		max:   maxDelay,
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next draws the next delay.
func (p *Pacer) Next() time.Duration {
	if p == nil {
		return 0
	}
	if p.max == p.min {
		return p.min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min + time.Duration(p.rnd.Int64N(int64(p.max-p.min)+1))
}

// Wait sleeps for the next delay and returns early when ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.sleep(ctx, p.Next())
}

// Bounds reports the configured range.
func (p *Pacer) Bounds() (time.Duration, time.Duration) {
	return p.min, p.max
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pacing: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
