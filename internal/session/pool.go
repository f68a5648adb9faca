package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
)

// Factory builds one unstarted session.
type Factory func() crawler.Session

// NewFactory returns a Factory for the named driver.
func NewFactory(driver string, cfg Config, limiter Limiter, logger *zap.Logger) (Factory, error) {
	switch driver {
	case "", DriverChromedp:
		return func() crawler.Session { return NewChromeSession(cfg, limiter, logger) }, nil
	case DriverPlaywright:
		return func() crawler.Session { return NewPlaywrightSession(cfg, limiter, logger) }, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}
}

// Status summarizes the pool for health reporting.
type Status struct {
	Size  int `json:"size"`
	InUse int `json:"in_use"`
	Ready int `json:"ready"`
}

// Pool is a fixed set of sessions checked out to one run at a time. Sessions
// are created up front but only launched by their first EnsureReady.
type Pool struct {
	all   []crawler.Session
	idle  chan crawler.Session
	inUse atomic.Int32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPool builds size sessions from factory. size below 1 becomes 1.
func NewPool(size int, factory Factory) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		all:  make([]crawler.Session, 0, size),
		idle: make(chan crawler.Session, size),
		done: make(chan struct{}),
	}
	for range size {
		s := factory()
		p.all = append(p.all, s)
		p.idle <- s
	}
	return p
}

// Acquire blocks until a session is free, the pool closes or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (crawler.Session, error) {
	select {
	case <-p.done:
		return nil, crawler.ErrSessionClosed
	default:
	}
	select {
	case s := <-p.idle:
		p.inUse.Add(1)
		metrics.IncSessionsInUse()
		return s, nil
	case <-p.done:
		return nil, crawler.ErrSessionClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}
}

// Release returns s to the pool. Releasing after Close is a no-op.
func (p *Pool) Release(s crawler.Session) {
	if s == nil {
		return
	}
	p.inUse.Add(-1)
	metrics.DecSessionsInUse()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.idle <- s:
	default:
	}
}

// With checks a session out for the duration of fn.
func (p *Pool) With(ctx context.Context, fn func(crawler.Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(s)
}

// Status reports pool occupancy.
func (p *Pool) Status() Status {
	st := Status{Size: len(p.all), InUse: int(p.inUse.Load())}
	for _, s := range p.all {
		if s.IsReady() {
			st.Ready++
		}
	}
	return st
}

// AnyReady reports whether at least one pooled session is launched.
func (p *Pool) AnyReady() bool {
	return p.Status().Ready > 0
}

// Close closes every session, including checked-out ones.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	var errs []error
	for _, s := range p.all {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
