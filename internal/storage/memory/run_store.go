package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

// RunStore is the process-wide owner of runs and result sets. Every mutation
// happens under one lock so readers never observe a partially updated run.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]*runEntry
	results map[string]crawler.ResultSet
	byRun   map[string]string
	archive crawler.ResultArchive
	now     func() time.Time
}

type runEntry struct {
	run crawler.Run
	// changed is closed and replaced whenever the run's progress changes.
	changed chan struct{}
}

// Option customizes a RunStore.
type Option func(*RunStore)

// WithArchive makes Complete write result sets to a durable archive before
// committing them, and lets result lookups fall back to it.
func WithArchive(archive crawler.ResultArchive) Option {
	return func(s *RunStore) {
		s.archive = archive
	}
}

// WithClock overrides the time source.
func WithClock(clock crawler.Clock) Option {
	return func(s *RunStore) {
		if clock != nil {
			s.now = clock.Now
		}
	}
}

// NewRunStore constructs an empty RunStore.
func NewRunStore(opts ...Option) *RunStore {
	s := &RunStore{
		runs:    make(map[string]*runEntry),
		results: make(map[string]crawler.ResultSet),
		byRun:   make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRun registers a queued run.
func (s *RunStore) CreateRun(_ context.Context, runID string, total int, label string) (crawler.Run, error) {
	if runID == "" {
		return crawler.Run{}, fmt.Errorf("%w: run id is required", crawler.ErrStoreWrite)
	}
	if total < 0 {
		return crawler.Run{}, fmt.Errorf("%w: total must be >= 0", store.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return crawler.Run{}, fmt.Errorf("create run %s: %w", runID, store.ErrAlreadyExists)
	}
	run := crawler.Run{
		ID:        runID,
		Status:    crawler.RunStatusQueued,
		Total:     total,
		Label:     label,
		CreatedAt: s.now(),
	}
	s.runs[runID] = &runEntry{run: run, changed: make(chan struct{})}
	return run, nil
}

// StartRun moves a queued run to running.
func (s *RunStore) StartRun(_ context.Context, runID string) error {
	return s.mutate(runID, func(run *crawler.Run) error {
		if run.Status != crawler.RunStatusQueued {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, run.Status, crawler.RunStatusRunning)
		}
		run.Status = crawler.RunStatusRunning
		run.StartedAt = pointerTime(s.now())
		return nil
	})
}

// UpdateProgress records completed units and accumulated records. Counters
// never decrease and current never exceeds total.
func (s *RunStore) UpdateProgress(_ context.Context, runID string, current, found int) error {
	return s.mutate(runID, func(run *crawler.Run) error {
		if run.Status != crawler.RunStatusRunning {
			return fmt.Errorf("%w: progress on %s run", store.ErrInvalidTransition, run.Status)
		}
		if current < run.Current || found < run.Found {
			return fmt.Errorf("%w: counters may not decrease (%d/%d -> %d/%d)",
				store.ErrInvalidTransition, run.Current, run.Found, current, found)
		}
		if current > run.Total {
			return fmt.Errorf("%w: current %d exceeds total %d", store.ErrInvalidTransition, current, run.Total)
		}
		run.Current = current
		run.Found = found
		return nil
	})
}

// Complete records the result set and marks the run done. With an archive
// configured the result is archived first; an archive failure leaves the run
// untouched and is reported as crawler.ErrStoreWrite.
func (s *RunStore) Complete(ctx context.Context, runID string, result crawler.ResultSet) error {
	if _, err := s.GetProgress(ctx, runID); err != nil {
		return err
	}
	result = result.Clone()
	result.RunID = runID
	if result.ID == "" {
		return fmt.Errorf("%w: result id is required", crawler.ErrStoreWrite)
	}
	if s.archive != nil {
		if err := s.archive.SaveResult(ctx, result); err != nil {
			return fmt.Errorf("%w: archive result %s: %w", crawler.ErrStoreWrite, result.ID, err)
		}
	}
	return s.mutate(runID, func(run *crawler.Run) error {
		if !run.Status.CanTransition(crawler.RunStatusDone) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, run.Status, crawler.RunStatusDone)
		}
		run.Status = crawler.RunStatusDone
		run.Current = run.Total
		run.ResultID = result.ID
		run.FinishedAt = pointerTime(s.now())
		s.results[result.ID] = result
		s.byRun[runID] = result.ID
		return nil
	})
}

// Fail marks the run as errored with a human-readable message.
func (s *RunStore) Fail(_ context.Context, runID string, message string) error {
	if message == "" {
		message = "unknown error"
	}
	return s.mutate(runID, func(run *crawler.Run) error {
		if !run.Status.CanTransition(crawler.RunStatusError) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, run.Status, crawler.RunStatusError)
		}
		run.Status = crawler.RunStatusError
		run.ErrorMessage = message
		run.FinishedAt = pointerTime(s.now())
		return nil
	})
}

// GetProgress returns a snapshot of the run.
func (s *RunStore) GetProgress(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return entry.run, nil
}

// GetResult returns a completed result set by id. An archived result whose
// run is known here but not done is reported as store.ErrNotFound; that
// happens when one archive accepted the write and a later one rejected it.
func (s *RunStore) GetResult(ctx context.Context, resultID string) (crawler.ResultSet, error) {
	s.mu.RLock()
	rs, ok := s.results[resultID]
	s.mu.RUnlock()
	if ok {
		return rs.Clone(), nil
	}
	if s.archive == nil {
		return crawler.ResultSet{}, fmt.Errorf("result %s: %w", resultID, store.ErrNotFound)
	}
	rs, err := s.fromArchive(s.archive.LoadResult(ctx, resultID))
	if err != nil {
		return crawler.ResultSet{}, err
	}
	s.mu.RLock()
	entry, known := s.runs[rs.RunID]
	var status crawler.RunStatus
	if known {
		status = entry.run.Status
	}
	s.mu.RUnlock()
	if known && status != crawler.RunStatusDone {
		return crawler.ResultSet{}, fmt.Errorf("result %s of %s run %s: %w", resultID, status, rs.RunID, store.ErrNotFound)
	}
	return rs, nil
}

// GetResultByRun returns the result set of a done run. Runs that are known
// but not done report store.ErrNotFound.
func (s *RunStore) GetResultByRun(ctx context.Context, runID string) (crawler.ResultSet, error) {
	s.mu.RLock()
	entry, known := s.runs[runID]
	var (
		status crawler.RunStatus
		rs     crawler.ResultSet
		ok     bool
	)
	if known {
		status = entry.run.Status
		rs, ok = s.results[s.byRun[runID]]
	}
	s.mu.RUnlock()

	switch {
	case ok:
		return rs.Clone(), nil
	case known && status != crawler.RunStatusDone:
		return crawler.ResultSet{}, fmt.Errorf("run %s is %s: %w", runID, status, store.ErrNotFound)
	case s.archive != nil:
		return s.fromArchive(s.archive.LoadResultByRun(ctx, runID))
	default:
		return crawler.ResultSet{}, fmt.Errorf("result for run %s: %w", runID, store.ErrNotFound)
	}
}

// SubscribeProgress streams snapshots of the run as it changes. The first
// element is the current state; the channel closes after a terminal snapshot
// or when ctx is done. Slow readers observe the latest state, never a stale
// one after a newer one.
func (s *RunStore) SubscribeProgress(ctx context.Context, runID string) (<-chan crawler.Run, error) {
	if _, err := s.GetProgress(ctx, runID); err != nil {
		return nil, err
	}
	out := make(chan crawler.Run)
	go func() {
		defer close(out)
		var (
			last    crawler.Run
			emitted bool
		)
		for {
			s.mu.RLock()
			entry := s.runs[runID]
			snap, changed := entry.run, entry.changed
			s.mu.RUnlock()

			if !emitted || !last.SameProgress(snap) {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				last, emitted = snap, true
			}
			if snap.Status.IsTerminal() {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// mutate applies fn to a copy of the run and publishes it atomically.
func (s *RunStore) mutate(runID string, fn func(run *crawler.Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	next := entry.run
	if err := fn(&next); err != nil {
		return err
	}
	entry.run = next
	close(entry.changed)
	entry.changed = make(chan struct{})
	return nil
}

func (s *RunStore) fromArchive(rs crawler.ResultSet, err error) (crawler.ResultSet, error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return crawler.ResultSet{}, err
		}
		return crawler.ResultSet{}, fmt.Errorf("load archived result: %w", err)
	}
	return rs, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
