package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newResult(id string) crawler.ResultSet {
	return crawler.ResultSet{
		ID:    id,
		Label: "fitness",
		Records: []crawler.ScoredRecord{{
			CandidateRecord: crawler.CandidateRecord{Title: "Treino em casa", Advertiser: "Academia"},
			QualityScore:    0.7,
		}},
	}
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewRunStore(WithClock(fixedClock{t: at}))

	run, err := s.CreateRun(ctx, "run-1", 2, "fitness")
	require.NoError(t, err)
	assert.Equal(t, crawler.RunStatusQueued, run.Status)
	assert.Equal(t, at, run.CreatedAt)

	_, err = s.CreateRun(ctx, "run-1", 2, "fitness")
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	require.ErrorIs(t, s.UpdateProgress(ctx, "run-1", 1, 1), store.ErrInvalidTransition)
	require.NoError(t, s.StartRun(ctx, "run-1"))
	require.ErrorIs(t, s.StartRun(ctx, "run-1"), store.ErrInvalidTransition)

	require.NoError(t, s.UpdateProgress(ctx, "run-1", 1, 4))
	require.NoError(t, s.UpdateProgress(ctx, "run-1", 1, 4))
	require.ErrorIs(t, s.UpdateProgress(ctx, "run-1", 0, 4), store.ErrInvalidTransition)
	require.ErrorIs(t, s.UpdateProgress(ctx, "run-1", 1, 3), store.ErrInvalidTransition)
	require.ErrorIs(t, s.UpdateProgress(ctx, "run-1", 3, 4), store.ErrInvalidTransition)

	_, err = s.GetResultByRun(ctx, "run-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Complete(ctx, "run-1", newResult("fitness_1_abc")))
	final, err := s.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.RunStatusDone, final.Status)
	assert.Equal(t, final.Total, final.Current)
	assert.Equal(t, "fitness_1_abc", final.ResultID)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.FinishedAt)
	assert.Empty(t, final.ErrorMessage)

	byID, err := s.GetResult(ctx, "fitness_1_abc")
	require.NoError(t, err)
	byRun, err := s.GetResultByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, byID, byRun)
	assert.Equal(t, "run-1", byID.RunID)

	require.ErrorIs(t, s.Fail(ctx, "run-1", "late"), store.ErrInvalidTransition)
	require.ErrorIs(t, s.UpdateProgress(ctx, "run-1", 2, 5), store.ErrInvalidTransition)
	again, err := s.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, final, again)
}

func TestRunStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	_, err := s.CreateRun(ctx, "run-1", 1, "x")
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run-1"))
	require.NoError(t, s.Complete(ctx, "run-1", newResult("res")))

	rs, err := s.GetResult(ctx, "res")
	require.NoError(t, err)
	rs.Records[0].Title = "mutated"

	again, err := s.GetResult(ctx, "res")
	require.NoError(t, err)
	assert.Equal(t, "Treino em casa", again.Records[0].Title)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()

	_, err := s.GetProgress(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetResult(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetResultByRun(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.SubscribeProgress(ctx, "unknown")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Fail(ctx, "unknown", "x"), store.ErrNotFound)
}

func TestRunStoreFailHidesResult(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	_, err := s.CreateRun(ctx, "run-err", 3, "x")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "run-err", ""))

	run, err := s.GetProgress(ctx, "run-err")
	require.NoError(t, err)
	assert.Equal(t, crawler.RunStatusError, run.Status)
	assert.Equal(t, "unknown error", run.ErrorMessage)

	_, err = s.GetResultByRun(ctx, "run-err")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Complete(ctx, "run-err", newResult("res")), store.ErrInvalidTransition)
}

type stubArchive struct {
	mu      sync.Mutex
	saveErr error
	saved   map[string]crawler.ResultSet
}

func (a *stubArchive) SaveResult(_ context.Context, rs crawler.ResultSet) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return a.saveErr
	}
	if a.saved == nil {
		a.saved = make(map[string]crawler.ResultSet)
	}
	a.saved[rs.ID] = rs
	return nil
}

func (a *stubArchive) LoadResult(_ context.Context, id string) (crawler.ResultSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.saved[id]
	if !ok {
		return crawler.ResultSet{}, store.ErrNotFound
	}
	return rs, nil
}

func (a *stubArchive) LoadResultByRun(_ context.Context, runID string) (crawler.ResultSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rs := range a.saved {
		if rs.RunID == runID {
			return rs, nil
		}
	}
	return crawler.ResultSet{}, store.ErrNotFound
}

func TestRunStoreArchiveFailureIsStoreWriteError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archive := &stubArchive{saveErr: errors.New("db down")}
	s := NewRunStore(WithArchive(archive))
	_, err := s.CreateRun(ctx, "run-1", 1, "x")
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run-1"))

	err = s.Complete(ctx, "run-1", newResult("res"))
	require.ErrorIs(t, err, crawler.ErrStoreWrite)

	run, err := s.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, crawler.RunStatusRunning, run.Status)
	_, err = s.GetResult(ctx, "res")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreFallsBackToArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archive := &stubArchive{}
	first := NewRunStore(WithArchive(archive))
	_, err := first.CreateRun(ctx, "run-1", 1, "x")
	require.NoError(t, err)
	require.NoError(t, first.StartRun(ctx, "run-1"))
	require.NoError(t, first.Complete(ctx, "run-1", newResult("res")))

	restarted := NewRunStore(WithArchive(archive))
	rs, err := restarted.GetResult(ctx, "res")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rs.RunID)

	rs, err = restarted.GetResultByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "res", rs.ID)
}

func TestRunStorePartialArchiveWriteStaysHidden(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accepted := &stubArchive{}
	s := NewRunStore(WithArchive(store.NewMultiArchive(accepted, &stubArchive{saveErr: errors.New("db down")})))
	_, err := s.CreateRun(ctx, "run_1", 1, "fitness")
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run_1"))

	err = s.Complete(ctx, "run_1", newResult("fitness_1700000000_run_1"))
	require.ErrorIs(t, err, crawler.ErrStoreWrite)
	require.NoError(t, s.Fail(ctx, "run_1", err.Error()))

	_, err = accepted.LoadResult(ctx, "fitness_1700000000_run_1")
	require.NoError(t, err, "the first archive kept the write")

	_, err = s.GetResult(ctx, "fitness_1700000000_run_1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetResultByRun(ctx, "run_1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeProgressEmitsChangesUntilTerminal(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewRunStore()
	_, err := s.CreateRun(ctx, "run-1", 2, "x")
	require.NoError(t, err)

	sub, err := s.SubscribeProgress(ctx, "run-1")
	require.NoError(t, err)

	first := <-sub
	assert.Equal(t, crawler.RunStatusQueued, first.Status)

	var (
		wg        sync.WaitGroup
		snapshots []crawler.Run
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range sub {
			snapshots = append(snapshots, snap)
		}
	}()

	require.NoError(t, s.StartRun(ctx, "run-1"))
	require.NoError(t, s.UpdateProgress(ctx, "run-1", 1, 3))
	require.NoError(t, s.UpdateProgress(ctx, "run-1", 1, 3))
	require.NoError(t, s.UpdateProgress(ctx, "run-1", 2, 5))
	require.NoError(t, s.Complete(ctx, "run-1", newResult("res")))
	wg.Wait()

	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, crawler.RunStatusDone, last.Status)
	assert.Equal(t, last.Total, last.Current)

	prev := first
	for _, snap := range snapshots {
		assert.False(t, prev.SameProgress(snap), "duplicate snapshot emitted: %+v", snap)
		assert.GreaterOrEqual(t, snap.Current, prev.Current)
		assert.LessOrEqual(t, snap.Current, snap.Total)
		prev = snap
	}
}

func TestSubscribeProgressOnTerminalRunEndsImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	_, err := s.CreateRun(ctx, "run-1", 1, "x")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "run-1", "session init failed"))

	sub, err := s.SubscribeProgress(ctx, "run-1")
	require.NoError(t, err)
	var got []crawler.Run
	for snap := range sub {
		got = append(got, snap)
	}
	require.Len(t, got, 1)
	assert.Equal(t, crawler.RunStatusError, got[0].Status)
}

func TestSubscribeProgressStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	_, err := s.CreateRun(context.Background(), "run-1", 1, "x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.SubscribeProgress(ctx, "run-1")
	require.NoError(t, err)
	<-sub
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestRunStoreConcurrentReadersSeeConsistentRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	const total = 200
	_, err := s.CreateRun(ctx, "run-1", total, "x")
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run-1"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-stop:
					return
				default:
				}
				run, err := s.GetProgress(ctx, "run-1")
				if err != nil {
					t.Errorf("GetProgress() error = %v", err)
					return
				}
				if run.Current < last || run.Current > run.Total || run.Found != run.Current*2 {
					t.Errorf("torn or regressing snapshot: %+v (last %d)", run, last)
					return
				}
				last = run.Current
			}
		}()
	}
	for i := 1; i <= total; i++ {
		require.NoError(t, s.UpdateProgress(ctx, "run-1", i, i*2))
	}
	close(stop)
	wg.Wait()
}
