// Package orchestrator drives scrape runs through their lifecycle: it claims
// a session, runs every (term, region) unit through the extraction pipeline,
// ranks the accumulated candidates once and records the outcome in the run
// store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/extract"
	"github.com/Lunyoo/adlibrary-crawler/internal/logging"
	"github.com/Lunyoo/adlibrary-crawler/internal/progress"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
	"github.com/Lunyoo/adlibrary-crawler/internal/telemetry"
)

// ErrShuttingDown is returned for work submitted after Shutdown began.
var ErrShuttingDown = errors.New("orchestrator shutting down")

// shutdownMessage is recorded on runs that never started before shutdown.
const shutdownMessage = "service shutting down"

// Pipeline extracts the candidates of one unit; *extract.Pipeline satisfies it.
type Pipeline interface {
	FetchCandidates(ctx context.Context, s crawler.Session, term, region string) (extract.UnitReport, error)
}

// SessionPool hands out browsing sessions; *session.Pool satisfies it.
type SessionPool interface {
	Acquire(ctx context.Context) (crawler.Session, error)
	Release(s crawler.Session)
}

// Ranker deduplicates, filters and orders candidates; *scoring.Engine
// satisfies it.
type Ranker interface {
	ScoreAndRank(candidates []crawler.CandidateRecord, minScore float64, limit int) []crawler.ScoredRecord
}

// Pacer waits a randomized interval between units.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Enqueuer accepts runs for asynchronous execution; the dispatcher and
// in-memory queue satisfy it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Config controls request defaults and completion notifications.
type Config struct {
	DefaultRegion string
	DefaultLimit  int
	MinScore      float64
	// Topic receives a CompletionEvent per finished run. Empty disables it.
	Topic string
}

// Deps groups the collaborators of an Orchestrator. Store, Pool, Pipeline,
// Ranker and IDs are required.
type Deps struct {
	Store     crawler.RunStore
	Pool      SessionPool
	Pipeline  Pipeline
	Ranker    Ranker
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Pacer     Pacer
	Queue     Enqueuer
	Publisher crawler.Publisher
	Events    progress.Emitter
	Logger    *zap.Logger
}

// handle tracks one run from submission until it reaches a terminal state.
type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// claimed is set by whichever of Execute or Shutdown owns the run.
	claimed atomic.Bool
}

// Orchestrator executes runs and owns their task handles.
type Orchestrator struct {
	cfg       Config
	store     crawler.RunStore
	pool      SessionPool
	pipeline  Pipeline
	ranker    Ranker
	ids       crawler.IDGenerator
	clock     crawler.Clock
	pacer     Pacer
	queue     Enqueuer
	publisher crawler.Publisher
	events    progress.Emitter
	logger    *zap.Logger
	tracer    trace.Tracer

	root       context.Context
	cancelRoot context.CancelFunc

	mu      sync.Mutex
	handles map[string]*handle
	closing bool
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("run store is required")
	case deps.Pool == nil:
		return nil, errors.New("session pool is required")
	case deps.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case deps.Ranker == nil:
		return nil, errors.New("ranker is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Events == nil {
		deps.Events = progress.NopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		pool:       deps.Pool,
		pipeline:   deps.Pipeline,
		ranker:     deps.Ranker,
		ids:        deps.IDs,
		clock:      deps.Clock,
		pacer:      deps.Pacer,
		queue:      deps.Queue,
		publisher:  deps.Publisher,
		events:     deps.Events,
		logger:     deps.Logger,
		tracer:     telemetry.Tracer(),
		root:       root,
		cancelRoot: cancel,
		handles:    make(map[string]*handle),
	}, nil
}

// Prepare normalizes req with the configured defaults and validates it.
func (o *Orchestrator) Prepare(req crawler.JobRequest) (crawler.JobRequest, error) {
	req = req.Normalize(o.cfg.DefaultRegion, o.cfg.DefaultLimit)
	if err := req.Validate(); err != nil {
		return crawler.JobRequest{}, err
	}
	return req, nil
}

// StartAsync creates a queued run, hands it to the queue and returns its id
// without waiting for execution.
func (o *Orchestrator) StartAsync(ctx context.Context, req crawler.JobRequest) (string, error) {
	if o.queue == nil {
		return "", errors.New("async execution is not configured")
	}
	req, err := o.Prepare(req)
	if err != nil {
		return "", err
	}
	runID, h, err := o.submit(ctx, req)
	if err != nil {
		return "", err
	}
	item := crawler.QueueItem{RunID: runID, Request: req, Submitted: o.clock.Now()}
	if err := o.queue.Enqueue(ctx, item); err != nil {
		if h.claimed.CompareAndSwap(false, true) {
			o.fail(runID, fmt.Sprintf("enqueue run: %v", err))
			o.finish(runID, h)
		}
		return "", fmt.Errorf("enqueue run %s: %w", runID, err)
	}
	o.logger.Info("run queued",
		zap.String("run_id", runID),
		zap.String("label", req.Label),
		zap.Int("total", req.Units()),
	)
	return runID, nil
}

// RunSync executes req and blocks until the run is terminal or ctx ends.
// The run id is always returned once the run exists. When ctx ends first
// the run keeps going in the background and ctx's error is returned, so
// the caller can fall back to polling.
func (o *Orchestrator) RunSync(ctx context.Context, req crawler.JobRequest) (string, crawler.ResultSet, error) {
	req, err := o.Prepare(req)
	if err != nil {
		return "", crawler.ResultSet{}, err
	}
	runID, h, err := o.submit(ctx, req)
	if err != nil {
		return "", crawler.ResultSet{}, err
	}
	h.claimed.Store(true)

	errCh := make(chan error, 1)
	go func() {
		err := o.execute(h.ctx, runID, req)
		o.finish(runID, h)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return runID, crawler.ResultSet{}, err
		}
		rs, err := o.store.GetResultByRun(context.WithoutCancel(ctx), runID)
		if err != nil {
			return runID, crawler.ResultSet{}, fmt.Errorf("load result for run %s: %w", runID, err)
		}
		return runID, rs, nil
	case <-ctx.Done():
		return runID, crawler.ResultSet{}, fmt.Errorf("run %s still in progress: %w", runID, ctx.Err())
	}
}

// Execute runs a dequeued item. It is called by workers; items whose run
// was already claimed by Shutdown are skipped.
func (o *Orchestrator) Execute(ctx context.Context, item crawler.QueueItem) error {
	h := o.lookup(item.RunID)
	if h == nil {
		return fmt.Errorf("run %s: %w", item.RunID, store.ErrNotFound)
	}
	if !h.claimed.CompareAndSwap(false, true) {
		return nil
	}
	defer o.finish(item.RunID, h)

	runCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return o.execute(runCtx, item.RunID, item.Request)
}

// Wait blocks until the run's handle is released or ctx ends. Unknown or
// already finished runs return immediately.
func (o *Orchestrator) Wait(ctx context.Context, runID string) error {
	h := o.lookup(runID)
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns how many runs hold a handle.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// Shutdown stops accepting runs, cancels in-flight ones, fails runs that
// never started and waits for executing runs to unwind.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	pending := make(map[string]*handle, len(o.handles))
	for id, h := range o.handles {
		pending[id] = h
	}
	o.mu.Unlock()

	o.cancelRoot()
	for runID, h := range pending {
		if h.claimed.CompareAndSwap(false, true) {
			o.fail(runID, shutdownMessage)
			o.finish(runID, h)
		}
	}
	for _, h := range pending {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown: %w", ctx.Err())
		}
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, req crawler.JobRequest) (string, *handle, error) {
	o.mu.Lock()
	closing := o.closing
	o.mu.Unlock()
	if closing {
		return "", nil, ErrShuttingDown
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return "", nil, fmt.Errorf("generate run id: %w", err)
	}
	if _, err := o.store.CreateRun(ctx, runID, req.Units(), req.Label); err != nil {
		return "", nil, fmt.Errorf("create run: %w", err)
	}

	hctx, cancel := context.WithCancel(o.root)
	h := &handle{ctx: hctx, cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.handles[runID] = h
	o.mu.Unlock()

	o.emit(progress.Event{RunID: runID, Stage: progress.StageRunQueued, Label: req.Label})
	return runID, h, nil
}

func (o *Orchestrator) lookup(runID string) *handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[runID]
}

func (o *Orchestrator) finish(runID string, h *handle) {
	o.mu.Lock()
	delete(o.handles, runID)
	o.mu.Unlock()
	h.cancel()
	close(h.done)
}

// execute is the run state machine. Every failure it returns has already
// been recorded on the run.
func (o *Orchestrator) execute(ctx context.Context, runID string, req crawler.JobRequest) error {
	start := time.Now()
	log := logging.ForRun(o.logger, runID, req.Label)
	ctx, span := o.tracer.Start(ctx, "adcrawler.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.label", req.Label),
		attribute.Int("run.units", req.Units()),
	))
	defer span.End()

	abort := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(runID, err.Error())
		o.emit(progress.Event{
			RunID: runID, Stage: progress.StageRunError, Label: req.Label,
			Dur: time.Since(start), Note: err.Error(),
		})
		return err
	}

	sess, err := o.pool.Acquire(ctx)
	if err != nil {
		return abort(fmt.Errorf("acquire session: %w", err))
	}
	defer o.pool.Release(sess)

	if err := o.store.StartRun(ctx, runID); err != nil {
		return abort(fmt.Errorf("%w: start run: %w", crawler.ErrStoreWrite, err))
	}
	o.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Label: req.Label})
	log.Info("run started", zap.Int("total", req.Units()))

	if err := sess.EnsureReady(ctx); err != nil {
		if !errors.Is(err, crawler.ErrSessionInit) {
			err = fmt.Errorf("%w: %w", crawler.ErrSessionInit, err)
		}
		log.Error("session bootstrap failed", zap.Error(err))
		return abort(err)
	}

	var candidates []crawler.CandidateRecord
	completed := 0
	for _, term := range req.Terms {
		for _, region := range req.Regions {
			if completed > 0 && o.pacer != nil {
				if err := o.pacer.Wait(ctx); err != nil {
					return abort(fmt.Errorf("run canceled: %w", err))
				}
			}
			records, err := o.runUnit(ctx, sess, runID, req.Label, term, region)
			if err != nil {
				return abort(err)
			}
			candidates = append(candidates, records...)
			completed++
			// current reaches total only together with Done, inside Complete.
			if err := o.store.UpdateProgress(ctx, runID, min(completed, req.Units()-1), len(candidates)); err != nil {
				return abort(fmt.Errorf("%w: update progress: %w", crawler.ErrStoreWrite, err))
			}
		}
	}

	ranked := o.ranker.ScoreAndRank(candidates, o.cfg.MinScore, req.ResultLimit)
	completedAt := o.clock.Now()
	result := crawler.ResultSet{
		ID:          crawler.ResultID(req.Label, completedAt, runID),
		RunID:       runID,
		Label:       req.Label,
		Records:     ranked,
		CompletedAt: completedAt,
	}
	if err := o.store.Complete(ctx, runID, result); err != nil {
		if !errors.Is(err, crawler.ErrStoreWrite) {
			err = fmt.Errorf("%w: %w", crawler.ErrStoreWrite, err)
		}
		log.Error("result persistence failed", zap.Error(err))
		return abort(err)
	}

	span.SetAttributes(attribute.Int("run.found", len(candidates)), attribute.Int("run.records", len(ranked)))
	log.Info("run done",
		zap.String("result_id", result.ID),
		zap.Int("found", len(candidates)),
		zap.Int("records", len(ranked)),
		zap.Duration("dur", time.Since(start)),
	)
	o.publishCompletion(ctx, result)
	o.emit(progress.Event{
		RunID: runID, Stage: progress.StageRunDone, Label: req.Label,
		Candidates: len(candidates), Dur: time.Since(start),
	})
	return nil
}

// runUnit fetches one (term, region) unit. Navigation timeouts and other
// non-fatal failures yield zero records; session bootstrap failures and
// cancellation are returned.
func (o *Orchestrator) runUnit(
	ctx context.Context,
	sess crawler.Session,
	runID, label, term, region string,
) ([]crawler.CandidateRecord, error) {
	ctx, span := o.tracer.Start(ctx, "adcrawler.unit", trace.WithAttributes(
		attribute.String("unit.term", term),
		attribute.String("unit.region", region),
	))
	defer span.End()

	start := time.Now()
	report, err := o.pipeline.FetchCandidates(ctx, sess, term, region)
	evt := progress.Event{
		RunID: runID, Stage: progress.StageUnitDone, Label: label,
		Term: term, Region: region, Outcome: progress.UnitOK,
		Skipped: report.Skipped, Dur: time.Since(start),
	}
	switch {
	case err == nil:
		evt.Candidates = len(report.Records)
		evt.Note = report.Wall
		span.SetAttributes(attribute.Int("unit.candidates", len(report.Records)))
		o.emit(evt)
		return report.Records, nil
	case errors.Is(err, crawler.ErrSessionInit):
		span.RecordError(err)
		return nil, err
	case ctx.Err() != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("run canceled: %w", ctx.Err())
	case errors.Is(err, crawler.ErrNavigationTimeout):
		o.logger.Warn("unit navigation timed out",
			zap.String("run_id", runID), zap.String("term", term), zap.String("region", region))
		evt.Outcome = progress.UnitTimeout
	default:
		o.logger.Warn("unit failed",
			zap.String("run_id", runID), zap.String("term", term), zap.String("region", region), zap.Error(err))
		evt.Outcome = progress.UnitFailed
	}
	span.RecordError(err)
	evt.Note = err.Error()
	o.emit(evt)
	return nil, nil
}

func (o *Orchestrator) fail(runID, message string) {
	// Detached so a canceled run can still record why it stopped.
	ctx := context.WithoutCancel(o.root)
	if err := o.store.Fail(ctx, runID, message); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return
		}
		o.logger.Error("record run failure", zap.String("run_id", runID), zap.Error(err))
		return
	}
	o.logger.Error("run failed", zap.String("run_id", runID), zap.String("error", message))
}

func (o *Orchestrator) publishCompletion(ctx context.Context, result crawler.ResultSet) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	evt := crawler.CompletionEvent{
		RunID:       result.RunID,
		ResultID:    result.ID,
		Label:       result.Label,
		Records:     len(result.Records),
		CompletedAt: result.CompletedAt,
	}
	id, err := o.publisher.Publish(ctx, o.cfg.Topic, evt)
	if err != nil {
		o.logger.Warn("publish completion failed", zap.String("run_id", result.RunID), zap.Error(err))
		return
	}
	o.logger.Debug("completion published", zap.String("run_id", result.RunID), zap.String("message_id", id))
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.TS = o.clock.Now()
	o.events.Emit(evt)
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
