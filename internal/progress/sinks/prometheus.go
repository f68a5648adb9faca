package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lunyoo/adlibrary-crawler/internal/progress"
)

// PrometheusSink exports run and unit metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	unitsCompleted *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	skippedItems   prometheus.Counter
	unitDuration   *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adcrawler_runs_started_total",
			Help: "Total runs that entered the running state.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_runs_completed_total",
			Help: "Total runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adcrawler_runs_running",
			Help: "Current number of running runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcrawler_run_runtime_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		unitsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_units_completed_total",
			Help: "Search units finished partitioned by region and outcome.",
		}, []string{"region", "outcome"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adcrawler_candidates_extracted_total",
			Help: "Candidate records extracted per region.",
		}, []string{"region"}),
		skippedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adcrawler_items_skipped_total",
			Help: "Listing items skipped because they could not be read.",
		}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcrawler_unit_duration_seconds",
			Help:    "Duration of one search unit partitioned by outcome.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.unitsCompleted,
		s.candidates,
		s.skippedItems,
		s.unitDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StageUnitDone:
			s.observeUnit(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeUnit(evt progress.Event) {
	outcome := string(evt.Outcome)
	s.unitsCompleted.WithLabelValues(evt.Region, outcome).Inc()
	if evt.Candidates > 0 {
		s.candidates.WithLabelValues(evt.Region).Add(float64(evt.Candidates))
	}
	if evt.Skipped > 0 {
		s.skippedItems.Add(float64(evt.Skipped))
	}
	if evt.Dur > 0 {
		s.unitDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker keeps the running gauge honest when start or finish events are
// repeated.
type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
