package analysis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// Result is the outcome of one completed analysis call. Exactly one of
// Analysis and Err is set.
type Result struct {
	Analysis *telemetry.FaultAnalysis
	Err      error
	Record   telemetry.Record
	At       time.Time
}

// Observer is notified of every result that was not discarded.
type Observer func(Result)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTimeout bounds each analysis call.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.WithTicker) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithObserver registers fn to receive results.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler periodically hands the latest record to an Analyzer while a link
// is up. Calls never overlap: a tick that finds a call in flight is skipped.
type Scheduler struct {
	analyzer core.Analyzer
	latest   func() telemetry.Record

	interval time.Duration
	timeout  time.Duration
	clock    clock.WithTicker
	observer Observer
	logger   log.Logger

	// mu guards run and serializes result publication against Stop.
	mu  sync.Mutex
	run *run

	// inflight spans periods so a call left over from a closed period still
	// blocks the first tick of the next one.
	inflight   atomic.Bool
	generation atomic.Uint64
	last       atomic.Pointer[Result]
}

// run is one Start..Stop period.
type run struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler returns a stopped scheduler. latest supplies the record to
// analyze on each tick.
func NewScheduler(analyzer core.Analyzer, latest func() telemetry.Record, opts ...Option) *Scheduler {
	s := &Scheduler{
		analyzer: analyzer,
		latest:   latest,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		clock:    clock.RealClock{},
		logger:   log.WithName("analysis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new period: one analysis right away, then one per interval.
// Starting a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:    s.generation.Add(1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.run = r

	s.logger.Debug("Analysis scheduler started", "interval", s.interval, "generation", r.gen)
	go s.loop(ctx, r)
}

// Stop cancels the timer and returns once the tick loop has exited. A call
// still in flight is left to finish but its result is dropped. The last
// result is cleared.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.generation.Add(1)
	s.last.Store(nil)
	s.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	s.logger.Debug("Analysis scheduler stopped", "generation", r.gen)
}

// Running reports whether a period is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Last returns the most recent result of the current period, or nil.
func (s *Scheduler) Last() *Result {
	return s.last.Load()
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer close(r.done)

	s.tick(r)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(r)
		}
	}
}

func (s *Scheduler) tick(r *run) {
	if !s.inflight.CompareAndSwap(false, true) {
		metrics.AnalysisCycles.WithLabelValues(metrics.OutcomeSkippedInFlight).Inc()
		s.logger.Debug("Analysis still in flight, skipping tick")
		return
	}

	rec := s.latest()
	if !rec.HasData() {
		s.inflight.Store(false)
		metrics.AnalysisCycles.WithLabelValues(metrics.OutcomeSkippedNoData).Inc()
		return
	}

	go s.call(r, rec)
}

func (s *Scheduler) call(r *run, rec telemetry.Record) {
	defer s.inflight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := s.clock.Now()
	fa, err := s.analyzer.Analyze(ctx, rec)
	metrics.AnalysisLatency.Observe(s.clock.Since(start).Seconds())

	res := Result{Analysis: fa, Err: err, Record: rec, At: s.clock.Now()}
	if err != nil {
		res.Analysis = nil
	}

	s.mu.Lock()
	if s.generation.Load() != r.gen {
		s.mu.Unlock()
		metrics.AnalysisCycles.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		s.logger.Debug("Discarding analysis from a closed period", "generation", r.gen)
		return
	}
	s.last.Store(&res)
	s.mu.Unlock()

	if err != nil {
		metrics.AnalysisCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		s.logger.Warn("Remote analysis failed", "error", err.Error())
	} else {
		metrics.AnalysisCycles.WithLabelValues(metrics.OutcomeOK).Inc()
		s.logger.Debug("Analysis completed", "status", fa.Status)
	}

	if s.observer != nil {
		s.observer(res)
	}
}
