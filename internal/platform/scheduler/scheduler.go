// Package scheduler runs named jobs on fixed intervals. A job never overlaps
// with itself within a process, and when a Locker is configured it never
// overlaps across processes either.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medicare/medicare/internal/platform/lease"
	"github.com/medicare/medicare/internal/platform/telemetry"
)

var ErrUnknownJob = errors.New("unknown job")

type JobFunc func(ctx context.Context) error

type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
	// LeaseTTL bounds how long a crashed worker can block the job elsewhere.
	// Defaults to Interval.
	LeaseTTL time.Duration
}

type entry struct {
	Job
	running atomic.Bool
}

type Option func(*Scheduler)

func WithLocker(l lease.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	locker  lease.Locker
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  zerolog.Logger
}

func New(logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*entry),
		tracer: otel.Tracer("github.com/medicare/medicare/scheduler"),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}
	if j.LeaseTTL <= 0 {
		j.LeaseTTL = j.Interval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("job %s registered twice", j.Name)
	}
	s.jobs[j.Name] = &entry{Job: j}
	return nil
}

// Names lists registered jobs in name order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run starts one ticker goroutine per job and blocks until ctx is cancelled
// and every in-flight run has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.loop(ctx, e, &wg)
		}(e)
	}
	s.logger.Info().Int("jobs", len(entries)).Msg("scheduler started")
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e *entry, wg *sync.WaitGroup) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks that arrive while a run is in progress are dropped by
			// the running flag.
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.execute(ctx, e)
			}()
		}
	}
}

// RunOnce executes the named job immediately under the same guards as a
// scheduled tick. ran is false when the job was already running here or
// its lease is held elsewhere.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (ran bool, err error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e)
}

func (s *Scheduler) execute(ctx context.Context, e *entry) (bool, error) {
	log := s.logger.With().Str("job", e.Name).Logger()
	if !e.running.CompareAndSwap(false, true) {
		log.Debug().Msg("previous run still in progress, skipping")
		return false, nil
	}
	defer e.running.Store(false)

	if s.locker != nil {
		l, err := s.locker.Acquire(ctx, e.Name, e.LeaseTTL)
		switch {
		case errors.Is(err, lease.ErrHeld):
			log.Debug().Msg("lease held by another worker, skipping")
			return false, nil
		case err != nil:
			log.Warn().Err(err).Msg("lease unavailable, running unguarded")
		default:
			defer func() {
				if err := l.Release(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("release lease")
				}
			}()
		}
	}

	ctx, span := s.tracer.Start(ctx, "job "+e.Name)
	defer span.End()

	start := time.Now()
	err := safeRun(ctx, e.Run)
	elapsed := time.Since(start)
	s.metrics.JobRun(ctx, e.Name, err, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Dur("duration", elapsed).Msg("job failed")
		return true, err
	}
	log.Debug().Dur("duration", elapsed).Msg("job finished")
	return true, nil
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
