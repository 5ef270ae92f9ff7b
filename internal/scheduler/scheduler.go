// Package scheduler drives the engine's periodic work: round lane
// processing, market lifecycle flags, and pending withdrawal sweeps. The
// clock is injectable so tests can tick deterministically.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quforge/qubet/internal/domain"
)

// Clock abstracts time so tests can drive ticks without sleeping.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *time.Ticker
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

func (SystemClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// Job is one unit of periodic work. Run receives the tick's timestamp so
// every job in a tick sees the same notion of now.
type Job struct {
	Name string
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler runs its jobs on a fixed interval. Start is idempotent: a second
// call never spawns a second tick loop. Ticks are guarded so a slow tick is
// never overlapped by the next one; the next interval simply skips.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	clock    Clock
	status   domain.StatusStore
	logger   *slog.Logger

	started atomic.Bool
	ticking atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	stopMu  sync.Mutex
}

// New creates a Scheduler that runs jobs every interval.
func New(jobs []Job, interval time.Duration, clock Clock, status domain.StatusStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
		clock:    clock,
		status:   status,
		logger:   logger.With(slog.String("component", "scheduler")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. Subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "start called on running scheduler")
		return
	}
	go s.loop(ctx)
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("jobs", len(s.jobs)),
	)
}

// Stop terminates the tick loop and waits for an in-flight tick to finish.
// Safe to call multiple times and before Start.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.stopMu.Unlock()
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job once with a shared timestamp. Concurrent invocations
// collapse: while one tick is running, others return immediately. Job errors
// are isolated; one failing job never blocks the rest. Returns true when the
// tick actually ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.ticking.CompareAndSwap(false, true) {
		return false
	}
	defer s.ticking.Store(false)

	now := s.clock.Now()
	var failures []string
	for _, job := range s.jobs {
		if err := job.Run(ctx, now); err != nil {
			failures = append(failures, job.Name+": "+err.Error())
			s.logger.ErrorContext(ctx, "job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.status != nil {
		if err := s.status.Set(ctx, domain.StatusKeyLastCronRun, now.Format(time.RFC3339)); err != nil {
			s.logger.WarnContext(ctx, "record last run failed", slog.String("error", err.Error()))
		}
		if err := s.status.Set(ctx, domain.StatusKeyLastCronErrors, strings.Join(failures, "; ")); err != nil {
			s.logger.WarnContext(ctx, "record last errors failed", slog.String("error", err.Error()))
		}
	}
	return true
}
