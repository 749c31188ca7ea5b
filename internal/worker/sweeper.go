package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ignite/lifecycle-engine/internal/pkg/distlock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"github.com/ignite/lifecycle-engine/internal/timeline"
)

// SweepRunner processes every due timeline record.
type SweepRunner interface {
	ProcessAllDueCustomers(ctx context.Context) (*timeline.SweepReport, error)
}

// ReportArchiver stores a finished sweep report.
type ReportArchiver interface {
	Archive(ctx context.Context, r *timeline.SweepReport) error
}

// Sweeper triggers the timeline sweep on an interval. A distributed lock
// keeps concurrent workers from sweeping at the same time; a worker that
// finds the lock held skips the tick.
type Sweeper struct {
	periodic

	runner   SweepRunner
	lock     distlock.DistLock
	lockTTL  time.Duration
	archiver ReportArchiver

	runs     int64
	skipped  int64
	failures int64
}

// NewSweeper builds a sweeper. lockTTL bounds how long a crashed worker can
// hold the sweep; a live sweep keeps extending it.
func NewSweeper(runner SweepRunner, lock distlock.DistLock, interval, lockTTL time.Duration) *Sweeper {
	s := &Sweeper{runner: runner, lock: lock, lockTTL: lockTTL}
	s.periodic = periodic{name: "Sweeper", interval: interval, fn: s.tick}
	return s
}

// SetArchiver makes every completed sweep report get archived.
func (s *Sweeper) SetArchiver(a ReportArchiver) { s.archiver = a }

// Stats returns counters since start.
func (s *Sweeper) Stats() map[string]int64 {
	return map[string]int64{
		"runs":     atomic.LoadInt64(&s.runs),
		"skipped":  atomic.LoadInt64(&s.skipped),
		"failures": atomic.LoadInt64(&s.failures),
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("[Sweeper] sweep failed", "error", err)
	}
}

// RunOnce sweeps now if the lock is free. A nil report with a nil error
// means another worker holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (*timeline.SweepReport, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		atomic.AddInt64(&s.failures, 1)
		return nil, err
	}
	if !acquired {
		atomic.AddInt64(&s.skipped, 1)
		logger.Info("[Sweeper] sweep already running elsewhere, skipping")
		return nil, nil
	}
	defer func() {
		// release on a fresh context so a cancelled sweep still frees the lock
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(rctx); err != nil {
			logger.Warn("[Sweeper] lock release failed", "error", err)
		}
	}()

	stop := s.keepAlive(ctx)
	report, err := s.runner.ProcessAllDueCustomers(ctx)
	stop()
	if err != nil {
		atomic.AddInt64(&s.failures, 1)
		return report, err
	}
	atomic.AddInt64(&s.runs, 1)

	logger.Info("[Sweeper] sweep finished",
		"processed", report.Processed, "dispatched", report.Dispatched, "failed", report.Failed,
		"advanced", report.Advanced, "completed", report.Completed, "errors", report.Errors,
		"duration", report.FinishedAt.Sub(report.StartedAt).String())

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, report); err != nil {
			logger.Warn("[Sweeper] report archive failed", "error", err)
		}
	}
	return report, nil
}

// keepAlive extends the lock every half TTL while the sweep runs.
func (s *Sweeper) keepAlive(ctx context.Context) (stop func()) {
	if s.lockTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(s.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Extend(ctx, s.lockTTL); err != nil {
					logger.Warn("[Sweeper] lock extend failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
