package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Refresher rescores every customer.
type Refresher interface {
	RefreshAll(ctx context.Context) (refreshed, failed int, err error)
}

// EngagementRefresher periodically recalculates engagement so time-decayed
// signals (content views leaving the window, aging approvals) lower scores
// without a new interaction.
type EngagementRefresher struct {
	periodic

	refresher Refresher
	refreshed int64
	failed    int64
}

func NewEngagementRefresher(r Refresher, interval time.Duration) *EngagementRefresher {
	e := &EngagementRefresher{refresher: r}
	e.periodic = periodic{name: "EngagementRefresher", interval: interval, fn: e.tick}
	return e
}

func (e *EngagementRefresher) tick(ctx context.Context) {
	if err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
		logger.Error("[EngagementRefresher] refresh failed", "error", err)
	}
}

// RunOnce rescores everyone now.
func (e *EngagementRefresher) RunOnce(ctx context.Context) error {
	start := time.Now()
	refreshed, failed, err := e.refresher.RefreshAll(ctx)
	atomic.AddInt64(&e.refreshed, int64(refreshed))
	atomic.AddInt64(&e.failed, int64(failed))
	if err != nil {
		return err
	}
	logger.Info("[EngagementRefresher] refresh finished",
		"refreshed", refreshed, "failed", failed, "duration", time.Since(start).String())
	return nil
}

// Stats returns counters since start.
func (e *EngagementRefresher) Stats() map[string]int64 {
	return map[string]int64{
		"refreshed": atomic.LoadInt64(&e.refreshed),
		"failed":    atomic.LoadInt64(&e.failed),
	}
}
