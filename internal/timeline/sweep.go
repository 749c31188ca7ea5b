package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Customer-level outcomes of a sweep.
const (
	OutcomeProcessed      = "processed"
	OutcomeCustomerPaused = "customer_paused"
	OutcomeCustomerClosed = "customer_closed"
	OutcomeError          = "error"
)

// CustomerResult is the outcome for one progress record in one sweep.
type CustomerResult struct {
	CustomerID string         `json:"customer_id"`
	ProgressID string         `json:"progress_id"`
	TimelineID string         `json:"timeline_id"`
	Day        int            `json:"day"`
	Outcome    string         `json:"outcome"`
	Actions    []ActionResult `json:"actions,omitempty"`
	Advanced   bool           `json:"advanced"`
	Completed  bool           `json:"completed"`
	Error      string         `json:"error,omitempty"`
}

// SweepReport aggregates one ProcessAllDueCustomers run.
type SweepReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Processed  int              `json:"processed"`
	Dispatched int              `json:"dispatched"`
	Skipped    int              `json:"skipped"`
	Pending    int              `json:"pending"`
	Failed     int              `json:"failed"`
	Advanced   int              `json:"advanced"`
	Completed  int              `json:"completed"`
	Errors     int              `json:"errors"`
	Customers  []CustomerResult `json:"customers"`
}

func (r *SweepReport) add(res CustomerResult) {
	r.Processed++
	if res.Outcome == OutcomeError {
		r.Errors++
	}
	if res.Advanced {
		r.Advanced++
	}
	if res.Completed {
		r.Completed++
	}
	for _, a := range res.Actions {
		switch a.Status {
		case StatusCompleted:
			r.Dispatched++
		case StatusSkipped:
			r.Skipped++
		case StatusPending, StatusClaimed:
			r.Pending++
		case StatusFailed:
			r.Failed++
		}
	}
	r.Customers = append(r.Customers, res)
}

// ProcessAllDueCustomers is the sweep entry point. It processes every
// active progress record; per-record failures become error results and
// never abort the sweep. Only a failure to list the records is returned.
func (s *Scheduler) ProcessAllDueCustomers(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: s.clock.Now()}

	active, err := s.repo.ListActiveProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active progress: %w", err)
	}

	results := make([]CustomerResult, len(active))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, p := range active {
		g.Go(func() error {
			results[i] = s.ProcessProgress(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		report.add(res)
	}
	report.FinishedAt = s.clock.Now()

	logger.Info("[TimelineScheduler] sweep complete",
		"processed", report.Processed, "dispatched", report.Dispatched, "skipped", report.Skipped,
		"failed", report.Failed, "advanced", report.Advanced, "completed", report.Completed, "errors", report.Errors)
	return report, nil
}

// ProcessCustomer runs the sweep for a single customer's active timelines.
func (s *Scheduler) ProcessCustomer(ctx context.Context, customerID string) ([]CustomerResult, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	all, err := s.repo.ListProgressForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	var out []CustomerResult
	for _, p := range all {
		if p.Status == domain.ProgressActive {
			out = append(out, s.ProcessProgress(ctx, p))
		}
	}
	return out, nil
}

// ProcessProgress executes and then tries to advance one record.
func (s *Scheduler) ProcessProgress(ctx context.Context, p *domain.CustomerTimelineProgress) CustomerResult {
	res := CustomerResult{CustomerID: p.CustomerID, ProgressID: p.ID, TimelineID: p.TimelineID, Day: p.CurrentDay}
	fail := func(err error) CustomerResult {
		res.Outcome, res.Error = OutcomeError, err.Error()
		logger.Warn("[TimelineScheduler] progress skipped", "customer_id", p.CustomerID, "progress_id", p.ID, "error", err)
		return res
	}
	if ctx.Err() != nil {
		return fail(ctx.Err())
	}

	c, err := s.repo.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return fail(err)
	}
	tl, err := s.repo.GetTimeline(ctx, p.TimelineID)
	if err != nil {
		return fail(err)
	}

	switch {
	case c.Stage() == domain.StageChurned || c.CampaignStatus == domain.CampaignCompleted:
		if err := s.complete(ctx, p, OutcomeCustomerClosed); err != nil {
			return fail(err)
		}
		res.Outcome, res.Completed = OutcomeCustomerClosed, true
		return res
	case c.CampaignStatus == domain.CampaignPaused:
		res.Outcome = OutcomeCustomerPaused
		return res
	}

	actions, err := s.executeDay(ctx, p, tl, c)
	res.Actions = actions
	if err != nil {
		return fail(err)
	}

	advanced, completed, err := s.advance(ctx, p, tl)
	if err != nil {
		return fail(err)
	}
	res.Outcome = OutcomeProcessed
	res.Advanced, res.Completed = advanced, completed
	res.Day = p.CurrentDay
	return res
}
