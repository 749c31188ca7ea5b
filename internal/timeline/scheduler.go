// Package timeline runs customers through day-indexed campaign timelines.
//
// Each sweep executes the due actions of the progress record's current day
// and advances the day once every action of that day is completed or
// skipped and a full day has passed since the day started. Completed and
// skipped sets only grow, so concurrent writers are reconciled by union.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

const day = 24 * time.Hour

// Repository is the storage the scheduler needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)

	GetTimeline(ctx context.Context, id string) (*domain.CampaignTimeline, error)
	GetTimelineBySlug(ctx context.Context, slug string) (*domain.CampaignTimeline, error)
	ActiveTimelineForStage(ctx context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error)

	// CreateProgress returns domain.ErrAlreadyExists if an open record for
	// the same customer and timeline exists.
	CreateProgress(ctx context.Context, p *domain.CustomerTimelineProgress) error
	GetProgress(ctx context.Context, id string) (*domain.CustomerTimelineProgress, error)
	FindOpenProgress(ctx context.Context, customerID, timelineID string) (*domain.CustomerTimelineProgress, error)
	// UpdateProgress writes p only if p.Version matches, then bumps it.
	UpdateProgress(ctx context.Context, p *domain.CustomerTimelineProgress) error
	ListActiveProgress(ctx context.Context) ([]*domain.CustomerTimelineProgress, error)
	ListProgressForCustomer(ctx context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error)
}

// ActionRunner validates and dispatches timeline actions.
type ActionRunner interface {
	Dispatch(ctx context.Context, t domain.ActionType, req action.Request) (action.Outcome, error)
	ValidateTimeline(tl *domain.CampaignTimeline) error
}

// Action result statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusClaimed   = "claimed"
)

// ReasonConditionsNotMet is recorded for actions skipped by a precondition.
const ReasonConditionsNotMet = "conditions_not_met"

// ActionResult is the outcome of one action in one sweep.
type ActionResult struct {
	ProgressID string            `json:"progress_id"`
	ActionID   string            `json:"action_id"`
	ActionType domain.ActionType `json:"action_type"`
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	DueAt      *time.Time        `json:"due_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Scheduler owns per-customer timeline progress.
type Scheduler struct {
	repo        Repository
	actions     ActionRunner
	clock       clock.Clock
	bus         *events.Bus
	cfg         config.LifecycleConfig
	concurrency int
	claimer     DispatchClaimer
}

// NewScheduler creates a scheduler. The dispatch claimer is optional.
func NewScheduler(repo Repository, actions ActionRunner, clk clock.Clock, bus *events.Bus, cfg config.LifecycleConfig) *Scheduler {
	return &Scheduler{
		repo:        repo,
		actions:     actions,
		clock:       clk,
		bus:         bus,
		cfg:         cfg,
		concurrency: 1,
	}
}

// SetClaimer sets the dispatch claimer. Nil disables claiming.
func (s *Scheduler) SetClaimer(c DispatchClaimer) {
	s.claimer = c
}

// SetConcurrency bounds how many progress records a sweep processes at once.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.concurrency = n
}

// ValidateTimeline checks action types and conditions before a timeline
// is used.
func (s *Scheduler) ValidateTimeline(tl *domain.CampaignTimeline) error {
	if err := s.actions.ValidateTimeline(tl); err != nil {
		return err
	}
	for _, a := range tl.Actions {
		if a.DayNumber < 1 {
			return fmt.Errorf("timeline %s action %s: day_number must be >= 1", tl.Slug, a.ID)
		}
		if err := ValidateCondition(a.Condition); err != nil {
			return fmt.Errorf("timeline %s action %s: %w", tl.Slug, a.ID, err)
		}
	}
	return nil
}

// StartTimeline enrolls the customer. If an open record already exists it
// is returned unchanged.
func (s *Scheduler) StartTimeline(ctx context.Context, customerID, timelineID string) (*domain.CustomerTimelineProgress, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	tl, err := s.repo.GetTimeline(ctx, timelineID)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, customerID, tl)
}

func (s *Scheduler) start(ctx context.Context, customerID string, tl *domain.CampaignTimeline) (*domain.CustomerTimelineProgress, error) {
	if err := s.ValidateTimeline(tl); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOpenProgress(ctx, customerID, tl.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find progress: %w", err)
	}

	p := &domain.CustomerTimelineProgress{
		CustomerID:       customerID,
		TimelineID:       tl.ID,
		CurrentDay:       1,
		StartedAt:        s.clock.Now(),
		Status:           domain.ProgressActive,
		CompletedActions: []string{},
		SkippedActions:   []string{},
	}
	if err := s.repo.CreateProgress(ctx, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// lost a race with another start
			return s.repo.FindOpenProgress(ctx, customerID, tl.ID)
		}
		return nil, fmt.Errorf("create progress: %w", err)
	}

	logger.Info("[TimelineScheduler] timeline started", "customer_id", customerID, "timeline", tl.Slug, "progress_id", p.ID)
	return p, nil
}

// AssignForStage starts the timeline registered for stage and completes
// the customer's other open timelines, which it supersedes.
func (s *Scheduler) AssignForStage(ctx context.Context, customerID string, stage domain.PipelineStage) error {
	tl, err := s.timelineForStage(ctx, stage)
	if err != nil {
		return err
	}
	p, err := s.start(ctx, customerID, tl)
	if err != nil {
		return err
	}

	open, err := s.repo.ListProgressForCustomer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("list progress: %w", err)
	}
	for _, other := range open {
		if other.ID == p.ID || other.Status == domain.ProgressCompleted {
			continue
		}
		if err := s.complete(ctx, other, "superseded"); err != nil {
			logger.Error("[TimelineScheduler] supersede failed", "progress_id", other.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) timelineForStage(ctx context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error) {
	if slug := s.cfg.TimelineRegistry[stage]; slug != "" {
		return s.repo.GetTimelineBySlug(ctx, slug)
	}
	return s.repo.ActiveTimelineForStage(ctx, stage)
}

// ExecuteActionsForDay runs the due actions of the record's current day in
// declared order and persists the new completed/skipped marks. Dispatch
// failures are reported in the results and never stop the remaining
// actions. p is updated in place to the stored state.
func (s *Scheduler) ExecuteActionsForDay(ctx context.Context, p *domain.CustomerTimelineProgress) ([]ActionResult, error) {
	c, err := s.repo.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return nil, err
	}
	tl, err := s.repo.GetTimeline(ctx, p.TimelineID)
	if err != nil {
		return nil, err
	}
	return s.executeDay(ctx, p, tl, c)
}

func (s *Scheduler) executeDay(ctx context.Context, p *domain.CustomerTimelineProgress, tl *domain.CampaignTimeline, c *domain.Customer) ([]ActionResult, error) {
	var (
		results   []ActionResult
		completed []string
		skipped   []string
		dayStart  = p.DayStart()
		source    = "timeline " + tl.Slug
	)

	for _, a := range tl.ActionsForDay(p.CurrentDay) {
		if p.IsSettled(a.ID) {
			continue
		}
		res := ActionResult{ProgressID: p.ID, ActionID: a.ID, ActionType: a.ActionType}
		now := s.clock.Now()

		run, err := shouldExecute(a.Condition, c, now)
		if err != nil {
			res.Status, res.Error = StatusFailed, err.Error()
			results = append(results, res)
			continue
		}
		if !run {
			skipped = append(skipped, a.ID)
			res.Status, res.Reason = StatusSkipped, ReasonConditionsNotMet
			results = append(results, res)
			continue
		}

		due := dayStart.Add(time.Duration(a.DelayHours) * time.Hour)
		if now.Before(due) {
			res.Status, res.DueAt = StatusPending, &due
			results = append(results, res)
			continue
		}

		if s.claimer != nil {
			ok, err := s.claimer.Claim(ctx, p.ID, a.ID)
			if err != nil {
				logger.Warn("[TimelineScheduler] claim failed, dispatching unclaimed", "progress_id", p.ID, "action_id", a.ID, "error", err)
			} else if !ok {
				res.Status = StatusClaimed
				results = append(results, res)
				continue
			}
		}

		_, err = s.actions.Dispatch(ctx, a.ActionType, action.Request{
			Customer: c,
			Params:   a.Parameters,
			ActionID: a.ID,
			Source:   source,
		})
		if err != nil {
			execErr := &domain.ActionExecutionError{ActionID: a.ID, ActionType: a.ActionType, Err: err}
			logger.Error("[TimelineScheduler] action failed", "customer_id", c.ID, "progress_id", p.ID, "action_id", a.ID, "error", execErr)
			res.Status, res.Error = StatusFailed, execErr.Error()
			results = append(results, res)
			if s.claimer != nil {
				if rerr := s.claimer.Release(ctx, p.ID, a.ID); rerr != nil {
					logger.Warn("[TimelineScheduler] claim release failed", "progress_id", p.ID, "action_id", a.ID, "error", rerr)
				}
			}
			continue
		}

		completed = append(completed, a.ID)
		res.Status = StatusCompleted
		results = append(results, res)

		// Later conditions must see what this action changed.
		if fresh, err := s.repo.GetCustomer(ctx, c.ID); err == nil {
			c = fresh
		}
		// An action may close this record, e.g. update_stage superseding it
		// with the next stage's timeline. Nothing else runs on a closed record.
		if stored, err := s.repo.GetProgress(ctx, p.ID); err == nil && stored.Status != domain.ProgressActive {
			logger.Info("[TimelineScheduler] record left active mid-day, stopping", "progress_id", p.ID, "status", stored.Status, "after_action", a.ID)
			if stored.Status == domain.ProgressCompleted {
				*p = *stored
				return results, nil
			}
			break
		}
	}

	if len(completed) == 0 && len(skipped) == 0 {
		return results, nil
	}
	if err := s.saveMarks(ctx, p, completed, skipped); err != nil {
		return results, err
	}
	return results, nil
}

// saveMarks unions the new marks into the stored record, reloading and
// retrying on version conflicts. A record found completed is left as is.
func (s *Scheduler) saveMarks(ctx context.Context, p *domain.CustomerTimelineProgress, completed, skipped []string) error {
	cur := p.Clone()
	for attempt := 0; ; attempt++ {
		if cur.Status == domain.ProgressCompleted {
			*p = *cur
			return nil
		}
		for _, id := range completed {
			cur.MarkCompleted(id)
		}
		for _, id := range skipped {
			cur.MarkSkipped(id)
		}
		err := s.repo.UpdateProgress(ctx, cur)
		if err == nil {
			*p = *cur
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= s.cfg.MaxConflictRetries {
			return fmt.Errorf("save progress marks: %w", err)
		}
		if cur, err = s.repo.GetProgress(ctx, p.ID); err != nil {
			return fmt.Errorf("reload progress: %w", err)
		}
	}
}

// lastDay is the day after which the record completes.
func (s *Scheduler) lastDay(tl *domain.CampaignTimeline) int {
	limit := s.cfg.MaxTimelineDays
	if tl.DurationDays > 0 && (limit <= 0 || tl.DurationDays < limit) {
		limit = tl.DurationDays
	}
	return limit
}

// CheckAndAdvanceDay moves to the next day when every action of the
// current day is completed or skipped and 24 hours have passed since the
// day started. At the last day the record is completed instead.
func (s *Scheduler) CheckAndAdvanceDay(ctx context.Context, p *domain.CustomerTimelineProgress) (advanced, completed bool, err error) {
	tl, err := s.repo.GetTimeline(ctx, p.TimelineID)
	if err != nil {
		return false, false, err
	}
	return s.advance(ctx, p, tl)
}

func (s *Scheduler) advance(ctx context.Context, p *domain.CustomerTimelineProgress, tl *domain.CampaignTimeline) (bool, bool, error) {
	cur := p.Clone()
	for attempt := 0; ; attempt++ {
		if cur.Status != domain.ProgressActive || !s.dayDone(cur, tl) {
			*p = *cur
			return false, false, nil
		}

		now := s.clock.Now()
		finished := cur.CurrentDay >= s.lastDay(tl)
		if finished {
			cur.Status = domain.ProgressCompleted
			cur.CompletedAt = &now
		} else {
			cur.CurrentDay++
		}

		err := s.repo.UpdateProgress(ctx, cur)
		if err == nil {
			*p = *cur
			if finished {
				logger.Info("[TimelineScheduler] timeline completed", "customer_id", cur.CustomerID, "progress_id", cur.ID, "day", cur.CurrentDay)
				s.bus.Emit(ctx, domain.TimelineCompleted{CustomerID: cur.CustomerID, ProgressID: cur.ID, TimelineID: cur.TimelineID, LastDay: cur.CurrentDay, At: now})
				return false, true, nil
			}
			logger.Debug("[TimelineScheduler] day advanced", "customer_id", cur.CustomerID, "progress_id", cur.ID, "day", cur.CurrentDay)
			return true, false, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= s.cfg.MaxConflictRetries {
			return false, false, fmt.Errorf("advance day: %w", err)
		}
		if cur, err = s.repo.GetProgress(ctx, p.ID); err != nil {
			return false, false, fmt.Errorf("reload progress: %w", err)
		}
	}
}

func (s *Scheduler) dayDone(p *domain.CustomerTimelineProgress, tl *domain.CampaignTimeline) bool {
	for _, a := range tl.ActionsForDay(p.CurrentDay) {
		if !p.IsSettled(a.ID) {
			return false
		}
	}
	return !s.clock.Now().Before(p.DayStart().Add(day))
}

// complete closes a record without advancing it.
func (s *Scheduler) complete(ctx context.Context, p *domain.CustomerTimelineProgress, reason string) error {
	return s.mutate(ctx, p.ID, func(cur *domain.CustomerTimelineProgress) error {
		if cur.Status == domain.ProgressCompleted {
			return nil
		}
		now := s.clock.Now()
		cur.Status = domain.ProgressCompleted
		cur.CompletedAt = &now
		cur.PausedAt = nil
		logger.Info("[TimelineScheduler] timeline closed", "customer_id", cur.CustomerID, "progress_id", cur.ID, "reason", reason)
		return nil
	})
}

// Pause removes the record from sweeps, keeping its day and marks.
func (s *Scheduler) Pause(ctx context.Context, progressID string) (*domain.CustomerTimelineProgress, error) {
	return s.mutateAndGet(ctx, progressID, func(cur *domain.CustomerTimelineProgress) error {
		switch cur.Status {
		case domain.ProgressPaused:
			return nil
		case domain.ProgressCompleted:
			return &domain.InvalidTransitionError{Kind: "timeline", From: string(cur.Status), To: string(domain.ProgressPaused)}
		}
		now := s.clock.Now()
		cur.Status = domain.ProgressPaused
		cur.PausedAt = &now
		return nil
	})
}

// Resume returns a paused record to the sweep at the same day. StartedAt
// moves forward by the paused duration so pending delays and the 24-hour
// gate measure active time only.
func (s *Scheduler) Resume(ctx context.Context, progressID string) (*domain.CustomerTimelineProgress, error) {
	return s.mutateAndGet(ctx, progressID, func(cur *domain.CustomerTimelineProgress) error {
		switch cur.Status {
		case domain.ProgressActive:
			return nil
		case domain.ProgressCompleted:
			return &domain.InvalidTransitionError{Kind: "timeline", From: string(cur.Status), To: string(domain.ProgressActive)}
		}
		if cur.PausedAt != nil {
			if paused := s.clock.Now().Sub(*cur.PausedAt); paused > 0 {
				cur.StartedAt = cur.StartedAt.Add(paused)
			}
		}
		cur.Status = domain.ProgressActive
		cur.PausedAt = nil
		return nil
	})
}

// PauseCustomer pauses every active timeline of the customer.
func (s *Scheduler) PauseCustomer(ctx context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error) {
	return s.forCustomer(ctx, customerID, domain.ProgressActive, s.Pause)
}

// ResumeCustomer resumes every paused timeline of the customer.
func (s *Scheduler) ResumeCustomer(ctx context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error) {
	return s.forCustomer(ctx, customerID, domain.ProgressPaused, s.Resume)
}

func (s *Scheduler) forCustomer(ctx context.Context, customerID string, status domain.ProgressStatus, fn func(context.Context, string) (*domain.CustomerTimelineProgress, error)) ([]*domain.CustomerTimelineProgress, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	all, err := s.repo.ListProgressForCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	var out []*domain.CustomerTimelineProgress
	for _, p := range all {
		if p.Status != status {
			continue
		}
		updated, err := fn(ctx, p.ID)
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

func (s *Scheduler) mutateAndGet(ctx context.Context, id string, fn func(*domain.CustomerTimelineProgress) error) (*domain.CustomerTimelineProgress, error) {
	var out *domain.CustomerTimelineProgress
	err := s.mutate(ctx, id, func(cur *domain.CustomerTimelineProgress) error {
		if err := fn(cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	return out, err
}

// mutate runs read → fn → write-if-unchanged with retries.
func (s *Scheduler) mutate(ctx context.Context, id string, fn func(*domain.CustomerTimelineProgress) error) error {
	for attempt := 0; ; attempt++ {
		cur, err := s.repo.GetProgress(ctx, id)
		if err != nil {
			return err
		}
		before := cur.Clone()
		if err := fn(cur); err != nil {
			return err
		}
		if unchanged(before, cur) {
			return nil
		}
		err = s.repo.UpdateProgress(ctx, cur)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= s.cfg.MaxConflictRetries {
			return fmt.Errorf("update progress: %w", err)
		}
	}
}

func unchanged(a, b *domain.CustomerTimelineProgress) bool {
	return a.Status == b.Status && a.CurrentDay == b.CurrentDay && a.StartedAt.Equal(b.StartedAt) &&
		(a.PausedAt == nil) == (b.PausedAt == nil) && (a.CompletedAt == nil) == (b.CompletedAt == nil)
}
