// Package pipeline owns the customer's pipeline stage. Stages only move to
// their single successor, or to churned from anywhere.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Repository is the customer storage the stage machine needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	// UpdateCustomer writes c only if c.Version matches the stored version
	// and returns domain.ErrVersionConflict otherwise.
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
}

// TimelineAssigner attaches the timeline registered for a stage.
type TimelineAssigner interface {
	AssignForStage(ctx context.Context, customerID string, stage domain.PipelineStage) error
}

// StageMachine validates and applies stage transitions.
type StageMachine struct {
	repo      Repository
	clock     clock.Clock
	bus       *events.Bus
	cfg       config.LifecycleConfig
	timelines TimelineAssigner
}

// NewStageMachine creates a stage machine. The timeline assigner is
// optional and set with SetTimelineAssigner.
func NewStageMachine(repo Repository, clk clock.Clock, bus *events.Bus, cfg config.LifecycleConfig) *StageMachine {
	return &StageMachine{repo: repo, clock: clk, bus: bus, cfg: cfg}
}

// SetTimelineAssigner sets the collaborator asked to attach a timeline
// after stage-driven transitions. Nil disables timeline assignment.
func (m *StageMachine) SetTimelineAssigner(a TimelineAssigner) {
	m.timelines = a
}

// CanTransition reports whether from → to is allowed. A nil from is a
// first assignment.
func CanTransition(from *domain.PipelineStage, to domain.PipelineStage) bool {
	if !to.Valid() {
		return false
	}
	if to == domain.StageChurned || from == nil {
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// Transition moves the customer to target. An invalid target is logged and
// reported as false with a nil error; storage failures are returned.
func (m *StageMachine) Transition(ctx context.Context, customerID string, target domain.PipelineStage, trigger string) (bool, error) {
	_, err := m.apply(ctx, customerID, target, trigger, nil)
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		logger.Warn("[StageMachine] transition rejected",
			"customer_id", customerID, "from", invalid.From, "to", invalid.To, "trigger", trigger)
		return false, nil
	}
	return err == nil, err
}

// TransitionStrict is Transition for callers that want the
// *domain.InvalidTransitionError instead of false.
func (m *StageMachine) TransitionStrict(ctx context.Context, customerID string, target domain.PipelineStage, trigger string) error {
	_, err := m.apply(ctx, customerID, target, trigger, nil)
	return err
}

// apply runs read → validate → write-if-unchanged, retrying on version
// conflicts. mutate, if set, runs on the new state before the write.
func (m *StageMachine) apply(ctx context.Context, customerID string, target domain.PipelineStage, trigger string, mutate func(c *domain.Customer, now time.Time)) (*domain.Customer, error) {
	var (
		c    *domain.Customer
		from *domain.PipelineStage
		now  time.Time
	)
	for attempt := 0; ; attempt++ {
		cur, err := m.repo.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(cur.PipelineStage, target) {
			return nil, &domain.InvalidTransitionError{Kind: "stage", From: string(cur.Stage()), To: string(target)}
		}

		now = m.clock.Now()
		c = cur.Clone()
		from = cur.PipelineStage
		c.StageHistory = append(c.StageHistory, domain.StageHistoryEntry{
			From:           from,
			To:             target,
			Trigger:        trigger,
			DaysInPrevious: daysSince(cur.StageEnteredAt, now),
			At:             now,
		})
		stage := target
		c.PipelineStage = &stage
		c.StageEnteredAt = &now
		if mutate != nil {
			mutate(c, now)
		}

		err = m.repo.UpdateCustomer(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= m.cfg.MaxConflictRetries {
			return nil, fmt.Errorf("update customer stage: %w", err)
		}
	}

	logger.Info("[StageMachine] stage changed",
		"customer_id", customerID, "from", stageName(from), "to", target, "trigger", trigger)

	m.bus.Emit(ctx, domain.StageChanged{CustomerID: customerID, From: from, To: target, Trigger: trigger, At: now})

	if m.cfg.IsStageDriven(trigger) {
		m.assignTimeline(ctx, customerID, target)
	}
	return c, nil
}

func (m *StageMachine) assignTimeline(ctx context.Context, customerID string, stage domain.PipelineStage) {
	if m.timelines == nil || stage == domain.StageChurned {
		return
	}
	if err := m.timelines.AssignForStage(ctx, customerID, stage); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("[StageMachine] no timeline registered for stage", "customer_id", customerID, "stage", stage)
			return
		}
		logger.Error("[StageMachine] timeline assignment failed", "customer_id", customerID, "stage", stage, "error", err)
	}
}

// CheckEngagementThreshold advances the customer one stage when the score
// meets the current stage's threshold.
func (m *StageMachine) CheckEngagementThreshold(ctx context.Context, customerID string) (bool, error) {
	c, err := m.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	if c.PipelineStage == nil {
		return false, nil
	}
	threshold, ok := m.cfg.StageEngagementThresholds[*c.PipelineStage]
	if !ok || c.EngagementScore < threshold {
		return false, nil
	}
	next, ok := c.PipelineStage.Next()
	if !ok {
		return false, nil
	}
	return m.Transition(ctx, customerID, next, domain.TriggerEngagementThreshold)
}

// HandleTrialAcceptance starts the trial window. A hook (or unstaged)
// customer moves to engagement; otherwise the current stage's timeline is
// requested.
func (m *StageMachine) HandleTrialAcceptance(ctx context.Context, customerID string) (*domain.Customer, error) {
	startTrial := func(c *domain.Customer, now time.Time) {
		ends := now.Add(m.cfg.TrialLength())
		start := now
		c.TrialActive = true
		c.TrialStartedAt = &start
		c.TrialEndsAt = &ends
	}

	cur, err := m.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if cur.PipelineStage == nil || *cur.PipelineStage == domain.StageHook {
		return m.apply(ctx, customerID, domain.StageEngagement, domain.TriggerTrialAccepted, startTrial)
	}

	c, err := m.update(ctx, customerID, startTrial)
	if err != nil {
		return nil, err
	}
	m.assignTimeline(ctx, customerID, c.Stage())
	return c, nil
}

// HandleConversion ends the trial and moves the customer to retention.
func (m *StageMachine) HandleConversion(ctx context.Context, customerID string) (bool, error) {
	_, err := m.apply(ctx, customerID, domain.StageRetention, domain.TriggerConversion, func(c *domain.Customer, now time.Time) {
		c.TrialActive = false
		end := now
		c.TrialEndsAt = &end
	})
	var invalid *domain.InvalidTransitionError
	if errors.As(err, &invalid) {
		logger.Warn("[StageMachine] conversion rejected", "customer_id", customerID, "from", invalid.From)
		return false, nil
	}
	return err == nil, err
}

// MarkChurned moves the customer to churned. The reason is required.
func (m *StageMachine) MarkChurned(ctx context.Context, customerID, reason string) error {
	if reason == "" {
		return &domain.ValidationError{Field: "reason", Message: "churn reason is required"}
	}
	_, err := m.apply(ctx, customerID, domain.StageChurned, domain.TriggerChurn, func(c *domain.Customer, now time.Time) {
		c.CampaignStatus = domain.CampaignCompleted
		c.TrialActive = false
		if c.CustomFields == nil {
			c.CustomFields = make(map[string]any)
		}
		c.CustomFields["loss_reason"] = reason
		c.CustomFields["churned_at"] = now.Format(time.RFC3339)
	})
	return err
}

// update applies mutate without a stage change.
func (m *StageMachine) update(ctx context.Context, customerID string, mutate func(c *domain.Customer, now time.Time)) (*domain.Customer, error) {
	for attempt := 0; ; attempt++ {
		cur, err := m.repo.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		c := cur.Clone()
		mutate(c, m.clock.Now())
		err = m.repo.UpdateCustomer(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= m.cfg.MaxConflictRetries {
			return nil, fmt.Errorf("update customer: %w", err)
		}
	}
}

func daysSince(t *time.Time, now time.Time) int {
	if t == nil || now.Before(*t) {
		return 0
	}
	return int(now.Sub(*t).Hours() / 24)
}

func stageName(s *domain.PipelineStage) string {
	if s == nil {
		return ""
	}
	return string(*s)
}
