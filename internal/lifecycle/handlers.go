package lifecycle

import (
	"context"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Defaults for handler parameters.
const (
	defaultEngagementThreshold = 50
	defaultNotificationType    = "general"
	premiumWelcomeTemplate     = "premium_welcome"
)

// bindHandlers registers the action types that act on the engine itself
// rather than on an outbound channel.
func (e *Engine) bindHandlers(d action.Dispatcher) {
	e.Actions.Register(domain.ActionUpdateStage, e.updateStage)
	e.Actions.Register(domain.ActionCheckEngagement, e.checkEngagement)
	e.Actions.Register(domain.ActionSendNotification, e.sendNotification)
	e.Actions.Register(domain.ActionEscalate, func(ctx context.Context, req action.Request) (action.Outcome, error) {
		params := action.WithDefault(req.Params, "followup_type", "human_handoff")
		params = action.WithDefault(params, "delay_days", 0)
		return d.ScheduleFollowup(ctx, req.Customer, params)
	})
}

// updateStage moves the customer to params.new_stage. Re-running it after
// the move is a no-op, and an out-of-order target is reported without
// failing so the day can still settle.
func (e *Engine) updateStage(ctx context.Context, req action.Request) (action.Outcome, error) {
	raw := action.String(req.Params, "new_stage", "")
	target, err := domain.ParsePipelineStage(raw)
	if err != nil {
		return action.Outcome{}, &domain.ValidationError{Field: "new_stage", Message: err.Error()}
	}

	c, err := e.store.GetCustomer(ctx, req.Customer.ID)
	if err != nil {
		return action.Outcome{}, err
	}
	if c.Stage() == target {
		return action.Outcome{Success: true, Message: "already in stage", Data: map[string]any{"new_stage": string(target), "transitioned": false}}, nil
	}

	ok, err := e.Stages.Transition(ctx, c.ID, target, domain.TriggerTimelineAction)
	if err != nil {
		return action.Outcome{}, err
	}
	if !ok {
		logger.Warn("[Lifecycle] update_stage target rejected", "customer_id", c.ID, "from", string(c.Stage()), "to", string(target), "source", req.Source)
	}
	return action.Outcome{Success: true, Data: map[string]any{"new_stage": string(target), "transitioned": ok}}, nil
}

// checkEngagement reports whether the score meets params.threshold. With
// advance_stage set, a met threshold also runs the stage threshold check.
func (e *Engine) checkEngagement(ctx context.Context, req action.Request) (action.Outcome, error) {
	threshold := action.Int(req.Params, "threshold", defaultEngagementThreshold)
	c, err := e.store.GetCustomer(ctx, req.Customer.ID)
	if err != nil {
		return action.Outcome{}, err
	}
	meets := c.EngagementScore >= threshold
	data := map[string]any{"score": c.EngagementScore, "threshold": threshold, "meets_threshold": meets}

	if meets && action.Bool(req.Params, "advance_stage", false) {
		advanced, err := e.Stages.CheckEngagementThreshold(ctx, c.ID)
		if err != nil {
			return action.Outcome{}, err
		}
		data["stage_advanced"] = advanced
	}
	return action.Outcome{Success: true, Data: data}, nil
}

func (e *Engine) sendNotification(ctx context.Context, req action.Request) (action.Outcome, error) {
	kind := action.String(req.Params, "notification_type", defaultNotificationType)
	e.bus.Emit(ctx, domain.Notification{
		CustomerID: req.Customer.ID,
		Type:       kind,
		Message:    action.String(req.Params, "message", ""),
		Data:       map[string]any{"action_id": req.ActionID, "source": req.Source},
		At:         e.clock.Now(),
	})
	return action.Outcome{Success: true, Data: map[string]any{"notification_type": kind}}, nil
}

// welcomeSender delivers the premium welcome as a templated email.
type welcomeSender struct {
	d action.Dispatcher
}

func (w welcomeSender) SendPremiumWelcome(ctx context.Context, c *domain.Customer) error {
	out, err := w.d.SendEmail(ctx, c, map[string]any{"template": premiumWelcomeTemplate})
	if err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("premium welcome not sent: %s", out.Message)
	}
	return nil
}
