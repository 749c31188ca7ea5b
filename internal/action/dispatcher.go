package action

import (
	"context"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Dispatcher is the outbound side-effect boundary. Implementations report
// success or failure per call and own any retry policy.
type Dispatcher interface {
	SendEmail(ctx context.Context, c *domain.Customer, params map[string]any) (Outcome, error)
	SendSMS(ctx context.Context, c *domain.Customer, params map[string]any) (Outcome, error)
	MakeCall(ctx context.Context, c *domain.Customer, params map[string]any) (Outcome, error)
	ScheduleFollowup(ctx context.Context, c *domain.Customer, params map[string]any) (Outcome, error)
	UpdateCustomerFields(ctx context.Context, c *domain.Customer, params map[string]any) (Outcome, error)
}

// BindDispatcher registers the handlers that map one-to-one onto the
// dispatcher: the channel sends, follow-ups, and the dialog callback and
// CRM update actions.
func BindDispatcher(r *Registry, d Dispatcher) {
	r.Register(domain.ActionSendEmail, func(ctx context.Context, req Request) (Outcome, error) {
		return d.SendEmail(ctx, req.Customer, req.Params)
	})
	r.Register(domain.ActionSendSMS, func(ctx context.Context, req Request) (Outcome, error) {
		return d.SendSMS(ctx, req.Customer, req.Params)
	})
	r.Register(domain.ActionMakeCall, func(ctx context.Context, req Request) (Outcome, error) {
		return d.MakeCall(ctx, req.Customer, req.Params)
	})
	r.Register(domain.ActionScheduleFollowup, func(ctx context.Context, req Request) (Outcome, error) {
		params := WithDefault(req.Params, "delay_days", 1)
		return d.ScheduleFollowup(ctx, req.Customer, params)
	})
	r.Register(domain.ActionScheduleCallback, func(ctx context.Context, req Request) (Outcome, error) {
		params := WithDefault(req.Params, "followup_type", "callback")
		params = WithDefault(params, "delay_days", 1)
		return d.ScheduleFollowup(ctx, req.Customer, params)
	})
	r.Register(domain.ActionUpdateCRM, func(ctx context.Context, req Request) (Outcome, error) {
		return d.UpdateCustomerFields(ctx, req.Customer, req.Params)
	})
}
