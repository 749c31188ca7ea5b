// Package outreach delivers lifecycle actions to the outside world: email
// through SES, SMS and voice through provider webhooks, and follow-ups and
// CRM field changes through the store.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/httpretry"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Repository is the store access the dispatcher needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
	CreateFollowup(ctx context.Context, f *domain.Followup) error
}

// ErrChannelDisabled is returned when a channel has no provider configured.
var ErrChannelDisabled = errors.New("channel not configured")

// Dispatcher implements action.Dispatcher.
type Dispatcher struct {
	repo     Repository
	email    EmailAPI
	webhooks *httpretry.RetryClient
	render   *Renderer
	cfg      config.DeliveryConfig
	clock    clock.Clock
	retries  int
	tracker  Tracker
}

// Tracker issues open-tracking pixels for outgoing email.
type Tracker interface {
	PixelURL(customerID, template string) string
}

var _ action.Dispatcher = (*Dispatcher)(nil)

// New builds a dispatcher. email may be nil to disable the email channel.
func New(repo Repository, email EmailAPI, cfg config.DeliveryConfig, clk clock.Clock) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		email:    email,
		webhooks: httpretry.NewRetryClient(nil, cfg.MaxRetries),
		render:   NewRenderer(cfg.Templates),
		cfg:      cfg,
		clock:    clk,
		retries:  3,
	}
}

// SetHTTPClient replaces the webhook client.
func (d *Dispatcher) SetHTTPClient(c *httpretry.RetryClient) { d.webhooks = c }

// SetTracker enables the open pixel on outgoing email.
func (d *Dispatcher) SetTracker(t Tracker) { d.tracker = t }

// suppressed reports a send the customer's consent rules out. It counts as
// settled so the timeline is not held on it.
func suppressed(c *domain.Customer, channel, reason string) (action.Outcome, error) {
	logger.Info("[Outreach] send suppressed", "customer_id", c.ID, "channel", channel, "reason", reason)
	return action.Outcome{
		Success: true,
		Message: channel + " suppressed: " + reason,
		Data:    map[string]any{"suppressed": true, "reason": reason},
	}, nil
}

func (d *Dispatcher) SendEmail(ctx context.Context, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	switch {
	case c.DoNotContact:
		return suppressed(c, "email", "do_not_contact")
	case !c.EmailOptedIn:
		return suppressed(c, "email", "not_opted_in")
	case c.Email == "":
		return suppressed(c, "email", "no_address")
	}
	if d.email == nil {
		return action.Outcome{}, fmt.Errorf("email: %w", ErrChannelDisabled)
	}

	msg, err := d.render.Render(c, params)
	if err != nil {
		return action.Outcome{}, err
	}
	if d.tracker != nil {
		msg.Body += `<img src="` + d.tracker.PixelURL(c.ID, msg.Template) + `" width="1" height="1" alt="" />`
	}
	out, err := d.email.SendEmail(ctx, emailInput(fromAddress(d.cfg.SES), c.Email, c.ID, msg))
	if err != nil {
		logger.Warn("[Outreach] email failed", "customer_id", c.ID, "template", msg.Template, "error", err)
		return action.Outcome{}, fmt.Errorf("send email: %w", err)
	}

	id := ""
	if out != nil && out.MessageId != nil {
		id = *out.MessageId
	}
	logger.Info("[Outreach] email sent", "customer_id", c.ID, "email", c.Email, "template", msg.Template, "message_id", id)
	return action.Outcome{Success: true, Data: map[string]any{"message_id": id, "template": msg.Template}}, nil
}

type smsRequest struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	CustomerID string `json:"customer_id"`
	Template   string `json:"template,omitempty"`
}

type callRequest struct {
	To         string         `json:"to"`
	Script     string         `json:"script"`
	CustomerID string         `json:"customer_id"`
	Template   string         `json:"template,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

type providerReply struct {
	ID string `json:"id"`
}

func (d *Dispatcher) SendSMS(ctx context.Context, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	switch {
	case c.DoNotContact:
		return suppressed(c, "sms", "do_not_contact")
	case !c.SMSOptedIn:
		return suppressed(c, "sms", "not_opted_in")
	case c.Phone == "":
		return suppressed(c, "sms", "no_phone")
	}
	if d.cfg.SMSWebhookURL == "" {
		return action.Outcome{}, fmt.Errorf("sms: %w", ErrChannelDisabled)
	}

	msg, err := d.render.Render(c, params)
	if err != nil {
		return action.Outcome{}, err
	}
	var reply providerReply
	req := smsRequest{To: c.Phone, Body: msg.Body, CustomerID: c.ID, Template: msg.Template}
	if err := d.webhooks.PostJSON(ctx, d.cfg.SMSWebhookURL, d.cfg.WebhookToken, req, &reply); err != nil {
		logger.Warn("[Outreach] sms failed", "customer_id", c.ID, "phone", c.Phone, "error", err)
		return action.Outcome{}, fmt.Errorf("send sms: %w", err)
	}
	logger.Info("[Outreach] sms sent", "customer_id", c.ID, "phone", c.Phone, "message_id", reply.ID)
	return action.Outcome{Success: true, Data: map[string]any{"message_id": reply.ID}}, nil
}

func (d *Dispatcher) MakeCall(ctx context.Context, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	switch {
	case c.DoNotContact:
		return suppressed(c, "call", "do_not_contact")
	case !c.PhoneOptedIn:
		return suppressed(c, "call", "not_opted_in")
	case c.Phone == "":
		return suppressed(c, "call", "no_phone")
	}
	if d.cfg.VoiceWebhookURL == "" {
		return action.Outcome{}, fmt.Errorf("call: %w", ErrChannelDisabled)
	}

	script := action.String(params, "script", "")
	name, _ := params["template"].(string)
	if name != "" || script == "" {
		msg, err := d.render.Render(c, params)
		if err != nil {
			return action.Outcome{}, err
		}
		script = msg.Body
	}

	var reply providerReply
	req := callRequest{To: c.Phone, Script: script, CustomerID: c.ID, Template: name, Params: params}
	if err := d.webhooks.PostJSON(ctx, d.cfg.VoiceWebhookURL, d.cfg.WebhookToken, req, &reply); err != nil {
		logger.Warn("[Outreach] call failed", "customer_id", c.ID, "phone", c.Phone, "error", err)
		return action.Outcome{}, fmt.Errorf("place call: %w", err)
	}
	logger.Info("[Outreach] call placed", "customer_id", c.ID, "phone", c.Phone, "call_id", reply.ID)
	return action.Outcome{Success: true, Data: map[string]any{"call_id": reply.ID}}, nil
}

var followupKeys = map[string]bool{"delay_days": true, "followup_type": true, "channel": true, "note": true}

// ScheduleFollowup queues a follow-up due delay_days from now.
func (d *Dispatcher) ScheduleFollowup(ctx context.Context, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	days := action.Int(params, "delay_days", 1)
	if days < 0 {
		return action.Outcome{}, &domain.ValidationError{Field: "delay_days", Message: "must not be negative"}
	}
	f := &domain.Followup{
		CustomerID: c.ID,
		Type:       action.String(params, "followup_type", "followup"),
		Channel:    action.String(params, "channel", ""),
		Note:       action.String(params, "note", ""),
		DueAt:      d.clock.Now().Add(time.Duration(days) * 24 * time.Hour),
	}
	for k, v := range params {
		if followupKeys[k] {
			continue
		}
		if f.Params == nil {
			f.Params = make(map[string]any)
		}
		f.Params[k] = v
	}
	if err := d.repo.CreateFollowup(ctx, f); err != nil {
		return action.Outcome{}, fmt.Errorf("schedule followup: %w", err)
	}
	logger.Info("[Outreach] followup scheduled", "customer_id", c.ID, "type", f.Type, "due_at", f.DueAt.Format(time.RFC3339))
	return action.Outcome{Success: true, Data: map[string]any{"followup_id": f.ID, "due_at": f.DueAt}}, nil
}

// UpdateCustomerFields writes consent flags, campaign status and custom
// fields onto the stored customer, retrying on version conflicts. c is
// updated in place on success.
func (d *Dispatcher) UpdateCustomerFields(ctx context.Context, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	u := ParseCustomerUpdate(params)
	if err := u.Validate(); err != nil {
		return action.Outcome{}, err
	}
	if u.Empty() {
		return action.Outcome{Success: true, Message: "nothing to update"}, nil
	}

	for attempt := 0; ; attempt++ {
		cur, err := d.repo.GetCustomer(ctx, c.ID)
		if err != nil {
			return action.Outcome{}, err
		}
		u.Apply(cur)
		err = d.repo.UpdateCustomer(ctx, cur)
		if err == nil {
			*c = *cur
			logger.Info("[Outreach] customer fields updated", "customer_id", c.ID, "custom_fields", len(u.CustomFields))
			return action.Outcome{Success: true, Data: map[string]any{"custom_fields": len(u.CustomFields)}}, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= d.retries {
			return action.Outcome{}, fmt.Errorf("update customer fields: %w", err)
		}
	}
}

// ParseCustomerUpdate reads the consent and status keys from params and
// treats every other key, plus an optional "fields" object, as custom
// fields.
func ParseCustomerUpdate(params map[string]any) domain.CustomerUpdate {
	var u domain.CustomerUpdate
	flag := func(key string) *bool {
		if _, ok := params[key]; !ok {
			return nil
		}
		v := action.Bool(params, key, false)
		return &v
	}
	u.EmailOptedIn = flag("email_opted_in")
	u.SMSOptedIn = flag("sms_opted_in")
	u.PhoneOptedIn = flag("phone_opted_in")
	u.DoNotContact = flag("do_not_contact")
	if s, ok := params["campaign_status"].(string); ok {
		st := domain.CampaignStatus(s)
		u.CampaignStatus = &st
	}

	for k, v := range params {
		switch k {
		case "email_opted_in", "sms_opted_in", "phone_opted_in", "do_not_contact", "campaign_status":
			continue
		case "fields":
			if m, ok := v.(map[string]any); ok {
				for fk, fv := range m {
					setField(&u, fk, fv)
				}
				continue
			}
		}
		setField(&u, k, v)
	}
	return u
}

func setField(u *domain.CustomerUpdate, k string, v any) {
	if u.CustomFields == nil {
		u.CustomFields = make(map[string]any)
	}
	u.CustomFields[k] = v
}
