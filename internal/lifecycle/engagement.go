package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Interaction kinds accepted by RecordInteraction.
const (
	InteractionEmailOpen   = "email_open"
	InteractionEmailClick  = "email_click"
	InteractionContentView = "content_view"
	InteractionApproval    = "approval"
)

// Recalculation is the outcome of one RecalculateEngagement call.
type Recalculation struct {
	CustomerID    string `json:"customer_id"`
	OldScore      int    `json:"old_score"`
	NewScore      int    `json:"new_score"`
	OldTier       int    `json:"old_tier"`
	NewTier       int    `json:"new_tier"`
	StageAdvanced bool   `json:"stage_advanced"`
}

// RecalculateEngagement rescores the customer, then re-tiers and checks the
// stage threshold against the new score. A move larger than the configured
// delta emits EngagementChanged.
func (e *Engine) RecalculateEngagement(ctx context.Context, customerID string) (*Recalculation, error) {
	var rec *Recalculation
	c, err := e.updateCustomer(ctx, customerID, func(c *domain.Customer, now time.Time) bool {
		rec = &Recalculation{CustomerID: c.ID, OldScore: c.EngagementScore, OldTier: c.EngagementTier}
		score := e.Scorer.CalculateScore(c.Signals, now)
		if score == c.EngagementScore {
			return false
		}
		c.EngagementScore = score
		return true
	})
	if err != nil {
		return nil, err
	}
	rec.NewScore = c.EngagementScore

	if newTier, changed := e.Tiers.EvaluateTierChange(c); changed {
		if _, err := e.Tiers.Apply(ctx, c.ID, newTier); err != nil {
			return nil, fmt.Errorf("apply tier: %w", err)
		}
	}

	advanced, err := e.Stages.CheckEngagementThreshold(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("check stage threshold: %w", err)
	}
	rec.StageAdvanced = advanced

	latest, err := e.store.GetCustomer(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	rec.NewTier = latest.EngagementTier

	if delta := rec.NewScore - rec.OldScore; delta > e.cfg.EngagementChangeDelta || -delta > e.cfg.EngagementChangeDelta {
		e.bus.Emit(ctx, domain.EngagementChanged{CustomerID: c.ID, Old: rec.OldScore, New: rec.NewScore, At: e.clock.Now()})
	}
	logger.Debug("[Lifecycle] engagement recalculated", "customer_id", c.ID, "old", rec.OldScore, "new", rec.NewScore, "tier", rec.NewTier)
	return rec, nil
}

// RecordInteraction folds one tracked interaction into the customer's
// signals and rescores. A zero at means now.
func (e *Engine) RecordInteraction(ctx context.Context, customerID, kind string, at time.Time) (*Recalculation, error) {
	switch kind {
	case InteractionEmailOpen, InteractionEmailClick, InteractionContentView, InteractionApproval:
	default:
		return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown interaction %q", kind)}
	}

	_, err := e.updateCustomer(ctx, customerID, func(c *domain.Customer, now time.Time) bool {
		when := at
		if when.IsZero() {
			when = now
		}
		sig := &c.Signals
		switch kind {
		case InteractionEmailOpen:
			sig.EmailOpens++
			sig.LastEmailOpen = latest(sig.LastEmailOpen, when)
		case InteractionEmailClick:
			sig.EmailClicks++
			sig.LastEmailClick = latest(sig.LastEmailClick, when)
		case InteractionContentView:
			sig.ContentViews = append(pruneViews(sig.ContentViews, now.Add(-e.cfg.ScoreWeights.ContentWindow())), when)
			sig.LastContentView = latest(sig.LastContentView, when)
		case InteractionApproval:
			sig.TotalApprovals++
			sig.LastApproval = latest(sig.LastApproval, when)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return e.RecalculateEngagement(ctx, customerID)
}

// RefreshAll rescores every customer. Per-customer failures are logged
// and counted; only a failure to list customers is returned.
func (e *Engine) RefreshAll(ctx context.Context) (refreshed, failed int, err error) {
	ids, err := e.store.ListCustomerIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list customers: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, failed, ctx.Err()
		}
		if _, err := e.RecalculateEngagement(ctx, id); err != nil {
			failed++
			logger.Warn("[Lifecycle] rescore failed", "customer_id", id, "error", err)
			continue
		}
		refreshed++
	}
	return refreshed, failed, nil
}

// updateCustomer runs read → mutate → write-if-unchanged. mutate reports
// whether it changed anything; nothing is written otherwise.
func (e *Engine) updateCustomer(ctx context.Context, customerID string, mutate func(c *domain.Customer, now time.Time) bool) (*domain.Customer, error) {
	for attempt := 0; ; attempt++ {
		cur, err := e.store.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if !mutate(next, e.clock.Now()) {
			return next, nil
		}
		err = e.store.UpdateCustomer(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= e.cfg.MaxConflictRetries {
			return nil, fmt.Errorf("update customer %s: %w", customerID, err)
		}
	}
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && cur.After(t) {
		return cur
	}
	return &t
}

// pruneViews drops content views older than cutoff.
func pruneViews(views []time.Time, cutoff time.Time) []time.Time {
	out := views[:0:0]
	for _, v := range views {
		if !v.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out
}
