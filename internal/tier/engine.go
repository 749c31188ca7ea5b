// Package tier classifies customers into engagement tiers, 1 (premium)
// through 4 (passive).
package tier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Repository is the customer storage the tier engine needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, c *domain.Customer) error
}

// WelcomeSender delivers the one-time premium welcome.
type WelcomeSender interface {
	SendPremiumWelcome(ctx context.Context, c *domain.Customer) error
}

// Engine validates and applies tier changes.
type Engine struct {
	repo       Repository
	clock      clock.Clock
	bus        *events.Bus
	thresholds []config.TierThreshold
	retries    int
	welcome    WelcomeSender
}

// NewEngine creates a tier engine. The welcome sender is optional and set
// with SetWelcomeSender.
func NewEngine(repo Repository, clk clock.Clock, bus *events.Bus, cfg config.LifecycleConfig) *Engine {
	return &Engine{
		repo:       repo,
		clock:      clk,
		bus:        bus,
		thresholds: cfg.SortedTierThresholds(),
		retries:    cfg.MaxConflictRetries,
	}
}

// SetWelcomeSender sets the premium welcome collaborator.
func (e *Engine) SetWelcomeSender(w WelcomeSender) {
	e.welcome = w
}

// EvaluateTierChange maps the score to a tier using the threshold table,
// highest threshold first, and returns it only if it differs.
func (e *Engine) EvaluateTierChange(c *domain.Customer) (int, bool) {
	tier := domain.WorstTier
	for _, t := range e.thresholds {
		if c.EngagementScore >= t.MinScore {
			tier = t.Tier
			break
		}
	}
	return tier, tier != c.EngagementTier
}

// UpgradeTier moves the customer to a numerically lower tier.
func (e *Engine) UpgradeTier(ctx context.Context, customerID string, newTier int) (*domain.Customer, error) {
	return e.change(ctx, customerID, newTier, domain.TierUp)
}

// DowngradeTier moves the customer to a numerically higher tier.
func (e *Engine) DowngradeTier(ctx context.Context, customerID string, newTier int) (*domain.Customer, error) {
	return e.change(ctx, customerID, newTier, domain.TierDown)
}

// Apply upgrades or downgrades toward newTier. Equal tiers are a no-op.
func (e *Engine) Apply(ctx context.Context, customerID string, newTier int) (bool, error) {
	c, err := e.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return false, err
	}
	switch {
	case newTier < c.EngagementTier:
		_, err = e.UpgradeTier(ctx, customerID, newTier)
	case newTier > c.EngagementTier:
		_, err = e.DowngradeTier(ctx, customerID, newTier)
	default:
		return false, nil
	}
	return err == nil, err
}

func (e *Engine) change(ctx context.Context, customerID string, newTier int, dir domain.TierDirection) (*domain.Customer, error) {
	var (
		c       *domain.Customer
		oldTier int
		welcome bool
		now     time.Time
	)
	for attempt := 0; ; attempt++ {
		cur, err := e.repo.GetCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		oldTier = cur.EngagementTier
		if !qualifies(oldTier, newTier, dir) {
			return nil, &domain.InvalidTransitionError{
				Kind: "tier",
				From: strconv.Itoa(oldTier),
				To:   strconv.Itoa(newTier),
			}
		}

		now = e.clock.Now()
		c = cur.Clone()
		c.EngagementTier = newTier
		welcome = applyFeatures(c, oldTier, newTier, e.welcome != nil)

		err = e.repo.UpdateCustomer(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= e.retries {
			return nil, fmt.Errorf("update customer tier: %w", err)
		}
	}

	logger.Info("[TierEngine] tier changed", "customer_id", customerID, "old", oldTier, "new", newTier, "direction", dir)
	e.bus.Emit(ctx, domain.TierChanged{CustomerID: customerID, Old: oldTier, New: newTier, Direction: dir, At: now})

	if welcome {
		if err := e.welcome.SendPremiumWelcome(ctx, c); err != nil {
			logger.Error("[TierEngine] premium welcome failed", "customer_id", customerID, "error", err)
		}
	}
	return c, nil
}

func qualifies(oldTier, newTier int, dir domain.TierDirection) bool {
	if !domain.ValidTier(newTier) {
		return false
	}
	if dir == domain.TierUp {
		return newTier < oldTier
	}
	return newTier > oldTier
}
