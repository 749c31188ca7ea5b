package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// fact reports whether the condition's subject holds for the customer.
type fact func(c *domain.Customer, cond domain.ActionCondition, now time.Time) bool

var facts = map[string]fact{
	domain.ConditionEmailOpened: func(c *domain.Customer, cond domain.ActionCondition, now time.Time) bool {
		return within(c.Signals.LastEmailOpen, cond.WithinHours, now)
	},
	domain.ConditionEmailClicked: func(c *domain.Customer, cond domain.ActionCondition, now time.Time) bool {
		return within(c.Signals.LastEmailClick, cond.WithinHours, now)
	},
	domain.ConditionContentViewed: func(c *domain.Customer, cond domain.ActionCondition, now time.Time) bool {
		return within(c.Signals.LastContentView, cond.WithinHours, now)
	},
	domain.ConditionApproved: func(c *domain.Customer, cond domain.ActionCondition, now time.Time) bool {
		if cond.WithinHours == 0 && c.Signals.TotalApprovals > 0 {
			return true
		}
		return within(c.Signals.LastApproval, cond.WithinHours, now)
	},
	domain.ConditionScoreAtLeast: func(c *domain.Customer, cond domain.ActionCondition, _ time.Time) bool {
		return float64(c.EngagementScore) >= cond.Threshold
	},
	domain.ConditionStageIs: func(c *domain.Customer, cond domain.ActionCondition, _ time.Time) bool {
		return strings.EqualFold(string(c.Stage()), cond.Value)
	},
	domain.ConditionOptedIn: func(c *domain.Customer, cond domain.ActionCondition, _ time.Time) bool {
		if c.DoNotContact {
			return false
		}
		switch strings.ToLower(cond.Value) {
		case "sms":
			return c.SMSOptedIn
		case "phone", "call":
			return c.PhoneOptedIn
		default:
			return c.EmailOptedIn
		}
	},
	domain.ConditionTrialActive: func(c *domain.Customer, _ domain.ActionCondition, _ time.Time) bool {
		return c.TrialActive
	},
}

// within reports whether t happened, and if hours > 0, no more than that
// many hours before now.
func within(t *time.Time, hours int, now time.Time) bool {
	if t == nil {
		return false
	}
	if hours <= 0 {
		return true
	}
	age := now.Sub(*t)
	return age >= 0 && age <= time.Duration(hours)*time.Hour
}

// ValidateCondition rejects unknown condition kinds and outcomes.
func ValidateCondition(cond *domain.ActionCondition) error {
	if cond == nil {
		return nil
	}
	if _, ok := facts[cond.If]; !ok {
		return fmt.Errorf("unknown condition %q", cond.If)
	}
	switch cond.Then {
	case "", domain.ConditionThenSkip, domain.ConditionThenExecute:
		return nil
	}
	return fmt.Errorf("unknown condition outcome %q", cond.Then)
}

// shouldExecute evaluates an action's precondition. With then=skip the
// action runs only while the fact does not hold; with then=execute (the
// default) it runs only while it does.
func shouldExecute(cond *domain.ActionCondition, c *domain.Customer, now time.Time) (bool, error) {
	if cond == nil {
		return true, nil
	}
	if err := ValidateCondition(cond); err != nil {
		return false, err
	}
	holds := facts[cond.If](c, *cond, now)
	if cond.Then == domain.ConditionThenSkip {
		return !holds, nil
	}
	return holds, nil
}
