package lifecycle

import (
	"context"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// UpdateContact applies consent, status and custom field changes to a
// customer, retrying on version conflicts.
func (e *Engine) UpdateContact(ctx context.Context, customerID string, u domain.CustomerUpdate) (*domain.Customer, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	c, err := e.updateCustomer(ctx, customerID, func(c *domain.Customer, _ time.Time) bool {
		if u.Empty() {
			return false
		}
		u.Apply(c)
		return true
	})
	if err != nil {
		return nil, err
	}
	if !u.Empty() {
		logger.Info("[Lifecycle] contact updated", "customer_id", c.ID, "custom_fields", len(u.CustomFields))
	}
	return c, nil
}
