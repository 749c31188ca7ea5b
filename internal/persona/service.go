// Package persona binds customers to the outreach personality that speaks
// for the account.
package persona

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Repository is the storage the persona service needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetPersonality(ctx context.Context, id string) (*domain.Personality, error)
	ActiveAssignment(ctx context.Context, customerID string) (*domain.PersonalityAssignment, error)
	ListAssignments(ctx context.Context, customerID string) ([]domain.PersonalityAssignment, error)
	// ActivateAssignment stores a as the customer's only active assignment.
	ActivateAssignment(ctx context.Context, a *domain.PersonalityAssignment) error
}

// Service manages personality assignments.
type Service struct {
	repo  Repository
	clock clock.Clock
}

// NewService creates a persona service.
func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// Assign makes personalityID the customer's active personality. An active
// assignment to the same personality is returned as is; an inactive one is
// reactivated rather than duplicated.
func (s *Service) Assign(ctx context.Context, customerID, personalityID string) (*domain.PersonalityAssignment, error) {
	if personalityID == "" {
		return nil, &domain.ValidationError{Field: "personality_id", Message: "is required"}
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPersonality(ctx, personalityID); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListAssignments(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	a := &domain.PersonalityAssignment{CustomerID: customerID, PersonalityID: personalityID}
	for _, cur := range existing {
		if cur.PersonalityID != personalityID {
			continue
		}
		if cur.Status == domain.AssignmentActive {
			return &cur, nil
		}
		a.ID = cur.ID
	}
	reactivated := a.ID != ""
	a.AssignedAt = s.clock.Now()

	if err := s.repo.ActivateAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("activate assignment: %w", err)
	}
	logger.Info("[Persona] personality assigned", "customer_id", customerID, "personality_id", personalityID, "reactivated", reactivated)
	return a, nil
}

// Active returns the customer's active personality.
func (s *Service) Active(ctx context.Context, customerID string) (*domain.Personality, error) {
	a, err := s.repo.ActiveAssignment(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetPersonality(ctx, a.PersonalityID)
}

// ActivePersonalityID returns the id of the customer's active personality,
// or a domain.ErrNotFound error when none is assigned.
func (s *Service) ActivePersonalityID(ctx context.Context, customerID string) (string, error) {
	a, err := s.repo.ActiveAssignment(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("active assignment: %w", err)
	}
	return a.PersonalityID, nil
}
