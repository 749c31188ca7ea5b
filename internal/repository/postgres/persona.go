package postgres

import (
	"context"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// ── Personalities ──────────────────────────────────────────────────────────

func (s *Store) SavePersonality(ctx context.Context, p *domain.Personality) error {
	p.ID = newID(p.ID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_personalities (id, name, role, tone, signature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, tone = EXCLUDED.tone, signature = EXCLUDED.signature
	`, p.ID, p.Name, p.Role, p.Tone, p.Signature)
	if err != nil {
		return fmt.Errorf("save personality: %w", err)
	}
	return nil
}

func (s *Store) GetPersonality(ctx context.Context, id string) (*domain.Personality, error) {
	p := &domain.Personality{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, tone, signature FROM lifecycle_personalities WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Role, &p.Tone, &p.Signature)
	if err != nil {
		return nil, getErr(err, "personality", id)
	}
	return p, nil
}

// ── Assignments ────────────────────────────────────────────────────────────

func (s *Store) ActiveAssignment(ctx context.Context, customerID string) (*domain.PersonalityAssignment, error) {
	a := &domain.PersonalityAssignment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, personality_id, status, assigned_at
		FROM lifecycle_personality_assignments
		WHERE customer_id = $1 AND status = 'active'
	`, customerID).Scan(&a.ID, &a.CustomerID, &a.PersonalityID, &a.Status, &a.AssignedAt)
	if err != nil {
		return nil, getErr(err, "personality assignment", customerID)
	}
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, customerID string) ([]domain.PersonalityAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, personality_id, status, assigned_at
		FROM lifecycle_personality_assignments
		WHERE customer_id = $1
		ORDER BY assigned_at
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.PersonalityAssignment
	for rows.Next() {
		var a domain.PersonalityAssignment
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.PersonalityID, &a.Status, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivateAssignment deactivates the customer's other active assignments
// and stores a as active in one transaction.
func (s *Store) ActivateAssignment(ctx context.Context, a *domain.PersonalityAssignment) error {
	a.ID = newID(a.ID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate assignment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE lifecycle_personality_assignments SET status = 'inactive'
		WHERE customer_id = $1 AND status = 'active' AND id <> $2
	`, a.CustomerID, a.ID); err != nil {
		return fmt.Errorf("deactivate assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lifecycle_personality_assignments (id, customer_id, personality_id, status, assigned_at)
		VALUES ($1, $2, $3, 'active', $4)
		ON CONFLICT (id) DO UPDATE SET status = 'active', assigned_at = EXCLUDED.assigned_at
	`, a.ID, a.CustomerID, a.PersonalityID, a.AssignedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("activate assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate assignment: %w", err)
	}
	a.Status = domain.AssignmentActive
	return nil
}

// ── Follow-ups ─────────────────────────────────────────────────────────────

func (s *Store) CreateFollowup(ctx context.Context, f *domain.Followup) error {
	f.ID = newID(f.ID)
	p := f.Params
	if p == nil {
		p = map[string]any{}
	}
	params, err := jsonText(p)
	if err != nil {
		return fmt.Errorf("encode followup params: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO lifecycle_followups (id, customer_id, followup_type, channel, note, due_at, params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`, f.ID, f.CustomerID, f.Type, f.Channel, f.Note, f.DueAt, params).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create followup: %w", err)
	}
	return nil
}

// ListFollowups returns a customer's follow-ups, soonest first.
func (s *Store) ListFollowups(ctx context.Context, customerID string) ([]domain.Followup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, followup_type, channel, note, due_at, params, created_at
		FROM lifecycle_followups
		WHERE customer_id = $1
		ORDER BY due_at, id
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list followups: %w", err)
	}
	defer rows.Close()

	var out []domain.Followup
	for rows.Next() {
		var (
			f      domain.Followup
			params []byte
		)
		if err := rows.Scan(&f.ID, &f.CustomerID, &f.Type, &f.Channel, &f.Note, &f.DueAt, &params, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(params, &f.Params); err != nil {
			return nil, fmt.Errorf("decode followup params: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
