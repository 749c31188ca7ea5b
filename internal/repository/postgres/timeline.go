package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/lib/pq"
)

// ── Timelines ──────────────────────────────────────────────────────────────

const timelineColumns = `id, name, slug, version, pipeline_stage, duration_days, is_active, actions`

func scanTimeline(row scanner) (*domain.CampaignTimeline, error) {
	var (
		t       domain.CampaignTimeline
		actions []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Version, &t.Stage, &t.DurationDays, &t.Active, &actions); err != nil {
		return nil, err
	}
	if err := decodeJSON(actions, &t.Actions); err != nil {
		return nil, fmt.Errorf("decode timeline actions: %w", err)
	}
	return &t, nil
}

// SaveTimeline inserts or replaces a timeline definition.
func (s *Store) SaveTimeline(ctx context.Context, t *domain.CampaignTimeline) error {
	t.ID = newID(t.ID)
	acts := t.Actions
	if acts == nil {
		acts = []domain.TimelineAction{}
	}
	actions, err := jsonText(acts)
	if err != nil {
		return fmt.Errorf("encode timeline actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_timelines (id, name, slug, version, pipeline_stage, duration_days, is_active, actions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, slug = EXCLUDED.slug, version = EXCLUDED.version,
			pipeline_stage = EXCLUDED.pipeline_stage, duration_days = EXCLUDED.duration_days,
			is_active = EXCLUDED.is_active, actions = EXCLUDED.actions
	`, t.ID, t.Name, t.Slug, t.Version, string(t.Stage), t.DurationDays, t.Active, actions)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save timeline: %w", err)
	}
	return nil
}

func (s *Store) GetTimeline(ctx context.Context, id string) (*domain.CampaignTimeline, error) {
	t, err := scanTimeline(s.db.QueryRowContext(ctx,
		`SELECT `+timelineColumns+` FROM lifecycle_timelines WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "timeline", id)
	}
	return t, nil
}

// GetTimelineBySlug returns the highest active version for slug.
func (s *Store) GetTimelineBySlug(ctx context.Context, slug string) (*domain.CampaignTimeline, error) {
	t, err := scanTimeline(s.db.QueryRowContext(ctx, `
		SELECT `+timelineColumns+` FROM lifecycle_timelines
		WHERE slug = $1 AND is_active
		ORDER BY version DESC LIMIT 1
	`, slug))
	if err != nil {
		return nil, getErr(err, "timeline", slug)
	}
	return t, nil
}

// ActiveTimelineForStage returns the highest active version for stage.
func (s *Store) ActiveTimelineForStage(ctx context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error) {
	t, err := scanTimeline(s.db.QueryRowContext(ctx, `
		SELECT `+timelineColumns+` FROM lifecycle_timelines
		WHERE pipeline_stage = $1 AND is_active
		ORDER BY version DESC, id LIMIT 1
	`, string(stage)))
	if err != nil {
		return nil, getErr(err, "timeline for stage", string(stage))
	}
	return t, nil
}

// ListActiveTimelines returns every active timeline definition.
func (s *Store) ListActiveTimelines(ctx context.Context) ([]*domain.CampaignTimeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+timelineColumns+` FROM lifecycle_timelines WHERE is_active ORDER BY slug, version`)
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	defer rows.Close()

	var out []*domain.CampaignTimeline
	for rows.Next() {
		t, err := scanTimeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Timeline progress ──────────────────────────────────────────────────────

const progressColumns = `
	id, customer_id, campaign_timeline_id, current_day, started_at, paused_at, completed_at,
	status, completed_actions, skipped_actions, version`

func scanProgress(row scanner) (*domain.CustomerTimelineProgress, error) {
	var (
		p                 domain.CustomerTimelineProgress
		paused, completed sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.CustomerID, &p.TimelineID, &p.CurrentDay, &p.StartedAt, &paused, &completed,
		&p.Status, pq.Array(&p.CompletedActions), pq.Array(&p.SkippedActions), &p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.PausedAt = timePtr(paused)
	p.CompletedAt = timePtr(completed)
	return &p, nil
}

func (s *Store) queryProgress(ctx context.Context, query string, args ...any) ([]*domain.CustomerTimelineProgress, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline progress: %w", err)
	}
	defer rows.Close()

	var out []*domain.CustomerTimelineProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProgress inserts p at version 1. The partial unique index on open
// records turns a duplicate into ErrAlreadyExists.
func (s *Store) CreateProgress(ctx context.Context, p *domain.CustomerTimelineProgress) error {
	p.ID = newID(p.ID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_timeline_progress (
			id, customer_id, campaign_timeline_id, current_day, started_at, paused_at, completed_at,
			status, completed_actions, skipped_actions, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`,
		p.ID, p.CustomerID, p.TimelineID, p.CurrentDay, p.StartedAt, nullTime(p.PausedAt), nullTime(p.CompletedAt),
		string(p.Status), pq.Array(orEmpty(p.CompletedActions)), pq.Array(orEmpty(p.SkippedActions)),
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create timeline progress: %w", err)
	}
	p.Version = 1
	return nil
}

func (s *Store) GetProgress(ctx context.Context, id string) (*domain.CustomerTimelineProgress, error) {
	p, err := scanProgress(s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM lifecycle_timeline_progress WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "timeline progress", id)
	}
	return p, nil
}

// FindOpenProgress returns the active or paused record for the pair.
func (s *Store) FindOpenProgress(ctx context.Context, customerID, timelineID string) (*domain.CustomerTimelineProgress, error) {
	p, err := scanProgress(s.db.QueryRowContext(ctx, `
		SELECT `+progressColumns+` FROM lifecycle_timeline_progress
		WHERE customer_id = $1 AND campaign_timeline_id = $2 AND status <> 'completed'
	`, customerID, timelineID))
	if err != nil {
		return nil, getErr(err, "timeline progress", customerID+"/"+timelineID)
	}
	return p, nil
}

func (s *Store) UpdateProgress(ctx context.Context, p *domain.CustomerTimelineProgress) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lifecycle_timeline_progress SET
			current_day = $2, started_at = $3, paused_at = $4, completed_at = $5, status = $6,
			completed_actions = $7, skipped_actions = $8, version = version + 1
		WHERE id = $1 AND version = $9
	`,
		p.ID, p.CurrentDay, p.StartedAt, nullTime(p.PausedAt), nullTime(p.CompletedAt), string(p.Status),
		pq.Array(orEmpty(p.CompletedActions)), pq.Array(orEmpty(p.SkippedActions)), p.Version,
	)
	if err != nil {
		return fmt.Errorf("update timeline progress: %w", err)
	}
	if err := s.checkVersioned(ctx, res, "lifecycle_timeline_progress", "timeline progress", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// ListActiveProgress returns active records ordered by start time.
func (s *Store) ListActiveProgress(ctx context.Context) ([]*domain.CustomerTimelineProgress, error) {
	return s.queryProgress(ctx, `
		SELECT `+progressColumns+` FROM lifecycle_timeline_progress
		WHERE status = 'active'
		ORDER BY started_at, id
	`)
}

func (s *Store) ListProgressForCustomer(ctx context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error) {
	return s.queryProgress(ctx, `
		SELECT `+progressColumns+` FROM lifecycle_timeline_progress
		WHERE customer_id = $1
		ORDER BY started_at, id
	`, customerID)
}
