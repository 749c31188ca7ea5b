package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

const customerColumns = `
	id, COALESCE(tenant_id,''), business_name, contact_name, email, phone, industry_category,
	pipeline_stage, stage_entered_at, stage_history,
	engagement_score, engagement_tier, signals,
	campaign_status, trial_active, trial_started_at, trial_ends_at,
	email_opted_in, sms_opted_in, phone_opted_in, do_not_contact,
	features, custom_fields, version, created_at, updated_at`

func scanCustomer(row scanner) (*domain.Customer, error) {
	var (
		c                              domain.Customer
		stage                          sql.NullString
		entered, trialStart, trialEnds sql.NullTime
		history, signals               []byte
		features, custom               []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.BusinessName, &c.ContactName, &c.Email, &c.Phone, &c.Industry,
		&stage, &entered, &history,
		&c.EngagementScore, &c.EngagementTier, &signals,
		&c.CampaignStatus, &c.TrialActive, &trialStart, &trialEnds,
		&c.EmailOptedIn, &c.SMSOptedIn, &c.PhoneOptedIn, &c.DoNotContact,
		&features, &custom, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PipelineStage = stagePtr(stage)
	c.StageEnteredAt = timePtr(entered)
	c.TrialStartedAt = timePtr(trialStart)
	c.TrialEndsAt = timePtr(trialEnds)
	if err := decodeJSON(history, &c.StageHistory); err != nil {
		return nil, fmt.Errorf("decode stage history: %w", err)
	}
	if err := decodeJSON(signals, &c.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if err := decodeJSON(features, &c.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := decodeJSON(custom, &c.CustomFields); err != nil {
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}
	return &c, nil
}

// customerJSON encodes the customer's JSONB columns in column order.
func customerJSON(c *domain.Customer) (history, signals, features, custom string, err error) {
	h := c.StageHistory
	if h == nil {
		h = []domain.StageHistoryEntry{}
	}
	if history, err = jsonText(h); err != nil {
		return
	}
	if signals, err = jsonText(c.Signals); err != nil {
		return
	}
	f := c.Features
	if f == nil {
		f = map[string]bool{}
	}
	if features, err = jsonText(f); err != nil {
		return
	}
	cf := c.CustomFields
	if cf == nil {
		cf = map[string]any{}
	}
	custom, err = jsonText(cf)
	return
}

// CreateCustomer inserts c at version 1.
func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	c.ID = newID(c.ID)
	if c.EngagementTier == 0 {
		c.EngagementTier = domain.WorstTier
	}
	if c.CampaignStatus == "" {
		c.CampaignStatus = domain.CampaignRunning
	}
	history, signals, features, custom, err := customerJSON(c)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO lifecycle_customers (
			id, tenant_id, business_name, contact_name, email, phone, industry_category,
			pipeline_stage, stage_entered_at, stage_history,
			engagement_score, engagement_tier, signals,
			campaign_status, trial_active, trial_started_at, trial_ends_at,
			email_opted_in, sms_opted_in, phone_opted_in, do_not_contact,
			features, custom_fields, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,1,NOW(),NOW())
		RETURNING created_at, updated_at
	`,
		c.ID, nullString(c.TenantID), c.BusinessName, c.ContactName, c.Email, c.Phone, c.Industry,
		nullStage(c.PipelineStage), nullTime(c.StageEnteredAt), history,
		c.EngagementScore, c.EngagementTier, signals,
		string(c.CampaignStatus), c.TrialActive, nullTime(c.TrialStartedAt), nullTime(c.TrialEndsAt),
		c.EmailOptedIn, c.SMSOptedIn, c.PhoneOptedIn, c.DoNotContact,
		features, custom,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	c.Version = 1
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM lifecycle_customers WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "customer", id)
	}
	return c, nil
}

// UpdateCustomer writes c if its Version still matches, then bumps it.
func (s *Store) UpdateCustomer(ctx context.Context, c *domain.Customer) error {
	history, signals, features, custom, err := customerJSON(c)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE lifecycle_customers SET
			tenant_id = $2, business_name = $3, contact_name = $4, email = $5, phone = $6,
			industry_category = $7, pipeline_stage = $8, stage_entered_at = $9, stage_history = $10,
			engagement_score = $11, engagement_tier = $12, signals = $13,
			campaign_status = $14, trial_active = $15, trial_started_at = $16, trial_ends_at = $17,
			email_opted_in = $18, sms_opted_in = $19, phone_opted_in = $20, do_not_contact = $21,
			features = $22, custom_fields = $23,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $24
	`,
		c.ID, nullString(c.TenantID), c.BusinessName, c.ContactName, c.Email, c.Phone,
		c.Industry, nullStage(c.PipelineStage), nullTime(c.StageEnteredAt), history,
		c.EngagementScore, c.EngagementTier, signals,
		string(c.CampaignStatus), c.TrialActive, nullTime(c.TrialStartedAt), nullTime(c.TrialEndsAt),
		c.EmailOptedIn, c.SMSOptedIn, c.PhoneOptedIn, c.DoNotContact,
		features, custom, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if err := s.checkVersioned(ctx, res, "lifecycle_customers", "customer", c.ID); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ListCustomerIDs returns every customer ID in stable order.
func (s *Store) ListCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM lifecycle_customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
