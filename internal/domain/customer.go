package domain

import "time"

// Engagement tiers. Lower is better: 1 = premium, 4 = passive.
const (
	TierPremium = 1
	TierEngaged = 2
	TierActive  = 3
	TierPassive = 4

	BestTier  = TierPremium
	WorstTier = TierPassive
)

// ValidTier reports whether t is inside the 1..4 range.
func ValidTier(t int) bool { return t >= BestTier && t <= WorstTier }

// CampaignStatus is the customer-level outreach status.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Customer feature flags toggled by tier side effects.
const (
	FeaturePremiumContent     = "premium_content"
	FeaturePrioritySupport    = "priority_support"
	FeatureDedicatedManager   = "dedicated_manager"
	FeaturePremiumWelcomeSent = "premium_welcome_sent"
)

// EngagementSignals are the raw interaction counters the scorer consumes.
type EngagementSignals struct {
	EmailOpens      int         `json:"email_opens" db:"email_opens"`
	EmailClicks     int         `json:"email_clicks" db:"email_clicks"`
	ContentViews    []time.Time `json:"content_views,omitempty" db:"-"`
	LastEmailOpen   *time.Time  `json:"last_email_open" db:"last_email_open"`
	LastEmailClick  *time.Time  `json:"last_email_click" db:"last_email_click"`
	LastContentView *time.Time  `json:"last_content_view" db:"last_content_view"`
	LastApproval    *time.Time  `json:"last_approval" db:"last_approval"`
	TotalApprovals  int         `json:"total_approvals" db:"total_approvals"`
}

// StageHistoryEntry records one successful pipeline transition.
type StageHistoryEntry struct {
	From           *PipelineStage `json:"from"`
	To             PipelineStage  `json:"to"`
	Trigger        string         `json:"trigger"`
	DaysInPrevious int            `json:"days_in_previous"`
	At             time.Time      `json:"at"`
}

// Customer is an SMB account moving through the lifecycle. All five
// lifecycle components mutate it; it is never deleted by the engine.
type Customer struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	BusinessName string `json:"business_name" db:"business_name"`
	ContactName  string `json:"contact_name" db:"contact_name"`
	Email        string `json:"email" db:"email"`
	Phone        string `json:"phone" db:"phone"`
	Industry     string `json:"industry" db:"industry_category"`

	PipelineStage  *PipelineStage      `json:"pipeline_stage" db:"pipeline_stage"`
	StageEnteredAt *time.Time          `json:"stage_entered_at" db:"stage_entered_at"`
	StageHistory   []StageHistoryEntry `json:"stage_history" db:"stage_history"`

	EngagementScore int               `json:"engagement_score" db:"engagement_score"`
	EngagementTier  int               `json:"engagement_tier" db:"engagement_tier"`
	Signals         EngagementSignals `json:"signals" db:"-"`

	CampaignStatus CampaignStatus `json:"campaign_status" db:"campaign_status"`
	TrialActive    bool           `json:"trial_active" db:"trial_active"`
	TrialStartedAt *time.Time     `json:"trial_started_at" db:"trial_started_at"`
	TrialEndsAt    *time.Time     `json:"trial_ends_at" db:"trial_ends_at"`

	EmailOptedIn bool `json:"email_opted_in" db:"email_opted_in"`
	SMSOptedIn   bool `json:"sms_opted_in" db:"sms_opted_in"`
	PhoneOptedIn bool `json:"phone_opted_in" db:"phone_opted_in"`
	DoNotContact bool `json:"do_not_contact" db:"do_not_contact"`

	Features     map[string]bool `json:"features" db:"features"`
	CustomFields map[string]any  `json:"custom_fields" db:"custom_fields"`

	// Version is bumped on every write and used for compare-and-set updates.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Stage returns the current stage or "" when none has been assigned.
func (c *Customer) Stage() PipelineStage {
	if c.PipelineStage == nil {
		return ""
	}
	return *c.PipelineStage
}

// HasFeature reports whether a feature flag is enabled.
func (c *Customer) HasFeature(name string) bool {
	return c.Features != nil && c.Features[name]
}

// SetFeature enables or disables a feature flag.
func (c *Customer) SetFeature(name string, on bool) {
	if c.Features == nil {
		c.Features = make(map[string]bool)
	}
	c.Features[name] = on
}

// Clone returns a deep copy so callers can compute a new state without
// touching the record they read.
func (c *Customer) Clone() *Customer {
	cp := *c
	if c.PipelineStage != nil {
		s := *c.PipelineStage
		cp.PipelineStage = &s
	}
	cp.StageHistory = append([]StageHistoryEntry(nil), c.StageHistory...)
	cp.Signals.ContentViews = append([]time.Time(nil), c.Signals.ContentViews...)
	if c.Features != nil {
		cp.Features = make(map[string]bool, len(c.Features))
		for k, v := range c.Features {
			cp.Features[k] = v
		}
	}
	if c.CustomFields != nil {
		cp.CustomFields = make(map[string]any, len(c.CustomFields))
		for k, v := range c.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	return &cp
}

// CustomerUpdate holds the mutable customer fields the dispatcher's
// update_customer_fields / update_crm side effects may write.
type CustomerUpdate struct {
	CampaignStatus *CampaignStatus `json:"campaign_status,omitempty"`
	EmailOptedIn   *bool           `json:"email_opted_in,omitempty"`
	SMSOptedIn     *bool           `json:"sms_opted_in,omitempty"`
	PhoneOptedIn   *bool           `json:"phone_opted_in,omitempty"`
	DoNotContact   *bool           `json:"do_not_contact,omitempty"`
	CustomFields   map[string]any  `json:"custom_fields,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u CustomerUpdate) Empty() bool {
	return u.CampaignStatus == nil && u.EmailOptedIn == nil && u.SMSOptedIn == nil &&
		u.PhoneOptedIn == nil && u.DoNotContact == nil && len(u.CustomFields) == 0
}

// Validate rejects unknown campaign statuses.
func (u CustomerUpdate) Validate() error {
	if u.CampaignStatus == nil {
		return nil
	}
	switch *u.CampaignStatus {
	case CampaignRunning, CampaignPaused, CampaignCompleted:
		return nil
	}
	return &ValidationError{Field: "campaign_status", Message: "unknown status " + string(*u.CampaignStatus)}
}

// Apply writes the set fields onto c. Custom fields are merged key by key.
func (u CustomerUpdate) Apply(c *Customer) {
	if u.CampaignStatus != nil {
		c.CampaignStatus = *u.CampaignStatus
	}
	if u.EmailOptedIn != nil {
		c.EmailOptedIn = *u.EmailOptedIn
	}
	if u.SMSOptedIn != nil {
		c.SMSOptedIn = *u.SMSOptedIn
	}
	if u.PhoneOptedIn != nil {
		c.PhoneOptedIn = *u.PhoneOptedIn
	}
	if u.DoNotContact != nil {
		c.DoNotContact = *u.DoNotContact
	}
	if len(u.CustomFields) > 0 && c.CustomFields == nil {
		c.CustomFields = make(map[string]any, len(u.CustomFields))
	}
	for k, v := range u.CustomFields {
		c.CustomFields[k] = v
	}
}
