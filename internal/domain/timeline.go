package domain

import (
	"sort"
	"time"
)

// ActionType names a side effect a timeline action or dialog node requests.
type ActionType string

// Timeline action types.
const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendSMS          ActionType = "send_sms"
	ActionMakeCall         ActionType = "make_call"
	ActionScheduleFollowup ActionType = "schedule_followup"
	ActionUpdateStage      ActionType = "update_stage"
	ActionCheckEngagement  ActionType = "check_engagement"
	ActionSendNotification ActionType = "send_notification"
)

// Dialog node action types.
const (
	ActionScheduleCallback ActionType = "schedule_callback"
	ActionUpdateCRM        ActionType = "update_crm"
	ActionEscalate         ActionType = "escalate"
)

// TimelineActionTypes lists every type a timeline may declare.
func TimelineActionTypes() []ActionType {
	return []ActionType{
		ActionSendEmail, ActionSendSMS, ActionMakeCall, ActionScheduleFollowup,
		ActionUpdateStage, ActionCheckEngagement, ActionSendNotification,
	}
}

// Condition kinds an ActionCondition can test.
const (
	ConditionEmailOpened   = "email_opened"
	ConditionEmailClicked  = "email_clicked"
	ConditionContentViewed = "content_viewed"
	ConditionApproved      = "approved"
	ConditionScoreAtLeast  = "score_at_least"
	ConditionStageIs       = "stage_is"
	ConditionOptedIn       = "opted_in"
	ConditionTrialActive   = "trial_active"
)

// Condition outcomes: what to do when the tested fact holds.
const (
	ConditionThenSkip    = "skip"
	ConditionThenExecute = "execute"
)

// ActionCondition is an optional precondition on a timeline action, e.g.
// {"if": "email_opened", "within_hours": 48, "then": "skip"}.
type ActionCondition struct {
	If          string  `json:"if" yaml:"if"`
	WithinHours int     `json:"within_hours,omitempty" yaml:"within_hours"`
	Threshold   float64 `json:"threshold,omitempty" yaml:"threshold"`
	Value       string  `json:"value,omitempty" yaml:"value"`
	Then        string  `json:"then" yaml:"then"`
}

// TimelineAction is one scheduled step of a campaign timeline.
type TimelineAction struct {
	ID         string           `json:"id" db:"id"`
	DayNumber  int              `json:"day_number" db:"day_number"`
	DelayHours int              `json:"delay_hours" db:"delay_hours"`
	ActionType ActionType       `json:"action_type" db:"action_type"`
	Parameters map[string]any   `json:"parameters" db:"parameters"`
	Condition  *ActionCondition `json:"conditions,omitempty" db:"conditions"`
	Priority   int              `json:"priority" db:"priority"`
}

// CampaignTimeline is a named, versioned, day-indexed set of actions.
type CampaignTimeline struct {
	ID           string           `json:"id" db:"id"`
	Name         string           `json:"name" db:"name"`
	Slug         string           `json:"slug" db:"slug"`
	Version      int              `json:"version" db:"version"`
	Stage        PipelineStage    `json:"pipeline_stage" db:"pipeline_stage"`
	DurationDays int              `json:"duration_days" db:"duration_days"`
	Active       bool             `json:"is_active" db:"is_active"`
	Actions      []TimelineAction `json:"actions" db:"-"`
}

// ActionsForDay returns the day's actions ordered by descending Priority.
// Actions with equal priority keep their declared order.
func (t *CampaignTimeline) ActionsForDay(day int) []TimelineAction {
	var out []TimelineAction
	for _, a := range t.Actions {
		if a.DayNumber == day {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// ProgressStatus is the lifecycle of a customer's run through a timeline.
type ProgressStatus string

const (
	ProgressActive    ProgressStatus = "active"
	ProgressPaused    ProgressStatus = "paused"
	ProgressCompleted ProgressStatus = "completed"
)

// CustomerTimelineProgress is one customer's instance of a timeline.
type CustomerTimelineProgress struct {
	ID               string         `json:"id" db:"id"`
	CustomerID       string         `json:"customer_id" db:"customer_id"`
	TimelineID       string         `json:"campaign_timeline_id" db:"campaign_timeline_id"`
	CurrentDay       int            `json:"current_day" db:"current_day"`
	StartedAt        time.Time      `json:"started_at" db:"started_at"`
	PausedAt         *time.Time     `json:"paused_at" db:"paused_at"`
	CompletedAt      *time.Time     `json:"completed_at" db:"completed_at"`
	Status           ProgressStatus `json:"status" db:"status"`
	CompletedActions []string       `json:"completed_actions" db:"completed_actions"`
	SkippedActions   []string       `json:"skipped_actions" db:"skipped_actions"`
	Version          int64          `json:"version" db:"version"`
}

// DayStart is the single canonical start of the current day:
// StartedAt + (CurrentDay-1) days.
func (p *CustomerTimelineProgress) DayStart() time.Time {
	return p.StartedAt.Add(time.Duration(p.CurrentDay-1) * 24 * time.Hour)
}

// IsCompleted reports whether the action id is in the completed set.
func (p *CustomerTimelineProgress) IsCompleted(actionID string) bool {
	return contains(p.CompletedActions, actionID)
}

// IsSkipped reports whether the action id is in the skipped set.
func (p *CustomerTimelineProgress) IsSkipped(actionID string) bool {
	return contains(p.SkippedActions, actionID)
}

// IsSettled reports whether the action is completed or skipped.
func (p *CustomerTimelineProgress) IsSettled(actionID string) bool {
	return p.IsCompleted(actionID) || p.IsSkipped(actionID)
}

// MarkCompleted adds the id to the completed set (no duplicates).
func (p *CustomerTimelineProgress) MarkCompleted(actionID string) {
	if !p.IsCompleted(actionID) {
		p.CompletedActions = append(p.CompletedActions, actionID)
	}
}

// MarkSkipped adds the id to the skipped set (no duplicates).
func (p *CustomerTimelineProgress) MarkSkipped(actionID string) {
	if !p.IsSkipped(actionID) {
		p.SkippedActions = append(p.SkippedActions, actionID)
	}
}

// Clone returns a deep copy.
func (p *CustomerTimelineProgress) Clone() *CustomerTimelineProgress {
	cp := *p
	cp.CompletedActions = append([]string(nil), p.CompletedActions...)
	cp.SkippedActions = append([]string(nil), p.SkippedActions...)
	if p.PausedAt != nil {
		t := *p.PausedAt
		cp.PausedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
