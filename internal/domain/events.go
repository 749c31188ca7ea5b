package domain

import "time"

// Event names, also used as routing keys by the outbound sinks.
const (
	EventStageChanged      = "stage.changed"
	EventTierChanged       = "tier.changed"
	EventEngagementChanged = "engagement.changed"
	EventDialogEscalated   = "dialog.escalated"
	EventNotification      = "notification"
	EventTimelineCompleted = "timeline.completed"
)

// Event is any lifecycle notification. Implementations are plain values.
type Event interface {
	EventName() string
	Subject() string
}

// StageChanged is emitted after a successful pipeline transition.
type StageChanged struct {
	CustomerID string         `json:"customer_id"`
	From       *PipelineStage `json:"from"`
	To         PipelineStage  `json:"to"`
	Trigger    string         `json:"trigger"`
	At         time.Time      `json:"at"`
}

func (StageChanged) EventName() string { return EventStageChanged }
func (e StageChanged) Subject() string { return e.CustomerID }

// TierDirection tells whether a tier change moved toward 1 or toward 4.
type TierDirection string

const (
	TierUp   TierDirection = "upgrade"
	TierDown TierDirection = "downgrade"
)

// TierChanged is emitted after an upgrade or downgrade is persisted.
type TierChanged struct {
	CustomerID string        `json:"customer_id"`
	Old        int           `json:"old_tier"`
	New        int           `json:"new_tier"`
	Direction  TierDirection `json:"direction"`
	At         time.Time     `json:"at"`
}

func (TierChanged) EventName() string { return EventTierChanged }
func (e TierChanged) Subject() string { return e.CustomerID }

// EngagementChanged is emitted when a recalculated score moves by more
// than the significance threshold.
type EngagementChanged struct {
	CustomerID string    `json:"customer_id"`
	Old        int       `json:"old_score"`
	New        int       `json:"new_score"`
	At         time.Time `json:"at"`
}

func (EngagementChanged) EventName() string { return EventEngagementChanged }
func (e EngagementChanged) Subject() string { return e.CustomerID }

// DialogEscalatedEvent is emitted when a dialog hands the conversation to a human.
type DialogEscalatedEvent struct {
	CustomerID  string            `json:"customer_id"`
	ExecutionID string            `json:"execution_id"`
	TreeID      string            `json:"dialog_tree_id"`
	Node        string            `json:"node"`
	Reason      string            `json:"reason,omitempty"`
	Collected   map[string]string `json:"collected_data,omitempty"`
	At          time.Time         `json:"at"`
}

func (DialogEscalatedEvent) EventName() string { return EventDialogEscalated }
func (e DialogEscalatedEvent) Subject() string { return e.CustomerID }

// Notification is an internal alert raised by a send_notification action.
type Notification struct {
	CustomerID string         `json:"customer_id"`
	Type       string         `json:"notification_type"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"at"`
}

func (Notification) EventName() string { return EventNotification }
func (e Notification) Subject() string { return e.CustomerID }

// TimelineCompleted is emitted when a progress record passes its last day.
type TimelineCompleted struct {
	CustomerID string    `json:"customer_id"`
	ProgressID string    `json:"progress_id"`
	TimelineID string    `json:"campaign_timeline_id"`
	LastDay    int       `json:"last_day"`
	At         time.Time `json:"at"`
}

func (TimelineCompleted) EventName() string { return EventTimelineCompleted }
func (e TimelineCompleted) Subject() string { return e.CustomerID }
