package domain

import "time"

// Followup is a task queued by schedule_followup or schedule_callback for
// an account manager or a later automated touch.
type Followup struct {
	ID         string         `json:"id" db:"id"`
	CustomerID string         `json:"customer_id" db:"customer_id"`
	Type       string         `json:"followup_type" db:"followup_type"`
	Channel    string         `json:"channel,omitempty" db:"channel"`
	Note       string         `json:"note,omitempty" db:"note"`
	DueAt      time.Time      `json:"due_at" db:"due_at"`
	Params     map[string]any `json:"params,omitempty" db:"params"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
