package domain

import "time"

// Personality is an outreach persona an account manager speaks as.
type Personality struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Role      string `json:"role" db:"role"`
	Tone      string `json:"tone" db:"tone"`
	Signature string `json:"signature" db:"signature"`
}

// AssignmentStatus is the state of a personality assignment.
type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentInactive AssignmentStatus = "inactive"
)

// PersonalityAssignment binds a customer to one outreach persona. At most
// one assignment per customer is active.
type PersonalityAssignment struct {
	ID            string           `json:"id" db:"id"`
	CustomerID    string           `json:"customer_id" db:"customer_id"`
	PersonalityID string           `json:"personality_id" db:"personality_id"`
	Status        AssignmentStatus `json:"status" db:"status"`
	AssignedAt    time.Time        `json:"assigned_at" db:"assigned_at"`
}
