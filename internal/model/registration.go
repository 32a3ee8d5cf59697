package model

import "time"

// Registration states.  A registration is created active and may move to
// cancelled exactly once; rows are never deleted.
const (
	RegistrationActive    = "active"
	RegistrationCancelled = "cancelled"
)

// Registration links one user to one event.  Re-registering after a
// cancellation produces a new row, so the history of a (user, event) pair
// is the ordered list of its registrations.
//
// Fields:
//  ID          – primary key identifier.
//  EventID     – registered event (events.id).
//  UserID      – registered user (users.id).
//  TicketID    – opaque ticket code shown to the attendee.
//  Status      – active or cancelled.
//  IsPaid      – set once a payment order for the registration succeeds.
//  CreatedAt   – when the registration was admitted.
//  CancelledAt – when it was cancelled (nil while active).
//  IsAttended  – set when the ticket is checked in at the venue.
//  AttendedOn  – check-in time.
type Registration struct {
	ID          uint64     `json:"id"`
	EventID     uint64     `json:"event_id"`
	UserID      uint64     `json:"user_id"`
	TicketID    string     `json:"ticket_id"`
	Status      string     `json:"status"`
	IsPaid      bool       `json:"is_paid"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	IsAttended  bool       `json:"is_attended"`
	AttendedOn  *time.Time `json:"attended_on,omitempty"`
}

// IsActive reports whether the registration currently holds a place.
func (r *Registration) IsActive() bool { return r.Status == RegistrationActive }

// Rating is a user's score for an event they attended.  There is at most
// one rating per (user, event); rating again overwrites the score.
type Rating struct {
	ID        uint64    `json:"id"`
	EventID   uint64    `json:"event_id"`
	UserID    uint64    `json:"user_id"`
	Score     float64   `json:"score"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
