// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/club-events/internal/ledger"
)

// Routing keys of registration change messages.  They match the ledger's
// change kinds so consumers can bind to "registration.*".
const (
	RoutingActivated = string(ledger.RegistrationActivated)
	RoutingCancelled = string(ledger.RegistrationCancelled)
)

// RegistrationEvent is published after a registration change commits.  It
// carries enough for downstream consumers to notify the attendee without
// querying the primary database.
type RegistrationEvent struct {
	MessageID      string    `json:"message_id"`
	Type           string    `json:"type"`
	RegistrationID uint64    `json:"registration_id"`
	EventID        uint64    `json:"event_id"`
	UserID         uint64    `json:"user_id"`
	TicketID       string    `json:"ticket_id"`
	EventName      string    `json:"event_name"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// FromChange builds the wire message for a committed ledger change.
func FromChange(c ledger.Change) RegistrationEvent {
	return RegistrationEvent{
		MessageID:      uuid.NewString(),
		Type:           string(c.Kind),
		RegistrationID: c.Registration.ID,
		EventID:        c.Registration.EventID,
		UserID:         c.Registration.UserID,
		TicketID:       c.Registration.TicketID,
		EventName:      c.EventName,
		OccurredAt:     c.OccurredAt.UTC(),
	}
}
