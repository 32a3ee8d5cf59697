package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/club-events/internal/model"
)

// Store is the persistence boundary of the ledger.
//
// WithEvent runs fn with exclusive access to one event: no other WithEvent
// call for the same event id runs until fn has returned and its writes
// are either fully applied or fully discarded.  Calls for different events
// do not wait on each other.  When the event does not exist (or is
// soft-deleted) WithEvent returns ErrEventNotFound without calling fn.
// If fn returns an error, or ctx is done before the writes are applied,
// nothing is persisted.
type Store interface {
	WithEvent(ctx context.Context, eventID uint64, fn func(ctx context.Context, tx Tx) error) error
	ActiveCount(ctx context.Context, eventID uint64) (int, error)
}

// Tx is the view of a single event handed to a WithEvent callback.
type Tx interface {
	// Event returns the locked event as it was when the unit of work began.
	Event() model.Event
	// ActiveRegistration returns the user's active registration for the
	// event, or nil when there is none.
	ActiveRegistration(ctx context.Context, userID uint64) (*model.Registration, error)
	// InsertRegistration stores reg and fills in its ID.
	InsertRegistration(ctx context.Context, reg *model.Registration) error
	// CancelRegistration marks an active registration cancelled at the given time.
	CancelRegistration(ctx context.Context, regID uint64, at time.Time) error
	// AdjustActiveCount adds delta to the event's cached active count.
	AdjustActiveCount(ctx context.Context, delta int) error
	// UpdateEvent writes the set fields of p, capacity included.
	UpdateEvent(ctx context.Context, p model.EventPatch) error
	// RegistrationByTicket returns the event's registration holding
	// ticketID in any state, or nil when there is none.
	RegistrationByTicket(ctx context.Context, ticketID string) (*model.Registration, error)
	// MarkAttended records that the registration was checked in at the given time.
	MarkAttended(ctx context.Context, regID uint64, at time.Time) error
	// UpsertRating creates or replaces the (event, user) rating and fills
	// in its ID.
	UpsertRating(ctx context.Context, r *model.Rating) error
}
