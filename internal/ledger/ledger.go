// Package ledger owns the registration workflow of capacity-limited
// events.  Every state change for an event happens inside one exclusive
// unit of work on that event, so concurrent callers never over-admit an
// event and a user never holds two active registrations for it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/club-events/internal/metrics"
	"github.com/iliyamo/club-events/internal/model"
)

// Operation names used in errors, logs and metric labels.
const (
	OpAdmit       = "admit"
	OpCancel      = "cancel"
	OpCount       = "count"
	OpSetCapacity = "set_capacity"
	OpUpdate      = "update_event"
	OpCheckIn     = "check_in"
	OpRate        = "rate"
)

// Score bounds for Rate.
const (
	MinScore = 0.0
	MaxScore = 5.0
)

const publishTimeout = 5 * time.Second

const tracerName = "github.com/iliyamo/club-events/internal/ledger"

// ChangeKind identifies a registration change delivered to the Publisher.
type ChangeKind string

const (
	RegistrationActivated ChangeKind = "registration.activated"
	RegistrationCancelled ChangeKind = "registration.cancelled"
)

// Change describes a committed registration state change.
type Change struct {
	Kind         ChangeKind
	Registration model.Registration
	EventName    string
	OccurredAt   time.Time
}

// Publisher receives committed changes.  It is called after the unit of
// work has been applied and its failures never undo the change.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// NopPublisher discards every change.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Change) error { return nil }

// Ledger is safe for concurrent use.
type Ledger struct {
	store     Store
	publisher Publisher
	now       func() time.Time
	newTicket func() string
	log       zerolog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets the downstream hook for committed changes.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithClock overrides the time source used for window checks and stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTicketGenerator overrides how ticket ids are minted.
func WithTicketGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newTicket = gen
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New returns a Ledger backed by store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		publisher: NopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
		newTicket: uuid.NewString,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit creates an active registration for (eventID, userID) and takes
// one place of the event.  Failures are checked in this order:
// ErrEventNotFound, ErrEventClosed, ErrAlreadyRegistered, ErrEventFull.
func (l *Ledger) Admit(ctx context.Context, eventID, userID uint64) (model.Registration, error) {
	ctx, span, start := l.begin(ctx, OpAdmit, eventID, userID)
	defer span.End()
	var (
		reg model.Registration
		ev  model.Event
	)
	err := l.store.WithEvent(ctx, eventID, func(ctx context.Context, tx Tx) error {
		ev = tx.Event()
		now := l.now()
		if !ev.AcceptsRegistrations(now) {
			return ErrEventClosed
		}
		cur, err := tx.ActiveRegistration(ctx, userID)
		if err != nil {
			return err
		}
		if cur != nil {
			return ErrAlreadyRegistered
		}
		if !ev.HasRoom() {
			return ErrEventFull
		}
		reg = model.Registration{
			EventID:   eventID,
			UserID:    userID,
			TicketID:  l.newTicket(),
			Status:    model.RegistrationActive,
			CreatedAt: now,
		}
		if err := tx.InsertRegistration(ctx, &reg); err != nil {
			return err
		}
		return tx.AdjustActiveCount(ctx, 1)
	})
	err = l.finish(span, OpAdmit, start, err)
	if err != nil {
		return model.Registration{}, err
	}
	l.publish(ctx, Change{Kind: RegistrationActivated, Registration: reg, EventName: ev.Name, OccurredAt: reg.CreatedAt})
	return reg, nil
}

// Cancel ends the user's active registration and frees its place.
// Cancelling when no active registration exists returns ErrNotRegistered,
// so a repeated cancel never decrements the count twice.
func (l *Ledger) Cancel(ctx context.Context, eventID, userID uint64) (model.Registration, error) {
	ctx, span, start := l.begin(ctx, OpCancel, eventID, userID)
	defer span.End()
	var (
		reg model.Registration
		ev  model.Event
	)
	err := l.store.WithEvent(ctx, eventID, func(ctx context.Context, tx Tx) error {
		ev = tx.Event()
		cur, err := tx.ActiveRegistration(ctx, userID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNotRegistered
		}
		at := l.now()
		if err := tx.CancelRegistration(ctx, cur.ID, at); err != nil {
			return err
		}
		if err := tx.AdjustActiveCount(ctx, -1); err != nil {
			return err
		}
		reg = *cur
		reg.Status = model.RegistrationCancelled
		reg.CancelledAt = &at
		return nil
	})
	err = l.finish(span, OpCancel, start, err)
	if err != nil {
		return model.Registration{}, err
	}
	l.publish(ctx, Change{Kind: RegistrationCancelled, Registration: reg, EventName: ev.Name, OccurredAt: *reg.CancelledAt})
	return reg, nil
}

// GetActiveCount returns the committed number of active registrations.
func (l *Ledger) GetActiveCount(ctx context.Context, eventID uint64) (int, error) {
	ctx, span, start := l.begin(ctx, OpCount, eventID, 0)
	defer span.End()
	n, err := l.store.ActiveCount(ctx, eventID)
	if err = l.finish(span, OpCount, start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// SetCapacity changes the event's capacity.  nil removes the limit.  A
// limit below the current active count is rejected rather than evicting
// registrations.
func (l *Ledger) SetCapacity(ctx context.Context, eventID uint64, capacity *int) (model.Event, error) {
	return l.update(ctx, OpSetCapacity, eventID, model.EventPatch{Capacity: capacity, ClearCapacity: capacity == nil})
}

// UpdateEvent applies p to the event in one unit of work, so a capacity
// change and the descriptive fields land together or not at all.  On top
// of the SetCapacity rules, the fee is frozen while registrations are
// active and the merged schedule must stay consistent.
func (l *Ledger) UpdateEvent(ctx context.Context, eventID uint64, p model.EventPatch) (model.Event, error) {
	return l.update(ctx, OpUpdate, eventID, p)
}

func (l *Ledger) update(ctx context.Context, op string, eventID uint64, p model.EventPatch) (model.Event, error) {
	ctx, span, start := l.begin(ctx, op, eventID, 0)
	defer span.End()
	if !p.ClearCapacity && p.Capacity != nil && *p.Capacity < 0 {
		return model.Event{}, l.finish(span, op, start, ErrInvalidCapacity)
	}
	var ev model.Event
	err := l.store.WithEvent(ctx, eventID, func(ctx context.Context, tx Tx) error {
		ev = tx.Event()
		if !p.ClearCapacity && p.Capacity != nil && *p.Capacity < ev.ActiveCount {
			return ErrCapacityBelowActive
		}
		if ev.ActiveCount > 0 && p.ChangesFee(ev) {
			return ErrFeeLocked
		}
		ev.Apply(p)
		if p.TouchesSchedule() {
			if msg := model.ScheduleProblem(ev.StartsAt, ev.DurationHours, ev.RegStartsAt, ev.RegEndsAt); msg != "" {
				return &InvalidEventError{Reason: msg}
			}
		}
		if (p.HasFee != nil || p.FeeCents != nil) && ev.HasFee && ev.FeeCents == 0 {
			return &InvalidEventError{Reason: "fee_cents required for paid events"}
		}
		return tx.UpdateEvent(ctx, p)
	})
	if err = l.finish(span, op, start, err); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// CheckIn marks the registration holding ticketID as attended.  Only an
// active registration can be checked in, once, and on a paid event only
// after its fee is settled.
func (l *Ledger) CheckIn(ctx context.Context, eventID uint64, ticketID string) (model.Registration, error) {
	ctx, span, start := l.begin(ctx, OpCheckIn, eventID, 0)
	defer span.End()
	var reg model.Registration
	err := l.store.WithEvent(ctx, eventID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.RegistrationByTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrTicketNotFound
		}
		if !cur.IsActive() {
			return ErrNotRegistered
		}
		if cur.IsAttended {
			return ErrAlreadyCheckedIn
		}
		if ev := tx.Event(); ev.HasFee && !cur.IsPaid {
			return ErrPaymentRequired
		}
		now := l.now()
		if err := tx.MarkAttended(ctx, cur.ID, now); err != nil {
			return err
		}
		reg = *cur
		reg.IsAttended = true
		reg.AttendedOn = &now
		return nil
	})
	if err = l.finish(span, OpCheckIn, start, err); err != nil {
		return model.Registration{}, err
	}
	return reg, nil
}

// Rate records the user's score for an event they hold an active
// registration for.  Rating again replaces the previous score.
func (l *Ledger) Rate(ctx context.Context, eventID, userID uint64, score float64, review string) (model.Rating, error) {
	ctx, span, start := l.begin(ctx, OpRate, eventID, userID)
	defer span.End()
	if score < MinScore || score > MaxScore || math.IsNaN(score) {
		return model.Rating{}, l.finish(span, OpRate, start, ErrInvalidScore)
	}
	var r model.Rating
	err := l.store.WithEvent(ctx, eventID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.ActiveRegistration(ctx, userID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNotRegistered
		}
		now := l.now()
		r = model.Rating{EventID: eventID, UserID: userID, Score: score, Review: review, CreatedAt: now, UpdatedAt: now}
		return tx.UpsertRating(ctx, &r)
	})
	if err = l.finish(span, OpRate, start, err); err != nil {
		return model.Rating{}, err
	}
	return r, nil
}

func (l *Ledger) begin(ctx context.Context, op string, eventID, userID uint64) (context.Context, trace.Span, time.Time) {
	attrs := []attribute.KeyValue{attribute.Int64("event.id", int64(eventID))}
	if userID != 0 {
		attrs = append(attrs, attribute.Int64("user.id", int64(userID)))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

// finish classifies err, records metrics for op and closes out the span
// status.  Business outcomes are not span errors.
func (l *Ledger) finish(span trace.Span, op string, start time.Time, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case IsBusiness(err):
		outcome = Code(err)
	case errors.Is(err, ErrStorageUnavailable):
		outcome = "unavailable"
	case isContextErr(err):
		err = Unavailable(op, err)
		outcome = "unavailable"
	default:
		err = fmt.Errorf("ledger %s: %w", op, err)
		outcome = "error"
	}
	span.SetAttributes(attribute.String("ledger.outcome", outcome))
	if outcome == "unavailable" || outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	metrics.LedgerOperations.WithLabelValues(op, outcome).Inc()
	metrics.LedgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// publish hands c to the publisher on a context detached from the
// request, since the change is already committed.
func (l *Ledger) publish(ctx context.Context, c Change) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(pctx, c); err != nil {
		l.log.Warn().Err(err).
			Str("kind", string(c.Kind)).
			Uint64("event_id", c.Registration.EventID).
			Uint64("registration_id", c.Registration.ID).
			Msg("publish registration change failed")
	}
}
