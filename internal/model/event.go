package model

import "time"

// Event status values stored in events.status.  A past event keeps its
// stored status but no longer accepts registrations; see Event.IsPast.
const (
	EventStatusOpen   = "open"
	EventStatusClosed = "closed"
)

// Event is a club-hosted event that users register for.  Capacity is nil
// when the event has no attendance limit.  ActiveCount caches the number
// of active registrations and is only ever changed inside the ledger's
// per-event critical section, so it can be trusted without recounting.
//
// Fields:
//  ID            – primary key identifier.
//  ClubID        – hosting club (clubs.id).
//  Name          – display name.
//  About         – free-form description.
//  LocationName  – venue label; empty for online events.
//  StartsAt      – start of the event (UTC).
//  DurationHours – length of the event; used to derive the end time.
//  RegStartsAt   – registrations open at this instant.
//  RegEndsAt     – registrations close at this instant (nil = until the event ends).
//  Capacity      – maximum simultaneously active registrations (nil = unbounded).
//  ActiveCount   – current number of active registrations.
//  Status        – open or closed.
//  HasFee        – whether registration requires payment.
//  FeeCents      – registration fee in cents when HasFee is set.
type Event struct {
	ID            uint64     `json:"id"`
	ClubID        uint64     `json:"club_id"`
	Name          string     `json:"name"`
	About         string     `json:"about,omitempty"`
	LocationName  string     `json:"location_name,omitempty"`
	StartsAt      time.Time  `json:"starts_at"`
	DurationHours float64    `json:"duration_hours"`
	RegStartsAt   time.Time  `json:"reg_starts_at"`
	RegEndsAt     *time.Time `json:"reg_ends_at,omitempty"`
	Capacity      *int       `json:"capacity"`
	ActiveCount   int        `json:"active_count"`
	Status        string     `json:"status"`
	HasFee        bool       `json:"has_fee"`
	FeeCents      uint32     `json:"fee_cents"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"-"`
}

// EndsAt returns the instant the event finishes.
func (e *Event) EndsAt() time.Time {
	return e.StartsAt.Add(time.Duration(e.DurationHours * float64(time.Hour)))
}

// IsPast reports whether the event has already finished at now.
func (e *Event) IsPast(now time.Time) bool {
	return !now.Before(e.EndsAt())
}

// AcceptsRegistrations reports whether the registration window is open at now.
func (e *Event) AcceptsRegistrations(now time.Time) bool {
	if e.Status != EventStatusOpen || e.IsPast(now) {
		return false
	}
	if now.Before(e.RegStartsAt) {
		return false
	}
	if e.RegEndsAt != nil && now.After(*e.RegEndsAt) {
		return false
	}
	return true
}

// HasRoom reports whether one more active registration fits.
func (e *Event) HasRoom() bool {
	return e.Capacity == nil || e.ActiveCount < *e.Capacity
}

// Remaining returns the number of free places, or -1 when unbounded.
func (e *Event) Remaining() int {
	if e.Capacity == nil {
		return -1
	}
	if n := *e.Capacity - e.ActiveCount; n > 0 {
		return n
	}
	return 0
}

// EventPatch holds optional changes to an event.  nil fields keep their
// current value.  ClearCapacity removes the limit and wins over Capacity.
// InterestIDs nil keeps the current interest links.
type EventPatch struct {
	Name          *string
	About         *string
	LocationName  *string
	StartsAt      *time.Time
	DurationHours *float64
	RegStartsAt   *time.Time
	RegEndsAt     *time.Time
	Status        *string
	HasFee        *bool
	FeeCents      *uint32
	Capacity      *int
	ClearCapacity bool
	InterestIDs   []uint64
}

// TouchesCapacity reports whether p changes the capacity.
func (p EventPatch) TouchesCapacity() bool { return p.Capacity != nil || p.ClearCapacity }

// TouchesSchedule reports whether p changes the event or registration times.
func (p EventPatch) TouchesSchedule() bool {
	return p.StartsAt != nil || p.DurationHours != nil || p.RegStartsAt != nil || p.RegEndsAt != nil
}

// ChangesFee reports whether applying p would change what registrants of
// e pay.
func (p EventPatch) ChangesFee(e Event) bool {
	if p.HasFee != nil && *p.HasFee != e.HasFee {
		return true
	}
	return p.FeeCents != nil && *p.FeeCents != e.FeeCents
}

// Apply copies the set fields of p onto e.
func (e *Event) Apply(p EventPatch) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.About != nil {
		e.About = *p.About
	}
	if p.LocationName != nil {
		e.LocationName = *p.LocationName
	}
	if p.StartsAt != nil {
		e.StartsAt = *p.StartsAt
	}
	if p.DurationHours != nil {
		e.DurationHours = *p.DurationHours
	}
	if p.RegStartsAt != nil {
		e.RegStartsAt = *p.RegStartsAt
	}
	if p.RegEndsAt != nil {
		e.RegEndsAt = p.RegEndsAt
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.HasFee != nil {
		e.HasFee = *p.HasFee
	}
	if p.FeeCents != nil {
		e.FeeCents = *p.FeeCents
	}
	switch {
	case p.ClearCapacity:
		e.Capacity = nil
	case p.Capacity != nil:
		c := *p.Capacity
		e.Capacity = &c
	}
}

// ScheduleProblem checks the registration window against the event times
// and returns a client message, or "" when the window is consistent.
func ScheduleProblem(startsAt time.Time, hours float64, regStarts time.Time, regEnds *time.Time) string {
	if hours <= 0 {
		return "duration_hours must be positive"
	}
	ends := startsAt.Add(time.Duration(hours * float64(time.Hour)))
	if !regStarts.Before(ends) {
		return "reg_starts_at must be before the event ends"
	}
	if regEnds != nil {
		if !regEnds.After(regStarts) {
			return "reg_ends_at must be after reg_starts_at"
		}
		if regEnds.After(ends) {
			return "reg_ends_at must not be after the event ends"
		}
	}
	return ""
}
