package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/club-events/internal/model"
)

const registrationColumns = "id, event_id, user_id, ticket_id, status, is_paid, created_at, cancelled_at, is_attended, attended_on"

// regScan holds the scan targets shared by every registration query.
type regScan struct {
	cancelledAt sql.NullTime
	attendedOn  sql.NullTime
}

func (s *regScan) dest(r *model.Registration) []any {
	return []any{&r.ID, &r.EventID, &r.UserID, &r.TicketID, &r.Status, &r.IsPaid,
		&r.CreatedAt, &s.cancelledAt, &r.IsAttended, &s.attendedOn}
}

func (s *regScan) fill(r *model.Registration) {
	if s.cancelledAt.Valid {
		t := s.cancelledAt.Time
		r.CancelledAt = &t
	}
	if s.attendedOn.Valid {
		t := s.attendedOn.Time
		r.AttendedOn = &t
	}
}

func scanRegistration(row rowScanner) (model.Registration, error) {
	var (
		r  model.Registration
		sc regScan
	)
	if err := row.Scan(sc.dest(&r)...); err != nil {
		return model.Registration{}, err
	}
	sc.fill(&r)
	return r, nil
}

// RegistrationRepo serves read paths over registrations.  Writes go
// through the ledger so they are never made here.
type RegistrationRepo struct {
	db *sql.DB
}

func NewRegistrationRepo(db *sql.DB) *RegistrationRepo { return &RegistrationRepo{db: db} }

// Attendee is a registration together with the registrant's contact.
type Attendee struct {
	model.Registration
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ListByEvent returns the registrations of an event, newest first.  An
// empty status returns every state; a nil attended skips that filter.
func (r *RegistrationRepo) ListByEvent(ctx context.Context, eventID uint64, status string, attended *bool, limit, offset int) ([]Attendee, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT r.id, r.event_id, r.user_id, r.ticket_id, r.status, r.is_paid, r.created_at, r.cancelled_at,
	                 r.is_attended, r.attended_on, u.email, u.full_name
	            FROM registrations r JOIN users u ON u.id = r.user_id
	           WHERE r.event_id = ?`
	args := []any{eventID}
	if status != "" {
		query += " AND r.status = ?"
		args = append(args, status)
	}
	if attended != nil {
		query += " AND r.is_attended = ?"
		args = append(args, *attended)
	}
	query += " ORDER BY r.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Attendee{}
	for rows.Next() {
		var (
			a  Attendee
			sc regScan
		)
		if err := rows.Scan(append(sc.dest(&a.Registration), &a.Email, &a.FullName)...); err != nil {
			return nil, err
		}
		sc.fill(&a.Registration)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MyRegistration is one entry of a user's registration history.
type MyRegistration struct {
	model.Registration
	EventName string    `json:"event_name"`
	StartsAt  time.Time `json:"starts_at"`
}

// ListByUser returns the user's registrations across events, newest first.
func (r *RegistrationRepo) ListByUser(ctx context.Context, userID uint64, activeOnly bool) ([]MyRegistration, error) {
	query := `SELECT r.id, r.event_id, r.user_id, r.ticket_id, r.status, r.is_paid, r.created_at, r.cancelled_at,
	                 r.is_attended, r.attended_on, e.name, e.starts_at
	            FROM registrations r JOIN events e ON e.id = r.event_id
	           WHERE r.user_id = ?`
	if activeOnly {
		query += " AND r.status = 'active'"
	}
	query += " ORDER BY r.id DESC"

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MyRegistration{}
	for rows.Next() {
		var (
			m  MyRegistration
			sc regScan
		)
		if err := rows.Scan(append(sc.dest(&m.Registration), &m.EventName, &m.StartsAt)...); err != nil {
			return nil, err
		}
		sc.fill(&m.Registration)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ticket is what a ticket lookup reveals.
type Ticket struct {
	model.Registration
	EventName string    `json:"event_name"`
	StartsAt  time.Time `json:"starts_at"`
	FullName  string    `json:"full_name"`
	ClubOwner uint64    `json:"-"`
}

// GetByTicket finds a registration by its ticket id.
func (r *RegistrationRepo) GetByTicket(ctx context.Context, ticketID string) (Ticket, error) {
	var (
		t  Ticket
		sc regScan
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT r.id, r.event_id, r.user_id, r.ticket_id, r.status, r.is_paid, r.created_at, r.cancelled_at,
		        r.is_attended, r.attended_on, e.name, e.starts_at, u.full_name, c.owner_id
		   FROM registrations r
		   JOIN events e ON e.id = r.event_id
		   JOIN clubs c ON c.id = e.club_id
		   JOIN users u ON u.id = r.user_id
		  WHERE r.ticket_id = ?`, ticketID).
		Scan(append(sc.dest(&t.Registration), &t.EventName, &t.StartsAt, &t.FullName, &t.ClubOwner)...)
	if err != nil {
		return Ticket{}, err
	}
	sc.fill(&t.Registration)
	return t, nil
}

// GetByID returns the registration with the given id.
func (r *RegistrationRepo) GetByID(ctx context.Context, id uint64) (model.Registration, error) {
	return scanRegistration(r.db.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE id = ?", id))
}

// GetActive returns the active registration of (eventID, userID) or
// sql.ErrNoRows.
func (r *RegistrationRepo) GetActive(ctx context.Context, eventID, userID uint64) (model.Registration, error) {
	return scanRegistration(r.db.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE event_id = ? AND user_id = ? AND status = 'active' LIMIT 1",
		eventID, userID))
}

// AttendanceSummary counts the active registrations of an event by
// whether they were checked in.
type AttendanceSummary struct {
	EventID  uint64 `json:"event_id"`
	Active   int    `json:"active"`
	Attended int    `json:"attended"`
	Absent   int    `json:"absent"`
}

// Attendance returns the check-in counts of an event's active registrations.
func (r *RegistrationRepo) Attendance(ctx context.Context, eventID uint64) (AttendanceSummary, error) {
	s := AttendanceSummary{EventID: eventID}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_attended), 0)
		   FROM registrations WHERE event_id = ? AND status = 'active'`, eventID).Scan(&s.Active, &s.Attended)
	if err != nil {
		return AttendanceSummary{}, err
	}
	s.Absent = s.Active - s.Attended
	return s, nil
}
