package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/club-events/internal/model"
)

// eventColumns lists the events columns in the order scanEvent expects.
const eventColumns = "id, club_id, name, about, location_name, starts_at, duration_hours, reg_starts_at, reg_ends_at, capacity, active_count, status, has_fee, fee_cents, created_at, updated_at, deleted_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e         model.Event
		about     sql.NullString
		regEndsAt sql.NullTime
		capacity  sql.NullInt64
		deletedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.ClubID, &e.Name, &about, &e.LocationName, &e.StartsAt, &e.DurationHours,
		&e.RegStartsAt, &regEndsAt, &capacity, &e.ActiveCount, &e.Status, &e.HasFee, &e.FeeCents,
		&e.CreatedAt, &e.UpdatedAt, &deletedAt)
	if err != nil {
		return model.Event{}, err
	}
	e.About = about.String
	if regEndsAt.Valid {
		t := regEndsAt.Time
		e.RegEndsAt = &t
	}
	if capacity.Valid {
		n := int(capacity.Int64)
		e.Capacity = &n
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return e, nil
}

// EventRepo provides CRUD operations for events.  Registration state
// (capacity and active_count) is owned by the ledger; the repository
// only writes those columns on insert.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// EventInput carries the fields of a new event.
type EventInput struct {
	ClubID        uint64
	Name          string
	About         string
	LocationName  string
	StartsAt      time.Time
	DurationHours float64
	RegStartsAt   time.Time
	RegEndsAt     *time.Time
	Capacity      *int
	HasFee        bool
	FeeCents      uint32
	InterestIDs   []uint64
}

// Create inserts the event and its interest links in one transaction and
// returns the stored row.
func (r *EventRepo) Create(ctx context.Context, in EventInput) (model.Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var capacity any
	if in.Capacity != nil {
		capacity = *in.Capacity
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (club_id, name, about, location_name, starts_at, duration_hours, reg_starts_at, reg_ends_at, capacity, has_fee, fee_cents)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ClubID, in.Name, in.About, in.LocationName, in.StartsAt, in.DurationHours, in.RegStartsAt,
		in.RegEndsAt, capacity, in.HasFee, in.FeeCents)
	if err != nil {
		return model.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, err
	}
	if err := insertEventInterests(ctx, tx, uint64(id), in.InterestIDs); err != nil {
		return model.Event{}, err
	}
	ev, err := scanEvent(tx.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id))
	if err != nil {
		return model.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func insertEventInterests(ctx context.Context, tx *sql.Tx, eventID uint64, interestIDs []uint64) error {
	if len(interestIDs) == 0 {
		return nil
	}
	query := "INSERT IGNORE INTO event_interests (event_id, interest_id) VALUES "
	args := make([]any, 0, len(interestIDs)*2)
	for i, iid := range interestIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, eventID, iid)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// GetByID returns a live (not soft-deleted) event or sql.ErrNoRows.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (model.Event, error) {
	return scanEvent(r.db.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ? AND deleted_at IS NULL", id))
}

// EventDetail is an event with its club name, rating summary and interests.
type EventDetail struct {
	model.Event
	ClubName    string   `json:"club_name"`
	AvgRating   float64  `json:"avg_rating"`
	RatingCount int      `json:"rating_count"`
	InterestIDs []uint64 `json:"interest_ids"`
}

// GetDetail loads the event together with data shown on its public page.
func (r *EventRepo) GetDetail(ctx context.Context, id uint64) (EventDetail, error) {
	var d EventDetail
	ev, err := r.GetByID(ctx, id)
	if err != nil {
		return d, err
	}
	d.Event = ev
	err = r.db.QueryRowContext(ctx,
		`SELECT c.name, COALESCE(AVG(rt.score), 0), COUNT(rt.id)
		   FROM clubs c LEFT JOIN ratings rt ON rt.event_id = ?
		  WHERE c.id = ?
		  GROUP BY c.id, c.name`, id, ev.ClubID).Scan(&d.ClubName, &d.AvgRating, &d.RatingCount)
	if err != nil {
		return d, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT interest_id FROM event_interests WHERE event_id = ? ORDER BY interest_id", id)
	if err != nil {
		return d, err
	}
	defer rows.Close()
	d.InterestIDs = []uint64{}
	for rows.Next() {
		var iid uint64
		if err := rows.Scan(&iid); err != nil {
			return d, err
		}
		d.InterestIDs = append(d.InterestIDs, iid)
	}
	return d, rows.Err()
}

// EventFilter narrows List.  Zero values mean "no filter".
type EventFilter struct {
	ClubID     uint64
	InterestID uint64
	Upcoming   bool
	Now        time.Time
	Limit      int
	Offset     int
}

// List returns live events ordered by start time.
func (r *EventRepo) List(ctx context.Context, f EventFilter) ([]model.Event, error) {
	var (
		where = []string{"e.deleted_at IS NULL"}
		args  []any
	)
	if f.ClubID != 0 {
		where = append(where, "e.club_id = ?")
		args = append(args, f.ClubID)
	}
	if f.InterestID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM event_interests ei WHERE ei.event_id = e.id AND ei.interest_id = ?)")
		args = append(args, f.InterestID)
	}
	if f.Upcoming {
		where = append(where, "e.starts_at >= ?")
		args = append(args, f.Now)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	cols := "e." + strings.ReplaceAll(eventColumns, ", ", ", e.")
	query := "SELECT " + cols + " FROM events e WHERE " + strings.Join(where, " AND ") +
		" ORDER BY e.starts_at, e.id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// OwnerID returns the user id of the club owner hosting the event.
func (r *EventRepo) OwnerID(ctx context.Context, eventID uint64) (uint64, error) {
	var owner uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT c.owner_id FROM events e JOIN clubs c ON c.id = e.club_id
		  WHERE e.id = ? AND e.deleted_at IS NULL`, eventID).Scan(&owner)
	return owner, err
}

// SoftDelete marks the event deleted.  Events that ever had a
// registration are kept for ticket and rating history and yield
// ErrConflict.  The event row is locked so that no admission can slip in
// between the check and the update.
func (r *EventRepo) SoftDelete(ctx context.Context, eventID, ownerID uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner uint64
	err = tx.QueryRowContext(ctx,
		`SELECT c.owner_id FROM events e JOIN clubs c ON c.id = e.club_id
		  WHERE e.id = ? AND e.deleted_at IS NULL FOR UPDATE`, eventID).Scan(&owner)
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrForbidden
	}
	var regs int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM registrations WHERE event_id = ?", eventID).Scan(&regs); err != nil {
		return err
	}
	if regs > 0 {
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE events SET deleted_at = ? WHERE id = ?", time.Now().UTC(), eventID); err != nil {
		return err
	}
	return tx.Commit()
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
