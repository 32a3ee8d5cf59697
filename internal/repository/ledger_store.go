package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/club-events/internal/ledger"
	"github.com/iliyamo/club-events/internal/model"
)

// LedgerStore implements ledger.Store on MySQL.  The unit of work for an
// event is one InnoDB transaction that starts by locking the event row
// with SELECT ... FOR UPDATE, so concurrent admissions to the same event
// queue on that row lock while other events proceed independently.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore returns a LedgerStore bound to db.
func NewLedgerStore(db *sql.DB) *LedgerStore { return &LedgerStore{db: db} }

var _ ledger.Store = (*LedgerStore)(nil)

func (s *LedgerStore) WithEvent(ctx context.Context, eventID uint64, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ev, err := scanEvent(tx.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ? AND deleted_at IS NULL FOR UPDATE", eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrEventNotFound
	}
	if err != nil {
		return storageErr("lock event", err)
	}

	if err := fn(ctx, &ledgerTx{tx: tx, event: ev}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	committed = true
	return nil
}

func (s *LedgerStore) ActiveCount(ctx context.Context, eventID uint64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT active_count FROM events WHERE id = ? AND deleted_at IS NULL", eventID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrEventNotFound
	}
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

type ledgerTx struct {
	tx    *sql.Tx
	event model.Event
}

func (t *ledgerTx) Event() model.Event { return t.event }

func (t *ledgerTx) ActiveRegistration(ctx context.Context, userID uint64) (*model.Registration, error) {
	r, err := scanRegistration(t.tx.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE event_id = ? AND user_id = ? AND status = 'active' LIMIT 1",
		t.event.ID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find active registration", err)
	}
	return &r, nil
}

func (t *ledgerTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO registrations (event_id, user_id, ticket_id, status, created_at) VALUES (?, ?, ?, ?, ?)",
		reg.EventID, reg.UserID, reg.TicketID, reg.Status, reg.CreatedAt)
	if err != nil {
		// uq_registrations_active backs up the check made under the row lock.
		if isDuplicateKey(err) {
			return ledger.ErrAlreadyRegistered
		}
		return storageErr("insert registration", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("insert registration", err)
	}
	reg.ID = uint64(id)
	return nil
}

func (t *ledgerTx) CancelRegistration(ctx context.Context, regID uint64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE registrations SET status = 'cancelled', cancelled_at = ? WHERE id = ? AND status = 'active'",
		at, regID)
	if err != nil {
		return storageErr("cancel registration", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrNotRegistered
	}
	return nil
}

func (t *ledgerTx) AdjustActiveCount(ctx context.Context, delta int) error {
	if _, err := t.tx.ExecContext(ctx,
		"UPDATE events SET active_count = active_count + ? WHERE id = ?", delta, t.event.ID); err != nil {
		return storageErr("adjust active count", err)
	}
	t.event.ActiveCount += delta
	return nil
}

// UpdateEvent writes the set fields of p to the locked event row and
// replaces the interest links when p carries them.
func (t *ledgerTx) UpdateEvent(ctx context.Context, p model.EventPatch) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.About != nil {
		add("about", *p.About)
	}
	if p.LocationName != nil {
		add("location_name", *p.LocationName)
	}
	if p.StartsAt != nil {
		add("starts_at", *p.StartsAt)
	}
	if p.DurationHours != nil {
		add("duration_hours", *p.DurationHours)
	}
	if p.RegStartsAt != nil {
		add("reg_starts_at", *p.RegStartsAt)
	}
	if p.RegEndsAt != nil {
		add("reg_ends_at", *p.RegEndsAt)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.HasFee != nil {
		add("has_fee", *p.HasFee)
	}
	if p.FeeCents != nil {
		add("fee_cents", *p.FeeCents)
	}
	switch {
	case p.ClearCapacity:
		add("capacity", nil)
	case p.Capacity != nil:
		add("capacity", *p.Capacity)
	}

	if len(sets) > 0 {
		args = append(args, t.event.ID)
		if _, err := t.tx.ExecContext(ctx,
			"UPDATE events SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return storageErr("update event", err)
		}
	}
	if p.InterestIDs != nil {
		if _, err := t.tx.ExecContext(ctx, "DELETE FROM event_interests WHERE event_id = ?", t.event.ID); err != nil {
			return storageErr("replace interests", err)
		}
		if err := insertEventInterests(ctx, t.tx, t.event.ID, p.InterestIDs); err != nil {
			return storageErr("replace interests", err)
		}
	}
	t.event.Apply(p)
	return nil
}

func (t *ledgerTx) RegistrationByTicket(ctx context.Context, ticketID string) (*model.Registration, error) {
	r, err := scanRegistration(t.tx.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE event_id = ? AND ticket_id = ?",
		t.event.ID, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find ticket", err)
	}
	return &r, nil
}

func (t *ledgerTx) MarkAttended(ctx context.Context, regID uint64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE registrations SET is_attended = 1, attended_on = ? WHERE id = ? AND status = 'active' AND is_attended = 0",
		at, regID)
	if err != nil {
		return storageErr("mark attended", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrAlreadyCheckedIn
	}
	return nil
}

// UpsertRating writes the rating and refreshes the hosting club's
// aggregate in the same transaction.
func (t *ledgerTx) UpsertRating(ctx context.Context, r *model.Rating) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ratings (event_id, user_id, score, review, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE score = VALUES(score), review = VALUES(review), updated_at = VALUES(updated_at)`,
		r.EventID, r.UserID, r.Score, r.Review, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return storageErr("upsert rating", err)
	}
	if err := t.tx.QueryRowContext(ctx,
		"SELECT id, created_at FROM ratings WHERE event_id = ? AND user_id = ?",
		r.EventID, r.UserID).Scan(&r.ID, &r.CreatedAt); err != nil {
		return storageErr("load rating", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`UPDATE clubs c
		    SET c.rating = (SELECT COALESCE(AVG(r.score), 0) FROM ratings r JOIN events e ON e.id = r.event_id WHERE e.club_id = c.id),
		        c.total_ratings = (SELECT COUNT(*) FROM ratings r JOIN events e ON e.id = r.event_id WHERE e.club_id = c.id)
		  WHERE c.id = ?`, t.event.ClubID)
	if err != nil {
		return storageErr("refresh club rating", err)
	}
	return nil
}
