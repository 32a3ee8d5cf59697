package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/club-events/internal/model"
)

const paymentColumns = "id, registration_id, user_id, amount_cents, currency, status, provider_ref, created_at, updated_at"

func scanPayment(row rowScanner) (model.PaymentOrder, error) {
	var (
		p   model.PaymentOrder
		ref sql.NullString
	)
	if err := row.Scan(&p.ID, &p.RegistrationID, &p.UserID, &p.AmountCents, &p.Currency, &p.Status,
		&ref, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.PaymentOrder{}, err
	}
	if ref.Valid {
		s := ref.String
		p.ProviderRef = &s
	}
	return p, nil
}

// PaymentRepo stores payment orders for paid events.
type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts p.  p.ID must already be set.
func (r *PaymentRepo) Create(ctx context.Context, p *model.PaymentOrder) error {
	if p.Status == "" {
		p.Status = model.PaymentCreated
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO payment_orders (id, registration_id, user_id, amount_cents, currency, status) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.RegistrationID, p.UserID, p.AmountCents, p.Currency, p.Status)
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = stored
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id string) (model.PaymentOrder, error) {
	return scanPayment(r.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payment_orders WHERE id = ?", id))
}

// OpenForRegistration returns the unsettled order of a registration, if any.
func (r *PaymentRepo) OpenForRegistration(ctx context.Context, registrationID uint64) (model.PaymentOrder, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_orders WHERE registration_id = ? AND status = 'created' ORDER BY created_at DESC LIMIT 1",
		registrationID))
}

// Settle moves an order from created to paid or failed.  Paying also
// flags the registration as paid, in the same transaction.  changed is
// false when the order already had status, which is how gateway retries
// arrive; any other transition returns ErrConflict.
func (r *PaymentRepo) Settle(ctx context.Context, id, status string, providerRef *string) (p model.PaymentOrder, changed bool, err error) {
	if status != model.PaymentPaid && status != model.PaymentFailed {
		return model.PaymentOrder{}, false, errors.New("settle: unsupported status " + status)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PaymentOrder{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err = scanPayment(tx.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payment_orders WHERE id = ? FOR UPDATE", id))
	if err != nil {
		return model.PaymentOrder{}, false, err
	}
	if p.Status == status {
		return p, false, nil
	}
	if p.Status != model.PaymentCreated {
		return model.PaymentOrder{}, false, ErrConflict
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE payment_orders SET status = ?, provider_ref = ? WHERE id = ?", status, providerRef, id); err != nil {
		return model.PaymentOrder{}, false, err
	}
	if status == model.PaymentPaid {
		if _, err := tx.ExecContext(ctx,
			"UPDATE registrations SET is_paid = 1 WHERE id = ?", p.RegistrationID); err != nil {
			return model.PaymentOrder{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.PaymentOrder{}, false, err
	}
	p.Status = status
	p.ProviderRef = providerRef
	return p, true, nil
}
