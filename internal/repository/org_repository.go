package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/club-events/internal/model"
)

// OrgRepo stores organizations and the interest catalogue, both curated
// by admins.
type OrgRepo struct {
	db *sql.DB
}

func NewOrgRepo(db *sql.DB) *OrgRepo { return &OrgRepo{db: db} }

func (r *OrgRepo) Create(ctx context.Context, o *model.Organization) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO organizations (name, type, address, email, website, is_verified) VALUES (?, ?, ?, ?, ?, ?)",
		o.Name, o.Type, o.Address, o.Email, o.Website, o.IsVerified)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*o = stored
	return nil
}

func (r *OrgRepo) GetByID(ctx context.Context, id uint64) (model.Organization, error) {
	var o model.Organization
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, type, address, email, website, is_verified, created_at FROM organizations WHERE id = ?", id).
		Scan(&o.ID, &o.Name, &o.Type, &o.Address, &o.Email, &o.Website, &o.IsVerified, &o.CreatedAt)
	return o, err
}

// List returns organizations by name, optionally narrowed to one type.
func (r *OrgRepo) List(ctx context.Context, orgType string) ([]model.Organization, error) {
	query := "SELECT id, name, type, address, email, website, is_verified, created_at FROM organizations"
	var args []any
	if orgType != "" {
		query += " WHERE type = ?"
		args = append(args, orgType)
	}
	query += " ORDER BY name, id"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Organization{}
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.Address, &o.Email, &o.Website, &o.IsVerified, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateInterest inserts a new interest.  Names are unique.
func (r *OrgRepo) CreateInterest(ctx context.Context, in *model.Interest) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO interests (name, icon) VALUES (?, ?)", in.Name, in.Icon)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	in.ID = uint64(id)
	return nil
}

func (r *OrgRepo) ListInterests(ctx context.Context) ([]model.Interest, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, icon FROM interests ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Interest{}
	for rows.Next() {
		var in model.Interest
		if err := rows.Scan(&in.ID, &in.Name, &in.Icon); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// CountInterests returns how many of ids exist.
func (r *OrgRepo) CountInterests(ctx context.Context, ids []uint64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := "SELECT COUNT(*) FROM interests WHERE id IN (?" + repeatPlaceholders(len(ids)-1) + ")"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
