package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/club-events/internal/model"
)

// ErrSlugExists is returned when a club slug is already taken.
var ErrSlugExists = errors.New("club slug already exists")

const clubColumns = "id, owner_id, org_id, slug, name, about, location_name, contact_email, contact_phone, rating, total_ratings, created_at, updated_at"

func scanClub(row rowScanner) (model.Club, error) {
	var (
		c     model.Club
		orgID sql.NullInt64
		about sql.NullString
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &orgID, &c.Slug, &c.Name, &about, &c.LocationName,
		&c.ContactEmail, &c.ContactPhone, &c.Rating, &c.TotalRatings, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Club{}, err
	}
	if orgID.Valid {
		id := uint64(orgID.Int64)
		c.OrgID = &id
	}
	c.About = about.String
	return c, nil
}

// ClubRepo provides CRUD operations for clubs and their followers.
type ClubRepo struct {
	db *sql.DB
}

func NewClubRepo(db *sql.DB) *ClubRepo { return &ClubRepo{db: db} }

// Create inserts c and fills its id and timestamps.
func (r *ClubRepo) Create(ctx context.Context, c *model.Club) error {
	c.Slug = strings.ToLower(strings.TrimSpace(c.Slug))
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO clubs (owner_id, org_id, slug, name, about, location_name, contact_email, contact_phone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OwnerID, c.OrgID, c.Slug, c.Name, c.About, c.LocationName, c.ContactEmail, c.ContactPhone)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrSlugExists
		}
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
	*c = stored
	return nil
}

// GetByID returns the club or sql.ErrNoRows.
func (r *ClubRepo) GetByID(ctx context.Context, id uint64) (model.Club, error) {
	return scanClub(r.db.QueryRowContext(ctx, "SELECT "+clubColumns+" FROM clubs WHERE id = ?", id))
}

// GetBySlug returns the club with the given slug or sql.ErrNoRows.
func (r *ClubRepo) GetBySlug(ctx context.Context, slug string) (model.Club, error) {
	return scanClub(r.db.QueryRowContext(ctx,
		"SELECT "+clubColumns+" FROM clubs WHERE slug = ?", strings.ToLower(slug)))
}

// List returns clubs by name.  orgID and ownerID filter when non-zero.
func (r *ClubRepo) List(ctx context.Context, orgID, ownerID uint64, limit, offset int) ([]model.Club, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := "SELECT " + clubColumns + " FROM clubs WHERE 1=1"
	var args []any
	if orgID != 0 {
		query += " AND org_id = ?"
		args = append(args, orgID)
	}
	if ownerID != 0 {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY name, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Club{}
	for rows.Next() {
		c, err := scanClub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClubUpdate holds optional changes to a club.
type ClubUpdate struct {
	Name         *string
	About        *string
	LocationName *string
	ContactEmail *string
	ContactPhone *string
	OrgID        *uint64
}

// Update applies u when ownerID owns the club.
func (r *ClubRepo) Update(ctx context.Context, clubID, ownerID uint64, u ClubUpdate) (model.Club, error) {
	c, err := r.GetByID(ctx, clubID)
	if err != nil {
		return model.Club{}, err
	}
	if c.OwnerID != ownerID {
		return model.Club{}, ErrForbidden
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.About != nil {
		c.About = *u.About
	}
	if u.LocationName != nil {
		c.LocationName = *u.LocationName
	}
	if u.ContactEmail != nil {
		c.ContactEmail = *u.ContactEmail
	}
	if u.ContactPhone != nil {
		c.ContactPhone = *u.ContactPhone
	}
	if u.OrgID != nil {
		c.OrgID = u.OrgID
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE clubs SET name = ?, about = ?, location_name = ?, contact_email = ?, contact_phone = ?, org_id = ?
		  WHERE id = ?`,
		c.Name, c.About, c.LocationName, c.ContactEmail, c.ContactPhone, c.OrgID, clubID)
	if err != nil {
		return model.Club{}, err
	}
	return r.GetByID(ctx, clubID)
}

// SetFollowing records whether userID follows clubID.  Unfollowing keeps
// the row.
func (r *ClubRepo) SetFollowing(ctx context.Context, clubID, userID uint64, following bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO club_followers (club_id, user_id, is_following) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE is_following = VALUES(is_following)`,
		clubID, userID, following)
	return err
}

// FollowerCount returns how many users currently follow the club.
func (r *ClubRepo) FollowerCount(ctx context.Context, clubID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM club_followers WHERE club_id = ? AND is_following = 1", clubID).Scan(&n)
	return n, err
}
