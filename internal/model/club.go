package model

import "time"

// Club is a community run by a CLUB user.  Rating and TotalRatings are
// an aggregate over the ratings of every event the club hosts and are
// refreshed whenever one of those ratings changes.
//
// Fields:
//  ID           – primary key identifier.
//  OwnerID      – user who administers the club.
//  OrgID        – optional parent organization.
//  Slug         – unique URL-safe handle.
//  Name         – display name.
//  About        – free-form description.
//  LocationName – home location label.
//  ContactEmail – public contact address.
//  ContactPhone – public contact number.
//  Rating       – average event rating in [0,5].
//  TotalRatings – number of ratings behind Rating.
type Club struct {
	ID           uint64    `json:"id"`
	OwnerID      uint64    `json:"owner_id"`
	OrgID        *uint64   `json:"org_id,omitempty"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	About        string    `json:"about,omitempty"`
	LocationName string    `json:"location_name,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	Rating       float64   `json:"rating"`
	TotalRatings int       `json:"total_ratings"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClubFollower records whether a user follows a club.  Unfollowing keeps
// the row and clears IsFollowing.
type ClubFollower struct {
	ClubID      uint64    `json:"club_id"`
	UserID      uint64    `json:"user_id"`
	IsFollowing bool      `json:"is_following"`
	UpdatedAt   time.Time `json:"updated_at"`
}
