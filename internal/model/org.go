package model

import "time"

// OrgTypes lists the accepted values of Organization.Type.
var OrgTypes = []string{"school", "university", "college", "company", "other"}

// Organization groups clubs that belong to the same institution.
type Organization struct {
	ID         uint64    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Address    string    `json:"address,omitempty"`
	Email      string    `json:"email,omitempty"`
	Website    string    `json:"website,omitempty"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// Interest is a topic tag attached to events.
type Interest struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}
