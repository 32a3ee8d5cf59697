package model

import "time"

const (
	NotificationUnread = "unread"
	NotificationRead   = "read"

	NotificationEventRegistered       = "event_registered"
	NotificationRegistrationCancelled = "registration_cancelled"
	NotificationPaymentSucceeded      = "payment_succeeded"
)

// Notification is an in-app message for a single user.
type Notification struct {
	ID          uint64    `json:"id"`
	UserID      uint64    `json:"user_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	EventID     *uint64   `json:"event_id,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
