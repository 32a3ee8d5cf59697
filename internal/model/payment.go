package model

import "time"

// Payment order states.
const (
	PaymentCreated = "created"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// PaymentOrder tracks the fee for one registration of a paid event.
// ID is a uuid handed to the payment gateway; ProviderRef is whatever
// reference the gateway reports back through the webhook.
type PaymentOrder struct {
	ID             string    `json:"id"`
	RegistrationID uint64    `json:"registration_id"`
	UserID         uint64    `json:"user_id"`
	AmountCents    uint32    `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	ProviderRef    *string   `json:"provider_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
