package payments

import (
	"errors"

	"fundiconnect/internal/domain"
)

type Outcome string

const (
	OutcomePaid   Outcome = "paid"
	OutcomeFailed Outcome = "failed"
)

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrUnverifiable       = errors.New("webhook secret not configured")
	ErrMissingCorrelation = errors.New("webhook carries no payment reference")
	ErrIgnoredEvent       = errors.New("webhook event is not a payment outcome")
)

// WebhookEvent is a provider callback normalized to a payment outcome.
type WebhookEvent struct {
	Provider          domain.PaymentMethod
	ProviderReference string
	// BookingID is the provider-echoed booking id, when the rail carries one.
	BookingID string
	Outcome   Outcome
	Receipt   string
	Reason    string
}
