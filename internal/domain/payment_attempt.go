package domain

import "time"

type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSuccess AttemptStatus = "success"
	AttemptStatusFailed  AttemptStatus = "failed"
)

// PaymentAttempt is an immutable ledger row for one initiation try.
type PaymentAttempt struct {
	ID               string
	BookingID        string
	Method           PaymentMethod
	AttemptNumber    int
	Status           AttemptStatus
	ErrorMessage     string
	PaymentReference string
	CreatedAt        time.Time
}
