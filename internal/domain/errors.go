package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("caller is not a party to this booking")
	ErrUnauthorized = errors.New("missing or invalid credentials")

	ErrBookingNotFound      = errors.New("booking not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrAttemptNotFound      = errors.New("payment attempt not found")

	ErrConflict             = errors.New("conflict")
	ErrIllegalTransition    = fmt.Errorf("%w: illegal status transition", ErrConflict)
	ErrPaymentInFlight      = fmt.Errorf("%w: a payment attempt is already in progress", ErrConflict)
	ErrNotificationSent     = fmt.Errorf("%w: booking request already sent", ErrConflict)
	ErrDuplicatePaymentStep = fmt.Errorf("%w: attempt number already recorded", ErrConflict)

	ErrRetryCeiling = errors.New("maximum payment attempts reached")

	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrProviderError        = errors.New("provider returned an error")
	ErrRecipientUnreachable = errors.New("recipient has no usable contact")
	ErrConfigurationMissing = errors.New("provider configuration missing")
	ErrProviderRejected     = errors.New("provider rejected the request")
)

// IsRetryable reports whether a provider failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderError)
}

// PaymentError is the user-visible outcome of a failed payment initiation.
type PaymentError struct {
	Err           error
	AttemptNumber int
	MaxAttempts   int
	CanRetry      bool
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment attempt %d/%d failed: %v", e.AttemptNumber, e.MaxAttempts, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }
