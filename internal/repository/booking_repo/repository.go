package booking_repo

import (
	"context"
	"time"

	"fundiconnect/internal/domain"
)

// PaymentFields are the optional columns written alongside a payment status
// change. Nil fields keep their stored value.
type PaymentFields struct {
	Method      *domain.PaymentMethod
	Reference   *string
	CompletedAt *time.Time
}

type BookingRepository interface {
	GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.Booking, error)
	// FindByPaymentReference matches the booking's current reference first and
	// then references of its successful payment attempts.
	FindByPaymentReference(ctx context.Context, querier domain.Querier, reference string) (*domain.Booking, error)
	// FindPendingBySuffix returns pending bookings whose id ends with suffix,
	// oldest first.
	FindPendingBySuffix(ctx context.Context, querier domain.Querier, suffix string) ([]*domain.Booking, error)

	// CompareAndSwapStatus moves the booking to next only if its status is
	// still expected. A miss returns (false, nil).
	CompareAndSwapStatus(ctx context.Context, querier domain.Querier, id string, expected, next domain.BookingStatus, at time.Time) (bool, error)
	// CompareAndSwapPaymentStatus moves payment_status to next only if it is
	// currently one of expected.
	CompareAndSwapPaymentStatus(ctx context.Context, querier domain.Querier, id string, expected []domain.PaymentStatus, next domain.PaymentStatus, fields PaymentFields, at time.Time) (bool, error)
}
