package attempt_repo

import (
	"context"

	"fundiconnect/internal/domain"
)

type AttemptRepository interface {
	// LatestAttemptNumber returns 0 when the booking has no attempts.
	LatestAttemptNumber(ctx context.Context, querier domain.Querier, bookingID string) (int, error)
	Create(ctx context.Context, querier domain.Querier, attempt *domain.PaymentAttempt) error
	// FindByReference returns the successful attempt that issued reference.
	FindByReference(ctx context.Context, querier domain.Querier, reference string) (*domain.PaymentAttempt, error)
}
