package notification_repo

import (
	"context"
	"time"

	"fundiconnect/internal/domain"
)

// SentUpdate is written when a provider accepts a message.
type SentUpdate struct {
	Provider          string
	ProviderMessageID string
	MessageContent    string
	ExpiresAt         *time.Time
}

type NotificationRepository interface {
	Create(ctx context.Context, querier domain.Querier, n *domain.Notification) error
	MarkSent(ctx context.Context, querier domain.Querier, id string, upd SentUpdate, at time.Time) error
	MarkFailed(ctx context.Context, querier domain.Querier, id, provider, content string, at time.Time) error
	// MarkDelivered flags sent notifications of type typ for the booking as delivered.
	MarkDelivered(ctx context.Context, querier domain.Querier, bookingID string, typ domain.NotificationType, at time.Time) (int64, error)
	CompareAndSwapStatus(ctx context.Context, querier domain.Querier, id string, expected, next domain.NotificationStatus, at time.Time) (bool, error)
	// HasActive reports whether a sent or delivered notification of type typ exists.
	HasActive(ctx context.Context, querier domain.Querier, bookingID string, typ domain.NotificationType) (bool, error)
	// FindExpired lists sent booking_created notifications past expiry whose
	// booking is still pending.
	FindExpired(ctx context.Context, querier domain.Querier, now time.Time, limit int) ([]*domain.Notification, error)
}
