package outbox_repo

import (
	"context"

	"fundiconnect/internal/domain"
)

type OutboxRepository interface {
	CreateMessage(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
	// GetPendingMessages locks up to limit pending rows; call it inside a transaction.
	GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	UpdateMessageStatus(ctx context.Context, querier domain.Querier, id string, status domain.OutboxMessageStatus) error
}
