package inbox_repo

import (
	"context"

	"fundiconnect/internal/domain"
)

type InboxRepository interface {
	// CreateMessage records msg and reports whether it was new. A provider
	// redelivery returns (false, nil).
	CreateMessage(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) (bool, error)
	UpdateStatus(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error
}
