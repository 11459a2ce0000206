package postgres

import (
	"context"
	"fmt"
	"time"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/repository/inbox_repo"
)

type pgInboxRepository struct{}

func NewInboxRepository() inbox_repo.InboxRepository {
	return &pgInboxRepository{}
}

func (r *pgInboxRepository) CreateMessage(ctx context.Context, querier domain.Querier, msg *domain.InboxMessage) (bool, error) {
	query := `
		INSERT INTO inbox_messages (id, provider, sender, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.Provider,
		msg.Sender,
		msg.Payload,
		msg.Status,
		msg.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert inbox message %s: %w", msg.ID, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for inbox insert: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *pgInboxRepository) UpdateStatus(ctx context.Context, querier domain.Querier, id string, status domain.InboxMessageStatus) error {
	query := `
		UPDATE inbox_messages
		SET status = $1, processed_at = $2
		WHERE id = $3
	`
	res, err := querier.ExecContext(ctx, query, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update inbox message status %s: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for inbox message update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("inbox message with id %s not found for status update", id)
	}
	return nil
}
