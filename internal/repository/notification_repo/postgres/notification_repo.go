package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/repository/notification_repo"
)

// activeRequestIndex keeps a booking to one live booking request.
const activeRequestIndex = "uq_notifications_active_request"

type pgNotificationRepository struct{}

func NewNotificationRepository() notification_repo.NotificationRepository {
	return &pgNotificationRepository{}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *pgNotificationRepository) Create(ctx context.Context, querier domain.Querier, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, booking_id, recipient_id, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := querier.ExecContext(ctx, query,
		n.ID,
		n.BookingID,
		n.RecipientID,
		n.Type,
		n.Status,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" && pgErr.Constraint == activeRequestIndex {
			return fmt.Errorf("booking %s: %w", n.BookingID, domain.ErrNotificationSent)
		}
		return fmt.Errorf("failed to create notification for booking %s: %w", n.BookingID, err)
	}
	return nil
}

func (r *pgNotificationRepository) MarkSent(ctx context.Context, querier domain.Querier, id string, upd notification_repo.SentUpdate, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', provider = $1, provider_message_id = $2, message_content = $3, expires_at = $4, updated_at = $5
		WHERE id = $6
	`
	var expiresAt sql.NullTime
	if upd.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *upd.ExpiresAt, Valid: true}
	}
	res, err := querier.ExecContext(ctx, query,
		upd.Provider, nullString(upd.ProviderMessageID), nullString(upd.MessageContent), expiresAt, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return requireRow(res, id)
}

func (r *pgNotificationRepository) MarkFailed(ctx context.Context, querier domain.Querier, id, provider, content string, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'failed', provider = $1, message_content = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := querier.ExecContext(ctx, query, nullString(provider), nullString(content), at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s failed: %w", id, err)
	}
	return requireRow(res, id)
}

func (r *pgNotificationRepository) MarkDelivered(ctx context.Context, querier domain.Querier, bookingID string, typ domain.NotificationType, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET status = 'delivered', updated_at = $1
		WHERE booking_id = $2 AND type = $3 AND status = 'sent'
	`
	res, err := querier.ExecContext(ctx, query, at, bookingID, typ)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s notifications delivered for booking %s: %w", typ, bookingID, err)
	}
	return res.RowsAffected()
}

func (r *pgNotificationRepository) CompareAndSwapStatus(ctx context.Context, querier domain.Querier, id string, expected, next domain.NotificationStatus, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := querier.ExecContext(ctx, query, next, at, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update notification %s status %s -> %s: %w", id, expected, next, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for notification update: %w", err)
	}
	return rowsAffected == 1, nil
}

func (r *pgNotificationRepository) HasActive(ctx context.Context, querier domain.Querier, bookingID string, typ domain.NotificationType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE booking_id = $1 AND type = $2 AND status IN ('sent', 'delivered')
		)
	`
	var exists bool
	if err := querier.QueryRowContext(ctx, query, bookingID, typ).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check notifications for booking %s: %w", bookingID, err)
	}
	return exists, nil
}

func (r *pgNotificationRepository) FindExpired(ctx context.Context, querier domain.Querier, now time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT n.id, n.booking_id, n.recipient_id, n.type, n.status,
			COALESCE(n.provider, ''), COALESCE(n.provider_message_id, ''), COALESCE(n.message_content, ''),
			n.expires_at, n.created_at, n.updated_at
		FROM notifications n
		JOIN bookings b ON b.id = n.booking_id
		WHERE n.type = 'booking_created' AND n.status = 'sent' AND n.expires_at < $1 AND b.status = 'pending'
		ORDER BY n.expires_at ASC
		LIMIT $2
	`
	rows, err := querier.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		var expiresAt sql.NullTime
		err := rows.Scan(
			&n.ID,
			&n.BookingID,
			&n.RecipientID,
			&n.Type,
			&n.Status,
			&n.Provider,
			&n.ProviderMessageID,
			&n.MessageContent,
			&expiresAt,
			&n.CreatedAt,
			&n.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if expiresAt.Valid {
			n.ExpiresAt = &expiresAt.Time
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

func requireRow(res sql.Result, id string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for notification update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotificationNotFound)
	}
	return nil
}
