package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/repository/attempt_repo"
)

type pgAttemptRepository struct{}

func NewAttemptRepository() attempt_repo.AttemptRepository {
	return &pgAttemptRepository{}
}

func (r *pgAttemptRepository) LatestAttemptNumber(ctx context.Context, querier domain.Querier, bookingID string) (int, error) {
	query := `SELECT COALESCE(MAX(attempt_number), 0) FROM payment_attempts WHERE booking_id = $1`
	var n int
	if err := querier.QueryRowContext(ctx, query, bookingID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count payment attempts for booking %s: %w", bookingID, err)
	}
	return n, nil
}

func (r *pgAttemptRepository) Create(ctx context.Context, querier domain.Querier, a *domain.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (id, booking_id, payment_method, attempt_number, status, error_message, payment_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := querier.ExecContext(ctx, query,
		a.ID,
		a.BookingID,
		a.Method,
		a.AttemptNumber,
		a.Status,
		sql.NullString{String: a.ErrorMessage, Valid: a.ErrorMessage != ""},
		sql.NullString{String: a.PaymentReference, Valid: a.PaymentReference != ""},
		a.CreatedAt,
	)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return fmt.Errorf("attempt %d for booking %s: %w", a.AttemptNumber, a.BookingID, domain.ErrDuplicatePaymentStep)
		}
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

func (r *pgAttemptRepository) FindByReference(ctx context.Context, querier domain.Querier, reference string) (*domain.PaymentAttempt, error) {
	query := `
		SELECT id, booking_id, payment_method, attempt_number, status, payment_reference, created_at
		FROM payment_attempts
		WHERE payment_reference = $1 AND status = 'success'
		LIMIT 1
	`
	a := &domain.PaymentAttempt{}
	err := querier.QueryRowContext(ctx, query, reference).Scan(
		&a.ID, &a.BookingID, &a.Method, &a.AttemptNumber, &a.Status, &a.PaymentReference, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to find payment attempt by reference %s: %w", reference, err)
	}
	return a, nil
}
