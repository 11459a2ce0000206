package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/repository/booking_repo"
)

const selectBooking = `
	SELECT b.id, b.client_id, b.fundi_id, b.service, COALESCE(b.description, ''),
		b.scheduled_date, b.scheduled_time, b.location, b.total_amount,
		b.status, b.payment_status, COALESCE(b.payment_method, ''), COALESCE(b.payment_reference, ''),
		b.payment_completed_at, b.created_at, b.updated_at,
		c.full_name, COALESCE(c.phone, ''), COALESCE(c.email, ''),
		f.full_name, COALESCE(f.phone, ''), COALESCE(f.email, '')
	FROM bookings b
	JOIN profiles c ON c.id = b.client_id
	JOIN profiles f ON f.id = b.fundi_id
`

type pgBookingRepository struct{}

func NewBookingRepository() booking_repo.BookingRepository {
	return &pgBookingRepository{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	b := &domain.Booking{}
	var (
		amount      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &b.FundiID, &b.Service, &b.Description,
		&b.ScheduledDate, &b.ScheduledTime, &b.Location, &amount,
		&b.Status, &b.PaymentStatus, &b.PaymentMethod, &b.PaymentReference,
		&completedAt, &b.CreatedAt, &b.UpdatedAt,
		&b.Client.FullName, &b.Client.Phone, &b.Client.Email,
		&b.Fundi.FullName, &b.Fundi.Phone, &b.Fundi.Email,
	)
	if err != nil {
		return nil, err
	}
	if b.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid total_amount %q: %w", amount, err)
	}
	if completedAt.Valid {
		b.PaymentCompletedAt = &completedAt.Time
	}
	b.Client.ID = b.ClientID
	b.Fundi.ID = b.FundiID
	return b, nil
}

func (r *pgBookingRepository) GetByID(ctx context.Context, querier domain.Querier, id string) (*domain.Booking, error) {
	b, err := scanBooking(querier.QueryRowContext(ctx, selectBooking+` WHERE b.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return b, nil
}

func (r *pgBookingRepository) FindByPaymentReference(ctx context.Context, querier domain.Querier, reference string) (*domain.Booking, error) {
	query := selectBooking + `
		WHERE b.payment_reference = $1
		   OR b.id IN (SELECT booking_id FROM payment_attempts WHERE payment_reference = $1 AND status = 'success')
		LIMIT 1
	`
	b, err := scanBooking(querier.QueryRowContext(ctx, query, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to find booking by payment reference %s: %w", reference, err)
	}
	return b, nil
}

func (r *pgBookingRepository) FindPendingBySuffix(ctx context.Context, querier domain.Querier, suffix string) ([]*domain.Booking, error) {
	query := selectBooking + `
		WHERE b.status = 'pending' AND UPPER(b.id::text) LIKE $1
		ORDER BY b.created_at ASC
	`
	rows, err := querier.QueryContext(ctx, query, "%"+strings.ToUpper(suffix))
	if err != nil {
		return nil, fmt.Errorf("failed to find pending bookings by suffix %s: %w", suffix, err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

func (r *pgBookingRepository) CompareAndSwapStatus(ctx context.Context, querier domain.Querier, id string, expected, next domain.BookingStatus, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := querier.ExecContext(ctx, query, next, at, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update booking %s status %s -> %s: %w", id, expected, next, err)
	}
	return swapped(res)
}

func (r *pgBookingRepository) CompareAndSwapPaymentStatus(ctx context.Context, querier domain.Querier, id string, expected []domain.PaymentStatus, next domain.PaymentStatus, fields booking_repo.PaymentFields, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = $1,
			payment_method = COALESCE($2, payment_method),
			payment_reference = COALESCE($3, payment_reference),
			payment_completed_at = COALESCE($4, payment_completed_at),
			updated_at = $5
		WHERE id = $6 AND payment_status = ANY($7)
	`
	var (
		method      sql.NullString
		reference   sql.NullString
		completedAt sql.NullTime
	)
	if fields.Method != nil {
		method = sql.NullString{String: string(*fields.Method), Valid: true}
	}
	if fields.Reference != nil {
		reference = sql.NullString{String: *fields.Reference, Valid: true}
	}
	if fields.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *fields.CompletedAt, Valid: true}
	}

	statuses := make([]string, len(expected))
	for i, s := range expected {
		statuses[i] = string(s)
	}

	res, err := querier.ExecContext(ctx, query, next, method, reference, completedAt, at, id, pq.Array(statuses))
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return false, fmt.Errorf("payment reference already bound to another booking: %w", domain.ErrConflict)
		}
		return false, fmt.Errorf("failed to update booking %s payment status -> %s: %w", id, next, err)
	}
	return swapped(res)
}

func swapped(res sql.Result) (bool, error) {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for booking update: %w", err)
	}
	return rowsAffected == 1, nil
}
