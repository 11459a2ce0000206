package bookings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/domain/event"
)

func (c *coordinator) NotifyBookingCreated(ctx context.Context, caller domain.Caller, bookingID string) (resp *NotifyResponse, err error) {
	ctx, span := c.startSpan(ctx, "bookings.NotifyBookingCreated", bookingID)
	defer func() { endSpan(span, err) }()

	if !caller.Privileged() {
		return nil, domain.ErrForbidden
	}
	b, err := c.bookings.GetByID(ctx, c.db, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingStatusPending {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrIllegalTransition, b.Status)
	}
	// Concurrent callers that all pass this check are settled by the unique
	// index on live requests: only one Create succeeds.
	active, err := c.notifications.HasActive(ctx, c.db, b.ID, domain.NotificationBookingCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing notifications: %w", err)
	}
	if active {
		return nil, domain.ErrNotificationSent
	}

	res, err := c.notifier.Send(ctx, b, domain.NotificationBookingCreated)
	if err != nil {
		return nil, err
	}
	resp = &NotifyResponse{
		BookingID:         b.ID,
		NotificationID:    res.NotificationID,
		ProviderMessageID: res.ProviderMessageID,
	}
	if res.ExpiresAt != nil {
		resp.ExpiresAt = res.ExpiresAt.Format(time.RFC3339)
	}
	return resp, nil
}

func (c *coordinator) CompleteBooking(ctx context.Context, caller domain.Caller, bookingID string) (resp *BookingResponse, err error) {
	ctx, span := c.startSpan(ctx, "bookings.CompleteBooking", bookingID)
	defer func() { endSpan(span, err) }()

	b, err := c.bookings.GetByID(ctx, c.db, bookingID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != b.FundiID && !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if err := c.transition(ctx, b, domain.BookingStatusCompleted); err != nil {
		return nil, err
	}
	c.logger.Info("Booking completed", zap.String("booking_id", b.ID), zap.String("by", caller.UserID))

	if b.PaymentStatus != domain.PaymentStatusPaid {
		c.notify(ctx, b, domain.NotificationPaymentReminder)
	}
	return mapBookingToResponse(b), nil
}

func (c *coordinator) CancelBooking(ctx context.Context, caller domain.Caller, bookingID string) (resp *BookingResponse, err error) {
	ctx, span := c.startSpan(ctx, "bookings.CancelBooking", bookingID)
	defer func() { endSpan(span, err) }()

	b, err := c.bookings.GetByID(ctx, c.db, bookingID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != b.ClientID && caller.UserID != b.FundiID && !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if err := c.transition(ctx, b, domain.BookingStatusCancelled); err != nil {
		return nil, err
	}
	c.logger.Info("Booking cancelled", zap.String("booking_id", b.ID), zap.String("by", caller.UserID))
	return mapBookingToResponse(b), nil
}

// transition applies a user-requested status change. Unlike webhook-driven
// changes, losing the race is reported to the caller.
func (c *coordinator) transition(ctx context.Context, b *domain.Booking, next domain.BookingStatus) error {
	var ok bool
	err := c.tx.WithinTx(ctx, func(q domain.Querier) error {
		var err error
		ok, err = c.compareAndSwapStatus(ctx, q, b, next)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: booking changed concurrently", domain.ErrConflict)
	}
	return nil
}

// RefundPayment moves a paid booking to refunded. Repeating it is a no-op.
func (c *coordinator) RefundPayment(ctx context.Context, caller domain.Caller, bookingID string) (resp *BookingResponse, err error) {
	ctx, span := c.startSpan(ctx, "bookings.RefundPayment", bookingID)
	defer func() { endSpan(span, err) }()

	if !caller.Privileged() {
		return nil, domain.ErrForbidden
	}
	b, err := c.bookings.GetByID(ctx, c.db, bookingID)
	if err != nil {
		return nil, err
	}
	switch b.PaymentStatus {
	case domain.PaymentStatusRefunded:
		return mapBookingToResponse(b), nil
	case domain.PaymentStatusPaid:
	default:
		return nil, fmt.Errorf("%w: payment is %s", domain.ErrIllegalTransition, b.PaymentStatus)
	}

	var ok bool
	err = c.tx.WithinTx(ctx, func(q domain.Querier) error {
		var err error
		ok, err = c.compareAndSwapPaymentStatus(ctx, q, b, paymentChange{
			expected:  []domain.PaymentStatus{domain.PaymentStatusPaid},
			next:      domain.PaymentStatusRefunded,
			eventType: event.TypePaymentRefunded,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.bookings.GetByID(ctx, c.db, bookingID)
		if err != nil {
			return nil, err
		}
		if current.PaymentStatus == domain.PaymentStatusRefunded {
			return mapBookingToResponse(current), nil
		}
		return nil, fmt.Errorf("%w: payment changed concurrently", domain.ErrConflict)
	}

	c.logger.Info("Payment refunded", zap.String("booking_id", b.ID), zap.String("by", caller.UserID), zap.String("role", string(caller.Role)))
	return mapBookingToResponse(b), nil
}
