package bookings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/domain/event"
	"fundiconnect/internal/repository/booking_repo"
)

const (
	aggregateBooking = "booking"
	aggregatePayment = "payment"
)

var bookingEventTypes = map[domain.BookingStatus]string{
	domain.BookingStatusAccepted:  event.TypeBookingAccepted,
	domain.BookingStatusRejected:  event.TypeBookingRejected,
	domain.BookingStatusExpired:   event.TypeBookingExpired,
	domain.BookingStatusCancelled: event.TypeBookingCancelled,
	domain.BookingStatusCompleted: event.TypeBookingCompleted,
}

// compareAndSwapStatus moves b to next if it is still in b.Status and records
// the lifecycle event in the same transaction. A lost race returns (false, nil).
// On success b.Status is updated in place.
func (c *coordinator) compareAndSwapStatus(ctx context.Context, q domain.Querier, b *domain.Booking, next domain.BookingStatus) (bool, error) {
	from := b.Status
	if !domain.CanTransition(from, next) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, next)
	}

	now := c.now()
	ok, err := c.bookings.CompareAndSwapStatus(ctx, q, b.ID, from, next, now)
	if err != nil || !ok {
		return false, err
	}

	payload, err := json.Marshal(event.BookingStatusChangedEvent{
		EventType:  bookingEventTypes[next],
		BookingID:  b.ID,
		ClientID:   b.ClientID,
		FundiID:    b.FundiID,
		FromStatus: string(from),
		ToStatus:   string(next),
		Amount:     b.TotalAmount,
		Timestamp:  now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal booking event: %w", err)
	}
	if err := c.enqueue(ctx, q, aggregateBooking, b.ID, bookingEventTypes[next], payload); err != nil {
		return false, err
	}

	b.Status = next
	b.UpdatedAt = now
	c.metrics.BookingTransitions.WithLabelValues(string(from), string(next)).Inc()
	return true, nil
}

type paymentChange struct {
	expected  []domain.PaymentStatus
	next      domain.PaymentStatus
	fields    booking_repo.PaymentFields
	eventType string
	attempt   int
}

// compareAndSwapPaymentStatus is compareAndSwapStatus for the payment
// sub-state. An empty eventType writes no outbox row.
func (c *coordinator) compareAndSwapPaymentStatus(ctx context.Context, q domain.Querier, b *domain.Booking, ch paymentChange) (bool, error) {
	now := c.now()
	ok, err := c.bookings.CompareAndSwapPaymentStatus(ctx, q, b.ID, ch.expected, ch.next, ch.fields, now)
	if err != nil || !ok {
		return false, err
	}

	b.PaymentStatus = ch.next
	if ch.fields.Method != nil {
		b.PaymentMethod = *ch.fields.Method
	}
	if ch.fields.Reference != nil {
		b.PaymentReference = *ch.fields.Reference
	}
	if ch.fields.CompletedAt != nil {
		b.PaymentCompletedAt = ch.fields.CompletedAt
	}
	b.UpdatedAt = now
	c.metrics.PaymentTransitions.WithLabelValues(string(ch.next)).Inc()

	if ch.eventType == "" {
		return true, nil
	}
	payload, err := json.Marshal(event.PaymentStatusChangedEvent{
		EventType:     ch.eventType,
		BookingID:     b.ID,
		ClientID:      b.ClientID,
		Method:        string(b.PaymentMethod),
		Reference:     b.PaymentReference,
		Status:        string(ch.next),
		AttemptNumber: ch.attempt,
		Amount:        b.TotalAmount,
		Timestamp:     now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal payment event: %w", err)
	}
	if err := c.enqueue(ctx, q, aggregatePayment, b.ID, ch.eventType, payload); err != nil {
		return false, err
	}
	return true, nil
}

func (c *coordinator) enqueue(ctx context.Context, q domain.Querier, aggregateType, aggregateID, messageType string, payload []byte) error {
	msg := &domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		MessageType:   messageType,
		Key:           aggregateID,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     c.now(),
	}
	if err := c.outbox.CreateMessage(ctx, q, msg); err != nil {
		c.logger.Error("Failed to write outbox message",
			zap.String("booking_id", aggregateID),
			zap.String("message_type", messageType),
			zap.Error(err))
		return fmt.Errorf("failed to write outbox message: %w", err)
	}
	return nil
}
