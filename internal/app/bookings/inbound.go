package bookings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/messaging"
)

// HandleInbound applies a fundi's accept or reject reply. Replies that cannot
// be applied are dropped with a reason and never returned as errors. Store
// failures are returned for logging; a failed transaction rolls back the
// inbox row, so a later delivery of the same message is applied.
func (c *coordinator) HandleInbound(ctx context.Context, msg messaging.InboundMessage) (out *InboundOutcome, err error) {
	ctx, span := c.startSpan(ctx, "bookings.HandleInbound", msg.BookingRef)
	defer func() { endSpan(span, err) }()

	logger := c.logger.With(
		zap.String("provider", msg.Provider),
		zap.String("message_id", msg.MessageID),
		zap.String("booking_ref", msg.BookingRef),
	)

	var next domain.BookingStatus
	switch msg.Intent {
	case messaging.IntentAccept:
		next = domain.BookingStatusAccepted
	case messaging.IntentReject:
		next = domain.BookingStatusRejected
	default:
		logger.Info("Inbound message carries no booking intent, dropping")
		return &InboundOutcome{Reason: reasonNoIntent}, nil
	}

	out = &InboundOutcome{}
	var applied *domain.Booking
	inboxKey := ""
	if msg.MessageID != "" {
		inboxKey = domain.InboxKey(msg.Provider, msg.MessageID)
	}

	err = c.tx.WithinTx(ctx, func(q domain.Querier) error {
		if inboxKey != "" {
			fresh, err := c.inbox.CreateMessage(ctx, q, &domain.InboxMessage{
				ID:         inboxKey,
				Provider:   msg.Provider,
				Sender:     msg.Sender,
				Payload:    msg.Raw,
				Status:     domain.InboxStatusNew,
				ReceivedAt: c.now(),
			})
			if err != nil {
				return err
			}
			if !fresh {
				out.Reason = reasonDuplicate
				return nil
			}
		}

		b, err := c.resolveInbound(ctx, q, msg, logger)
		if err != nil {
			return err
		}
		switch {
		case b == nil:
			out.Reason = reasonUnknownBooking
		case !domain.SamePhone(b.Fundi.Phone, msg.Sender):
			out.BookingID = b.ID
			out.Reason = reasonSenderMismatch
		case b.Status != domain.BookingStatusPending:
			out.BookingID = b.ID
			out.Status = b.Status
			out.Reason = reasonAlreadyResolved
		default:
			out.BookingID = b.ID
			ok, err := c.compareAndSwapStatus(ctx, q, b, next)
			if err != nil {
				return err
			}
			if ok {
				applied = b
				out.Applied = true
				out.Status = next
			} else {
				out.Reason = reasonAlreadyResolved
			}
		}
		return c.finishInbox(ctx, q, inboxKey, out.Applied)
	})
	if err != nil {
		logger.Error("Failed to apply inbound reply", zap.Error(err))
		return nil, err
	}

	if applied == nil {
		logger.Info("Inbound reply dropped", zap.String("reason", out.Reason), zap.String("booking_id", out.BookingID))
		return out, nil
	}

	logger.Info("Booking resolved by fundi reply", zap.String("booking_id", applied.ID), zap.String("status", string(next)))
	if err := c.notifier.MarkDelivered(ctx, applied.ID); err != nil {
		logger.Warn("Failed to mark booking request delivered", zap.String("booking_id", applied.ID), zap.Error(err))
	}
	if next == domain.BookingStatusAccepted {
		c.notify(ctx, applied, domain.NotificationBookingAccepted)
	} else {
		c.notify(ctx, applied, domain.NotificationBookingRejected)
	}
	return out, nil
}

// resolveInbound finds the booking a reply refers to. A typed reply only
// carries the short reference, so candidates are narrowed to the sender's own
// pending bookings and the oldest wins.
func (c *coordinator) resolveInbound(ctx context.Context, q domain.Querier, msg messaging.InboundMessage, logger *zap.Logger) (*domain.Booking, error) {
	if !msg.RefIsSuffix {
		b, err := c.bookings.GetByID(ctx, q, msg.BookingRef)
		if errors.Is(err, domain.ErrBookingNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load booking %s: %w", msg.BookingRef, err)
		}
		return b, nil
	}

	candidates, err := c.bookings.FindPendingBySuffix(ctx, q, msg.BookingRef)
	if err != nil {
		return nil, fmt.Errorf("failed to look up booking suffix %s: %w", msg.BookingRef, err)
	}
	var matches []*domain.Booking
	for _, b := range candidates {
		if domain.SamePhone(b.Fundi.Phone, msg.Sender) {
			matches = append(matches, b)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, b := range matches {
			ids[i] = b.ID
		}
		logger.Warn("Short reference matches several pending bookings, using the oldest", zap.Strings("booking_ids", ids))
	}
	return matches[0], nil
}

func (c *coordinator) finishInbox(ctx context.Context, q domain.Querier, key string, applied bool) error {
	if key == "" {
		return nil
	}
	status := domain.InboxStatusDropped
	if applied {
		status = domain.InboxStatusProcessed
	}
	return c.inbox.UpdateStatus(ctx, q, key, status)
}
