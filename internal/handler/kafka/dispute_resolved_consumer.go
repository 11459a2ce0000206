package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/domain"
	"fundiconnect/internal/domain/event"
	kafka_infra "fundiconnect/internal/infrastructure/kafka"
)

// Refunder is the part of the coordinator a dispute resolution needs.
type Refunder interface {
	RefundPayment(ctx context.Context, caller domain.Caller, bookingID string) (*bookings.BookingResponse, error)
}

// DisputeResolvedMessageHandler applies refund resolutions. Messages that can
// never succeed are logged and committed; store failures are returned so the
// offset is not committed and the message is fetched again.
func DisputeResolvedMessageHandler(refunder Refunder, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		logger.Info("Received dispute resolution",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		)

		var ev event.DisputeResolvedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("Failed to unmarshal DisputeResolvedEvent",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if ev.BookingID == "" {
			logger.Warn("Dispute resolution without booking id, skipping", zap.String("dispute_id", ev.DisputeID))
			return nil
		}
		if ev.Action != event.DisputeActionRefund {
			logger.Debug("Dispute resolution needs no payment change",
				zap.String("dispute_id", ev.DisputeID),
				zap.String("action", ev.Action))
			return nil
		}

		resp, err := refunder.RefundPayment(ctx, domain.ServiceCaller(), ev.BookingID)
		switch {
		case errors.Is(err, domain.ErrBookingNotFound), errors.Is(err, domain.ErrConflict):
			logger.Warn("Refund from dispute cannot be applied",
				zap.String("dispute_id", ev.DisputeID),
				zap.String("booking_id", ev.BookingID),
				zap.Error(err))
			return nil
		case err != nil:
			return fmt.Errorf("failed to refund booking %s for dispute %s: %w", ev.BookingID, ev.DisputeID, err)
		}

		logger.Info("Refund applied from dispute resolution",
			zap.String("dispute_id", ev.DisputeID),
			zap.String("booking_id", ev.BookingID),
			zap.String("resolved_by", ev.ResolvedBy),
			zap.String("payment_status", resp.PaymentStatus))
		return nil
	}
}
