package bookings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
)

// SweepExpired expires booking requests nobody answered in time. Each item
// is isolated: one failure is reported and the rest of the batch continues.
func (c *coordinator) SweepExpired(ctx context.Context) (report *SweepReport, err error) {
	ctx, span := c.startSpan(ctx, "bookings.SweepExpired", "")
	defer func() { endSpan(span, err) }()

	due, err := c.notifications.FindExpired(ctx, c.db, c.now(), c.sweepBatch)
	if err != nil {
		c.logger.Error("Failed to list expired booking requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired notifications: %w", err)
	}

	report = &SweepReport{TotalFound: len(due), Results: make([]SweepItem, 0, len(due))}
	for _, n := range due {
		item := c.expireOne(ctx, n)
		if item.Status == SweepResultExpired {
			report.Processed++
		}
		c.metrics.SweepResults.WithLabelValues(string(item.Status)).Inc()
		report.Results = append(report.Results, item)
	}

	if report.TotalFound > 0 {
		c.logger.Info("Expiration sweep finished", zap.Int("total_found", report.TotalFound), zap.Int("processed", report.Processed))
	}
	return report, nil
}

func (c *coordinator) expireOne(ctx context.Context, n *domain.Notification) SweepItem {
	item := SweepItem{BookingID: n.BookingID, NotificationID: n.ID}
	logger := c.logger.With(zap.String("booking_id", n.BookingID), zap.String("notification_id", n.ID))

	b, err := c.bookings.GetByID(ctx, c.db, n.BookingID)
	if err != nil {
		logger.Error("Failed to load booking for expiry", zap.Error(err))
		item.Status, item.Error = SweepResultError, err.Error()
		return item
	}
	if b.Status != domain.BookingStatusPending {
		item.Status = SweepResultSkipped
		return item
	}

	var expired bool
	err = c.tx.WithinTx(ctx, func(q domain.Querier) error {
		ok, err := c.compareAndSwapStatus(ctx, q, b, domain.BookingStatusExpired)
		if err != nil || !ok {
			return err
		}
		if _, err := c.notifications.CompareAndSwapStatus(ctx, q, n.ID, domain.NotificationStatusSent, domain.NotificationStatusExpired, c.now()); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		logger.Error("Failed to expire booking", zap.Error(err))
		item.Status, item.Error = SweepResultError, err.Error()
		return item
	}
	if !expired {
		// a fundi reply landed first
		item.Status = SweepResultSkipped
		return item
	}

	logger.Info("Booking expired without a fundi response")
	c.notify(ctx, b, domain.NotificationBookingExpired)
	item.Status = SweepResultExpired
	return item
}
