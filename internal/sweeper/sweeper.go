package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
)

type SweepRunner interface {
	SweepExpired(ctx context.Context) (*bookings.SweepReport, error)
}

// Sweeper runs the expiration sweep on a fixed interval inside serve. The
// sweep command runs a single pass for external schedulers.
type Sweeper struct {
	runner   SweepRunner
	interval time.Duration
	logger   *zap.Logger
}

func New(runner SweepRunner, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{runner: runner, interval: interval, logger: logger.With(zap.String("component", "sweeper"))}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Starting expiration sweeper", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Expiration sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	report, err := s.runner.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Expiration sweep failed", zap.Error(err))
		return
	}
	for _, r := range report.Results {
		if r.Status == bookings.SweepResultError {
			s.logger.Warn("Sweep item failed",
				zap.String("booking_id", r.BookingID),
				zap.String("notification_id", r.NotificationID),
				zap.String("error", r.Error))
		}
	}
}
