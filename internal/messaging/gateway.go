package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/repository/notification_repo"
)

type SendResult struct {
	NotificationID    string
	ProviderMessageID string
	RenderedBody      string
	ExpiresAt         *time.Time
}

// Gateway sends booking notifications through the configured backend and
// owns the notification ledger rows.
type Gateway struct {
	backend       Backend
	notifications notification_repo.NotificationRepository
	db            domain.Querier
	timeout       time.Duration
	expiry        time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

type GatewayConfig struct {
	// Timeout bounds each provider call.
	Timeout time.Duration
	// Expiry is the response window stamped on booking requests.
	Expiry time.Duration
}

func NewGateway(
	backend Backend,
	notifications notification_repo.NotificationRepository,
	db domain.Querier,
	cfg GatewayConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		backend:       backend,
		notifications: notifications,
		db:            db,
		timeout:       cfg.Timeout,
		expiry:        cfg.Expiry,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// Provider names the selected backend, or "" when none is configured.
func (g *Gateway) Provider() string {
	if g.backend == nil {
		return ""
	}
	return g.backend.Name()
}

// Send writes one notification row and moves it to sent or failed.
func (g *Gateway) Send(ctx context.Context, b *domain.Booking, t domain.NotificationType) (*SendResult, error) {
	// Ledger writes must land even if the caller goes away mid-send.
	ctx = context.WithoutCancel(ctx)
	recipient := t.Recipient(b)
	now := g.now()

	n := &domain.Notification{
		ID:          uuid.NewString(),
		BookingID:   b.ID,
		RecipientID: recipient.ID,
		Type:        t,
		Status:      domain.NotificationStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.notifications.Create(ctx, g.db, n); err != nil {
		return nil, err
	}

	logger := g.logger.With(
		zap.String("booking_id", b.ID),
		zap.String("notification_id", n.ID),
		zap.String("type", string(t)),
		zap.String("provider", g.Provider()),
	)

	body, err := Render(b, t)
	if err != nil {
		return nil, g.fail(ctx, logger, n, "", err)
	}
	if g.backend == nil {
		return nil, g.fail(ctx, logger, n, body, fmt.Errorf("%w: no messaging backend configured", domain.ErrProviderUnavailable))
	}
	to := domain.NormalizePhone(recipient.Phone)
	if to == "" {
		return nil, g.fail(ctx, logger, n, body, fmt.Errorf("%w: profile %s", domain.ErrRecipientUnreachable, recipient.ID))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	delivery, err := g.backend.Send(callCtx, Message{
		To:        to,
		Type:      t,
		BookingID: b.ID,
		Suffix:    b.ReferenceSuffix(),
		Body:      body,
	})
	g.metrics.ProviderCallLatency.WithLabelValues(g.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, g.fail(ctx, logger, n, body, err)
	}

	sentAt := g.now()
	upd := notification_repo.SentUpdate{
		Provider:          g.backend.Name(),
		ProviderMessageID: delivery.MessageID,
		MessageContent:    delivery.Body,
	}
	if t.Expires() {
		expiresAt := sentAt.Add(g.expiry)
		upd.ExpiresAt = &expiresAt
	}
	if err := g.notifications.MarkSent(ctx, g.db, n.ID, upd, sentAt); err != nil {
		logger.Error("Message sent but notification row not updated", zap.String("provider_message_id", delivery.MessageID), zap.Error(err))
		return nil, err
	}

	g.metrics.NotificationsSent.WithLabelValues(string(t), "sent").Inc()
	logger.Info("Notification sent", zap.String("provider_message_id", delivery.MessageID))
	return &SendResult{
		NotificationID:    n.ID,
		ProviderMessageID: delivery.MessageID,
		RenderedBody:      delivery.Body,
		ExpiresAt:         upd.ExpiresAt,
	}, nil
}

func (g *Gateway) fail(ctx context.Context, logger *zap.Logger, n *domain.Notification, body string, cause error) error {
	g.metrics.NotificationsSent.WithLabelValues(string(n.Type), "failed").Inc()
	logger.Warn("Notification failed", zap.Error(cause))
	if err := g.notifications.MarkFailed(ctx, g.db, n.ID, g.Provider(), body, g.now()); err != nil {
		logger.Error("Failed to mark notification failed", zap.Error(err))
	}
	return cause
}

// MarkDelivered flags the booking request as answered.
func (g *Gateway) MarkDelivered(ctx context.Context, bookingID string) error {
	n, err := g.notifications.MarkDelivered(ctx, g.db, bookingID, domain.NotificationBookingCreated, g.now())
	if err != nil {
		return err
	}
	g.logger.Debug("Booking request marked delivered", zap.String("booking_id", bookingID), zap.Int64("rows", n))
	return nil
}
