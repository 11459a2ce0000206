package bookings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/messaging"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/payments"
	"fundiconnect/internal/repository/attempt_repo"
	"fundiconnect/internal/repository/booking_repo"
	"fundiconnect/internal/repository/inbox_repo"
	"fundiconnect/internal/repository/notification_repo"
	"fundiconnect/internal/repository/outbox_repo"
)

// BookingCoordinator is the only writer of booking and payment status.
type BookingCoordinator interface {
	NotifyBookingCreated(ctx context.Context, caller domain.Caller, bookingID string) (*NotifyResponse, error)
	HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*InboundOutcome, error)
	InitiatePayment(ctx context.Context, caller domain.Caller, bookingID string, req *PaymentRequest) (*PaymentResponse, error)
	HandlePaymentEvent(ctx context.Context, ev payments.WebhookEvent) (*PaymentEventOutcome, error)
	CompleteBooking(ctx context.Context, caller domain.Caller, bookingID string) (*BookingResponse, error)
	CancelBooking(ctx context.Context, caller domain.Caller, bookingID string) (*BookingResponse, error)
	RefundPayment(ctx context.Context, caller domain.Caller, bookingID string) (*BookingResponse, error)
	SweepExpired(ctx context.Context) (*SweepReport, error)
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(q domain.Querier) error) error
}

// Notifier is satisfied by *messaging.Gateway.
type Notifier interface {
	Send(ctx context.Context, b *domain.Booking, t domain.NotificationType) (*messaging.SendResult, error)
	MarkDelivered(ctx context.Context, bookingID string) error
}

// PaymentInitiator is satisfied by *payments.Gateway.
type PaymentInitiator interface {
	Initiate(ctx context.Context, b *domain.Booking, method domain.PaymentMethod, reference, callbackURL string) (*payments.Initiation, error)
}

type Dependencies struct {
	DB            domain.Querier
	Tx            Transactor
	Bookings      booking_repo.BookingRepository
	Notifications notification_repo.NotificationRepository
	Attempts      attempt_repo.AttemptRepository
	Inbox         inbox_repo.InboxRepository
	Outbox        outbox_repo.OutboxRepository
	Notifier      Notifier
	Payments      PaymentInitiator
	Metrics       *metrics.Metrics
	Logger        *zap.Logger

	MaxPaymentAttempts int
	SweepBatchSize     int
	PaymentCallbackURL string

	// Now defaults to time.Now.
	Now func() time.Time
}

type coordinator struct {
	db            domain.Querier
	tx            Transactor
	bookings      booking_repo.BookingRepository
	notifications notification_repo.NotificationRepository
	attempts      attempt_repo.AttemptRepository
	inbox         inbox_repo.InboxRepository
	outbox        outbox_repo.OutboxRepository
	notifier      Notifier
	payments      PaymentInitiator
	metrics       *metrics.Metrics
	logger        *zap.Logger
	tracer        trace.Tracer

	maxAttempts int
	sweepBatch  int
	callbackURL string
	now         func() time.Time
}

func NewCoordinator(deps Dependencies) BookingCoordinator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	maxAttempts := deps.MaxPaymentAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	sweepBatch := deps.SweepBatchSize
	if sweepBatch <= 0 {
		sweepBatch = 100
	}
	return &coordinator{
		db:            deps.DB,
		tx:            deps.Tx,
		bookings:      deps.Bookings,
		notifications: deps.Notifications,
		attempts:      deps.Attempts,
		inbox:         deps.Inbox,
		outbox:        deps.Outbox,
		notifier:      deps.Notifier,
		payments:      deps.Payments,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With(zap.String("component", "coordinator")),
		tracer:        otel.Tracer("fundiconnect/bookings"),
		maxAttempts:   maxAttempts,
		sweepBatch:    sweepBatch,
		callbackURL:   deps.PaymentCallbackURL,
		now:           now,
	}
}

func (c *coordinator) startSpan(ctx context.Context, name string, bookingID string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, name)
	if bookingID != "" {
		span.SetAttributes(attribute.String("booking.id", bookingID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// notify sends a client or fundi message after a committed transition.
// Failures are already recorded on the notification row.
func (c *coordinator) notify(ctx context.Context, b *domain.Booking, t domain.NotificationType) {
	if _, err := c.notifier.Send(ctx, b, t); err != nil {
		c.logger.Warn("Notification not delivered to provider",
			zap.String("booking_id", b.ID),
			zap.String("type", string(t)),
			zap.Error(err))
	}
}
