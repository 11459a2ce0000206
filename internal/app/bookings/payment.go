package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/domain/event"
	"fundiconnect/internal/payments"
	"fundiconnect/internal/repository/booking_repo"
)

const referencePrefix = "fundi_"

func (c *coordinator) InitiatePayment(ctx context.Context, caller domain.Caller, bookingID string, req *PaymentRequest) (resp *PaymentResponse, err error) {
	ctx, span := c.startSpan(ctx, "bookings.InitiatePayment", bookingID)
	defer func() { endSpan(span, err) }()

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	b, err := c.bookings.GetByID(ctx, c.db, bookingID)
	if err != nil {
		return nil, err
	}
	if caller.UserID != b.ClientID {
		return nil, domain.ErrForbidden
	}

	switch b.PaymentStatus {
	case domain.PaymentStatusPaid:
		return &PaymentResponse{
			BookingID:        b.ID,
			PaymentReference: b.PaymentReference,
			MaxAttempts:      c.maxAttempts,
			AlreadyPaid:      true,
			Message:          "Payment already completed",
		}, nil
	case domain.PaymentStatusRefunded:
		return nil, fmt.Errorf("%w: payment was refunded", domain.ErrIllegalTransition)
	}
	if !b.Status.IsPayable() {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrIllegalTransition, b.Status)
	}

	last, err := c.attempts.LatestAttemptNumber(ctx, c.db, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count payment attempts: %w", err)
	}
	if last >= c.maxAttempts {
		return nil, c.ceilingError(last)
	}

	logger := c.logger.With(zap.String("booking_id", b.ID), zap.String("method", string(method)))

	// The processing flag is the claim: only one initiation per booking at a time.
	prior := b.PaymentStatus
	ok, err := c.compareAndSwapPaymentStatus(ctx, c.db, b, paymentChange{
		expected: []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusFailed},
		next:     domain.PaymentStatusProcessing,
		fields:   booking_repo.PaymentFields{Method: &method},
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrPaymentInFlight
	}

	// From here the claim must be released even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	last, err = c.attempts.LatestAttemptNumber(ctx, c.db, b.ID)
	if err != nil {
		c.release(ctx, b, prior, logger)
		return nil, fmt.Errorf("failed to count payment attempts: %w", err)
	}
	attempt := last + 1
	if attempt > c.maxAttempts {
		c.release(ctx, b, prior, logger)
		return nil, c.ceilingError(last)
	}
	logger = logger.With(zap.Int("attempt_number", attempt))

	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}
	reference := referencePrefix + uuid.NewString()

	init, callErr := c.payments.Initiate(ctx, b, method, reference, callbackURL)
	if callErr != nil {
		c.metrics.PaymentAttempts.WithLabelValues(string(method), "failed").Inc()
		if err := c.recordFailedAttempt(ctx, b, method, attempt, callErr); err != nil {
			logger.Error("Failed to record failed payment attempt", zap.Error(err))
			c.release(ctx, b, domain.PaymentStatusPending, logger)
			return nil, err
		}
		perr := &domain.PaymentError{
			Err:           callErr,
			AttemptNumber: attempt,
			MaxAttempts:   c.maxAttempts,
			CanRetry:      attempt < c.maxAttempts && domain.IsRetryable(callErr),
		}
		logger.Warn("Payment initiation failed", zap.Bool("can_retry", perr.CanRetry), zap.Error(callErr))
		return nil, perr
	}

	c.metrics.PaymentAttempts.WithLabelValues(string(method), "success").Inc()
	// The attempt row is the only record of the provider reference, so it is
	// written on its own and survives a failed booking update.
	if err := c.attempts.Create(ctx, c.db, &domain.PaymentAttempt{
		ID:               uuid.NewString(),
		BookingID:        b.ID,
		Method:           method,
		AttemptNumber:    attempt,
		Status:           domain.AttemptStatusSuccess,
		PaymentReference: init.ProviderReference,
		CreatedAt:        c.now(),
	}); err != nil {
		logger.Error("Payment initiated but attempt not recorded", zap.String("reference", init.ProviderReference), zap.Error(err))
		c.release(ctx, b, domain.PaymentStatusPending, logger)
		return nil, err
	}

	var applied bool
	err = c.tx.WithinTx(ctx, func(q domain.Querier) error {
		ok, err := c.compareAndSwapPaymentStatus(ctx, q, b, paymentChange{
			expected:  []domain.PaymentStatus{domain.PaymentStatusProcessing},
			next:      domain.PaymentStatusPending,
			fields:    booking_repo.PaymentFields{Method: &method, Reference: &init.ProviderReference},
			eventType: event.TypePaymentInitiated,
			attempt:   attempt,
		})
		applied = ok
		return err
	})
	if err != nil {
		logger.Error("Payment initiated but booking not updated", zap.String("reference", init.ProviderReference), zap.Error(err))
		c.release(ctx, b, domain.PaymentStatusPending, logger)
		return nil, err
	}
	if !applied {
		// Only a paid webhook moves a booking out of processing.
		current, err := c.bookings.GetByID(ctx, c.db, b.ID)
		if err == nil && current.PaymentStatus == domain.PaymentStatusPaid {
			logger.Warn("Booking paid while a new attempt was in flight", zap.String("reference", init.ProviderReference),
				zap.String("paid_reference", current.PaymentReference))
			return &PaymentResponse{
				BookingID:        current.ID,
				PaymentReference: current.PaymentReference,
				AttemptNumber:    attempt,
				MaxAttempts:      c.maxAttempts,
				AlreadyPaid:      true,
				Message:          "Payment already completed",
			}, nil
		}
		return nil, fmt.Errorf("%w: payment status changed during initiation", domain.ErrConflict)
	}

	logger.Info("Payment initiated", zap.String("reference", init.ProviderReference))
	return &PaymentResponse{
		BookingID:        b.ID,
		PaymentURL:       init.PaymentURL,
		PaymentReference: init.ProviderReference,
		AttemptNumber:    attempt,
		MaxAttempts:      c.maxAttempts,
		Message:          "Payment initiated",
	}, nil
}

func (c *coordinator) ceilingError(attempts int) error {
	return &domain.PaymentError{
		Err:           fmt.Errorf("%w: try a different payment method or contact support", domain.ErrRetryCeiling),
		AttemptNumber: attempts,
		MaxAttempts:   c.maxAttempts,
		CanRetry:      false,
	}
}

// recordFailedAttempt writes the attempt row before handing the claim back,
// so the row stays even if the booking update fails.
func (c *coordinator) recordFailedAttempt(ctx context.Context, b *domain.Booking, method domain.PaymentMethod, attempt int, cause error) error {
	if err := c.attempts.Create(ctx, c.db, &domain.PaymentAttempt{
		ID:            uuid.NewString(),
		BookingID:     b.ID,
		Method:        method,
		AttemptNumber: attempt,
		Status:        domain.AttemptStatusFailed,
		ErrorMessage:  cause.Error(),
		CreatedAt:     c.now(),
	}); err != nil {
		return err
	}
	_, err := c.compareAndSwapPaymentStatus(ctx, c.db, b, paymentChange{
		expected: []domain.PaymentStatus{domain.PaymentStatusProcessing},
		next:     domain.PaymentStatusPending,
	})
	return err
}

// release hands a claimed booking back without recording an attempt.
func (c *coordinator) release(ctx context.Context, b *domain.Booking, to domain.PaymentStatus, logger *zap.Logger) {
	if _, err := c.compareAndSwapPaymentStatus(ctx, c.db, b, paymentChange{
		expected: []domain.PaymentStatus{domain.PaymentStatusProcessing},
		next:     to,
	}); err != nil {
		logger.Error("Failed to release payment claim", zap.Error(err))
	}
}

// HandlePaymentEvent applies a normalized provider webhook. Unknown
// references and stale outcomes are dropped, never guessed.
func (c *coordinator) HandlePaymentEvent(ctx context.Context, ev payments.WebhookEvent) (out *PaymentEventOutcome, err error) {
	ctx, span := c.startSpan(ctx, "bookings.HandlePaymentEvent", ev.BookingID)
	defer func() { endSpan(span, err) }()

	logger := c.logger.With(
		zap.String("provider", string(ev.Provider)),
		zap.String("reference", ev.ProviderReference),
		zap.String("outcome", string(ev.Outcome)),
	)

	b, err := c.bookings.FindByPaymentReference(ctx, c.db, ev.ProviderReference)
	if errors.Is(err, domain.ErrBookingNotFound) {
		logger.Warn("Payment webhook for unknown reference, dropping")
		return &PaymentEventOutcome{Reason: reasonUnknownRef}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment reference: %w", err)
	}
	logger = logger.With(zap.String("booking_id", b.ID))
	out = &PaymentEventOutcome{BookingID: b.ID, PaymentStatus: b.PaymentStatus}

	if ev.BookingID != "" && ev.BookingID != b.ID {
		logger.Warn("Webhook booking id disagrees with reference owner, dropping", zap.String("event_booking_id", ev.BookingID))
		out.Reason = reasonBookingMismatch
		return out, nil
	}
	issuer, err := c.issuingMethod(ctx, b, ev.ProviderReference)
	if err != nil {
		return nil, err
	}
	if issuer != "" && issuer != ev.Provider {
		logger.Warn("Webhook provider did not issue this reference, dropping", zap.String("issuer", string(issuer)))
		out.Reason = reasonProviderMismatch
		return out, nil
	}

	var ch paymentChange
	switch ev.Outcome {
	case payments.OutcomePaid:
		if b.PaymentStatus == domain.PaymentStatusPaid || b.PaymentStatus == domain.PaymentStatusRefunded {
			out.Reason = reasonAlreadySettled
			logger.Info("Payment already settled, ignoring webhook")
			return out, nil
		}
		completedAt := c.now()
		ch = paymentChange{
			expected:  []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusFailed},
			next:      domain.PaymentStatusPaid,
			fields:    booking_repo.PaymentFields{Reference: &ev.ProviderReference, CompletedAt: &completedAt},
			eventType: event.TypePaymentPaid,
		}
	case payments.OutcomeFailed:
		if ev.ProviderReference != b.PaymentReference {
			out.Reason = reasonSuperseded
			logger.Info("Failure for a superseded reference, ignoring", zap.String("current_reference", b.PaymentReference))
			return out, nil
		}
		// processing belongs to an initiation in flight; a failure never takes it over
		ch = paymentChange{
			expected:  []domain.PaymentStatus{domain.PaymentStatusPending},
			next:      domain.PaymentStatusFailed,
			eventType: event.TypePaymentFailed,
		}
	default:
		return nil, fmt.Errorf("%w: unknown payment outcome %q", domain.ErrValidation, ev.Outcome)
	}

	var applied bool
	err = c.tx.WithinTx(ctx, func(q domain.Querier) error {
		ok, err := c.compareAndSwapPaymentStatus(ctx, q, b, ch)
		applied = ok
		return err
	})
	if err != nil {
		logger.Error("Failed to apply payment webhook", zap.Error(err))
		return nil, err
	}
	if !applied {
		out.Reason = reasonNotApplicable
		logger.Info("Payment status moved on before webhook, ignoring")
		return out, nil
	}

	out.Applied = true
	out.PaymentStatus = ch.next
	logger.Info("Payment status updated from webhook", zap.String("receipt", ev.Receipt), zap.String("reason", ev.Reason))
	return out, nil
}

// issuingMethod names the provider that handed out reference, or "" when no
// record says.
func (c *coordinator) issuingMethod(ctx context.Context, b *domain.Booking, reference string) (domain.PaymentMethod, error) {
	a, err := c.attempts.FindByReference(ctx, c.db, reference)
	switch {
	case err == nil:
		return a.Method, nil
	case !errors.Is(err, domain.ErrAttemptNotFound):
		return "", fmt.Errorf("failed to look up payment attempt: %w", err)
	case b.PaymentReference == reference:
		return b.PaymentMethod, nil
	default:
		return "", nil
	}
}
