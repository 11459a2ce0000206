package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/metrics"
)

// ChargeRequest is one initiation attempt. Reference is unique per attempt.
type ChargeRequest struct {
	Booking     *domain.Booking
	Reference   string
	CallbackURL string
}

type Initiation struct {
	PaymentURL string
	// ProviderReference is the key later webhooks will present.
	ProviderReference string
}

// Provider is one payment rail.
type Provider interface {
	Method() domain.PaymentMethod
	Initiate(ctx context.Context, req ChargeRequest) (*Initiation, error)
}

// Gateway dispatches initiations to the configured provider for a method.
type Gateway struct {
	providers map[domain.PaymentMethod]Provider
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewGateway(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger, providers ...Provider) *Gateway {
	g := &Gateway{
		providers: make(map[domain.PaymentMethod]Provider, len(providers)),
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
	for _, p := range providers {
		g.providers[p.Method()] = p
	}
	return g
}

// Initiate calls the provider under the gateway timeout. The call is detached
// from caller cancellation so it ends only by completing or timing out.
func (g *Gateway) Initiate(ctx context.Context, b *domain.Booking, method domain.PaymentMethod, reference, callbackURL string) (*Initiation, error) {
	p, ok := g.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, method)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	init, err := p.Initiate(callCtx, ChargeRequest{Booking: b, Reference: reference, CallbackURL: callbackURL})
	g.metrics.ProviderCallLatency.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		g.logger.Warn("Payment initiation failed",
			zap.String("booking_id", b.ID),
			zap.String("method", string(method)),
			zap.String("reference", reference),
			zap.Error(err))
		return nil, err
	}
	return init, nil
}

// statusError classifies a non-2xx provider response.
func statusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: status %d: %s", provider, domain.ErrProviderUnavailable, resp.StatusCode, snippet)
	}
	return fmt.Errorf("%s: %w: status %d: %s", provider, domain.ErrProviderRejected, resp.StatusCode, snippet)
}

func transportError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, domain.ErrProviderUnavailable, err)
}
