package bookings_http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/messaging"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/payments"
)

const (
	maxWebhookBody = 1 << 20
	// bounds background processing after the provider has its answer
	webhookProcessTimeout = 30 * time.Second
)

type WebhookConfig struct {
	WhatsAppVerifyToken string
	WhatsAppAppSecret   string
	PaystackSecretKey   string
}

// WebhookHandler answers providers with the acknowledgement they expect as
// soon as the payload is parsed. Processing runs afterwards on a detached
// context; failures are logged, never returned.
type WebhookHandler struct {
	coordinator bookings.BookingCoordinator
	cfg         WebhookConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
	tasks       *sync.WaitGroup
}

// NewWebhookHandler tracks background processing on tasks so shutdown can
// wait for it.
func NewWebhookHandler(c bookings.BookingCoordinator, cfg WebhookConfig, m *metrics.Metrics, l *zap.Logger, tasks *sync.WaitGroup) *WebhookHandler {
	if tasks == nil {
		tasks = &sync.WaitGroup{}
	}
	return &WebhookHandler{coordinator: c, cfg: cfg, metrics: m, logger: l, tasks: tasks}
}

func (h *WebhookHandler) readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
}

// dispatch runs fn in the background so the acknowledgement is not held up
// by store writes or outbound notifications.
func (h *WebhookHandler) dispatch(r *http.Request, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookProcessTimeout)
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				h.logger.Error("Recovered panic in webhook processing", zap.Any("panic", p))
			}
		}()
		fn(ctx)
	}()
}

func (h *WebhookHandler) observe(provider, outcome string) {
	h.metrics.WebhooksReceived.WithLabelValues(provider, outcome).Inc()
}

// VerifyWhatsApp completes the Meta subscription handshake.
func (h *WebhookHandler) VerifyWhatsApp(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.cfg.WhatsAppVerifyToken != "" && q.Get("hub.verify_token") == h.cfg.WhatsAppVerifyToken {
		h.logger.Info("WhatsApp webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.logger.Warn("WhatsApp webhook verification failed", zap.String("mode", q.Get("hub.mode")))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("EVENT_RECEIVED"))
	}()

	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warn("Failed to read WhatsApp webhook body", zap.Error(err))
		h.observe(messaging.ProviderMeta, "unreadable")
		return
	}
	if h.cfg.WhatsAppAppSecret != "" && !messaging.VerifyMetaSignature(body, r.Header.Get("X-Hub-Signature-256"), h.cfg.WhatsAppAppSecret) {
		h.logger.Warn("WhatsApp webhook signature mismatch, dropping")
		h.observe(messaging.ProviderMeta, "bad_signature")
		return
	}
	msgs, err := messaging.ParseMetaWebhook(body)
	if err != nil {
		h.logger.Warn("Malformed WhatsApp webhook, dropping", zap.Error(err))
		h.observe(messaging.ProviderMeta, "malformed")
		return
	}

	h.dispatch(r, func(ctx context.Context) {
		for _, msg := range msgs {
			h.applyInbound(ctx, msg)
		}
	})
}

func (h *WebhookHandler) Twilio(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<Response></Response>"))
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Malformed Twilio webhook, dropping", zap.Error(err))
		h.observe(messaging.ProviderTwilio, "malformed")
		return
	}
	msg := messaging.ParseTwilioForm(r.PostForm)
	h.dispatch(r, func(ctx context.Context) {
		h.applyInbound(ctx, msg)
	})
}

func (h *WebhookHandler) applyInbound(ctx context.Context, msg messaging.InboundMessage) {
	out, err := h.coordinator.HandleInbound(ctx, msg)
	if err != nil {
		h.observe(msg.Provider, "error")
		h.logger.Error("Failed to process inbound reply",
			zap.String("provider", msg.Provider),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return
	}
	if out.Applied {
		h.observe(msg.Provider, "applied")
	} else {
		h.observe(msg.Provider, "dropped")
	}
}

func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]string{"status": "success"})

	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warn("Failed to read Paystack webhook body", zap.Error(err))
		h.observe("paystack", "unreadable")
		return
	}
	ev, err := payments.ParsePaystackWebhook(body, r.Header.Get("x-paystack-signature"), h.cfg.PaystackSecretKey)
	h.applyPayment(r, "paystack", ev, err)
}

func (h *WebhookHandler) Mpesa(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})

	body, err := h.readBody(r)
	if err != nil {
		h.logger.Warn("Failed to read M-Pesa callback body", zap.Error(err))
		h.observe("mpesa", "unreadable")
		return
	}
	ev, err := payments.ParseMpesaCallback(body)
	h.applyPayment(r, "mpesa", ev, err)
}

func (h *WebhookHandler) applyPayment(r *http.Request, provider string, ev *payments.WebhookEvent, parseErr error) {
	logger := h.logger.With(zap.String("provider", provider))
	switch {
	case errors.Is(parseErr, payments.ErrIgnoredEvent):
		logger.Debug("Ignoring non-payment webhook event", zap.Error(parseErr))
		h.observe(provider, "ignored")
		return
	case errors.Is(parseErr, payments.ErrInvalidSignature):
		logger.Warn("Payment webhook signature mismatch, dropping")
		h.observe(provider, "bad_signature")
		return
	case errors.Is(parseErr, payments.ErrUnverifiable):
		logger.Error("Payment webhook received but no signing secret is configured, dropping")
		h.observe(provider, "unverified")
		return
	case parseErr != nil:
		logger.Warn("Payment webhook cannot be correlated, dropping", zap.Error(parseErr))
		h.observe(provider, "malformed")
		return
	}

	event := *ev
	h.dispatch(r, func(ctx context.Context) {
		out, err := h.coordinator.HandlePaymentEvent(ctx, event)
		if err != nil {
			logger.Error("Failed to process payment webhook", zap.String("reference", event.ProviderReference), zap.Error(err))
			h.observe(provider, "error")
			return
		}
		if out.Applied {
			h.observe(provider, "applied")
		} else {
			h.observe(provider, "dropped")
		}
	})
}
