package bookings_http

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/auth"
	"fundiconnect/internal/domain"
	"fundiconnect/internal/metrics"
)

type Options struct {
	Coordinator bookings.BookingCoordinator
	Verifier    *auth.Verifier
	Webhooks    WebhookConfig
	CORSOrigins []string
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Background tracks webhook processing that outlives the request.
	Background *sync.WaitGroup
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("FundiConnect is healthy!"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	webhooks := NewWebhookHandler(opts.Coordinator, opts.Webhooks, opts.Metrics, opts.Logger.With(zap.String("component", "WebhookHandler")), opts.Background)
	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/whatsapp", webhooks.VerifyWhatsApp)
		r.Post("/whatsapp", webhooks.WhatsApp)
		r.Post("/twilio", webhooks.Twilio)
		r.Post("/paystack", webhooks.Paystack)
		r.Post("/mpesa", webhooks.Mpesa)
	})

	handler := NewBookingHandler(opts.Coordinator, opts.Logger.With(zap.String("component", "BookingHTTPHandler")))
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-Info", "Apikey"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(opts.Verifier.Middleware)

		r.Route("/bookings/{id}", func(r chi.Router) {
			r.With(auth.RequireRole(domain.RoleService, domain.RoleAdmin)).Post("/notify", handler.NotifyBookingCreated)
			r.With(auth.RequireRole(domain.RoleClient)).Post("/payments", handler.InitiatePayment)
			r.With(auth.RequireRole(domain.RoleFundi, domain.RoleAdmin)).Post("/complete", handler.CompleteBooking)
			r.With(auth.RequireRole(domain.RoleClient, domain.RoleFundi, domain.RoleAdmin)).Post("/cancel", handler.CancelBooking)
		})
		r.With(auth.RequireRole(domain.RoleAdmin)).Post("/admin/bookings/{id}/refund", handler.RefundPayment)
		r.With(auth.RequireRole(domain.RoleService)).Post("/internal/sweep", handler.Sweep)
	})

	return r
}
