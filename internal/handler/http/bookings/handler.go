package bookings_http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/auth"
	"fundiconnect/internal/domain"
)

type BookingHandler struct {
	coordinator bookings.BookingCoordinator
	logger      *zap.Logger
}

func NewBookingHandler(c bookings.BookingCoordinator, l *zap.Logger) *BookingHandler {
	return &BookingHandler{coordinator: c, logger: l}
}

type errorResponse struct {
	Error         string `json:"error"`
	AttemptNumber int    `json:"attempt_number,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	CanRetry      *bool  `json:"can_retry,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRetryCeiling):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// providerFailure reports errors whose message tells the caller what to do
// next, such as trying another payment method.
func providerFailure(err error) bool {
	return errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, domain.ErrProviderError) ||
		errors.Is(err, domain.ErrProviderRejected) ||
		errors.Is(err, domain.ErrRecipientUnreachable) ||
		errors.Is(err, domain.ErrConfigurationMissing)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	switch {
	case status == http.StatusInternalServerError && providerFailure(err):
		h.logger.Warn("Provider call failed", zap.String("path", r.URL.Path), zap.Error(err))
	case status == http.StatusInternalServerError:
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Error = "Internal server error"
	default:
		h.logger.Debug("Request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}

	var perr *domain.PaymentError
	if errors.As(err, &perr) {
		resp.AttemptNumber = perr.AttemptNumber
		resp.MaxAttempts = perr.MaxAttempts
		resp.CanRetry = &perr.CanRetry
	}
	writeJSON(w, status, resp)
}

func caller(r *http.Request) domain.Caller {
	c, _ := auth.CallerFromContext(r.Context())
	return c
}

func (h *BookingHandler) NotifyBookingCreated(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coordinator.NotifyBookingCreated(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req bookings.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("Invalid request body for InitiatePayment", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.coordinator.InitiatePayment(r.Context(), caller(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.AlreadyPaid {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *BookingHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coordinator.CompleteBooking(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coordinator.CancelBooking(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.coordinator.RefundPayment(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.coordinator.SweepExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
