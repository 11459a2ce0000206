package bookings

import "fundiconnect/internal/domain"

type PaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
	CallbackURL   string `json:"callback_url,omitempty"`
}

type PaymentResponse struct {
	BookingID        string `json:"booking_id"`
	PaymentURL       string `json:"payment_url,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	AttemptNumber    int    `json:"attempt_number,omitempty"`
	MaxAttempts      int    `json:"max_attempts"`
	AlreadyPaid      bool   `json:"already_paid,omitempty"`
	Message          string `json:"message"`
}

type NotifyResponse struct {
	BookingID         string `json:"booking_id"`
	NotificationID    string `json:"notification_id"`
	ProviderMessageID string `json:"provider_message_id"`
	ExpiresAt         string `json:"expires_at,omitempty"`
}

type BookingResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// InboundOutcome describes what a fundi reply did. Reason is set when the
// reply was dropped.
type InboundOutcome struct {
	BookingID string               `json:"booking_id,omitempty"`
	Applied   bool                 `json:"applied"`
	Status    domain.BookingStatus `json:"status,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

type PaymentEventOutcome struct {
	BookingID     string               `json:"booking_id,omitempty"`
	Applied       bool                 `json:"applied"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

type SweepResult string

const (
	SweepResultExpired SweepResult = "expired"
	SweepResultSkipped SweepResult = "skipped"
	SweepResultError   SweepResult = "error"
)

type SweepItem struct {
	BookingID      string      `json:"booking_id"`
	NotificationID string      `json:"notification_id"`
	Status         SweepResult `json:"status"`
	Error          string      `json:"error,omitempty"`
}

type SweepReport struct {
	Processed  int         `json:"processed"`
	TotalFound int         `json:"total_found"`
	Results    []SweepItem `json:"results"`
}

// drop reasons
const (
	reasonNoIntent         = "no_intent"
	reasonDuplicate        = "duplicate_message"
	reasonUnknownBooking   = "unknown_booking"
	reasonSenderMismatch   = "sender_mismatch"
	reasonAlreadyResolved  = "already_resolved"
	reasonUnknownRef       = "unknown_reference"
	reasonBookingMismatch  = "booking_mismatch"
	reasonProviderMismatch = "provider_mismatch"
	reasonAlreadySettled   = "already_settled"
	reasonSuperseded       = "superseded_reference"
	reasonNotApplicable    = "status_not_applicable"
)

func mapBookingToResponse(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		ID:            b.ID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
	}
}
