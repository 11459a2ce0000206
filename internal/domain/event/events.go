package event

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeBookingAccepted  = "booking.accepted"
	TypeBookingRejected  = "booking.rejected"
	TypeBookingExpired   = "booking.expired"
	TypeBookingCancelled = "booking.cancelled"
	TypeBookingCompleted = "booking.completed"

	TypePaymentInitiated = "payment.initiated"
	TypePaymentPaid      = "payment.paid"
	TypePaymentFailed    = "payment.failed"
	TypePaymentRefunded  = "payment.refunded"
)

// BookingStatusChangedEvent is published for every lifecycle transition.
type BookingStatusChangedEvent struct {
	EventType  string          `json:"event_type"`
	BookingID  string          `json:"booking_id"`
	ClientID   string          `json:"client_id"`
	FundiID    string          `json:"fundi_id"`
	FromStatus string          `json:"from_status"`
	ToStatus   string          `json:"to_status"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PaymentStatusChangedEvent is published for every payment sub-state change
// that matters downstream.
type PaymentStatusChangedEvent struct {
	EventType     string          `json:"event_type"`
	BookingID     string          `json:"booking_id"`
	ClientID      string          `json:"client_id"`
	Method        string          `json:"payment_method,omitempty"`
	Reference     string          `json:"payment_reference,omitempty"`
	Status        string          `json:"status"`
	AttemptNumber int             `json:"attempt_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
}

// DisputeResolvedEvent is consumed from the dispute service.
type DisputeResolvedEvent struct {
	DisputeID  string    `json:"dispute_id"`
	BookingID  string    `json:"booking_id"`
	Action     string    `json:"action"`
	ResolvedBy string    `json:"resolved_by"`
	Timestamp  time.Time `json:"timestamp"`
}

const DisputeActionRefund = "refund"
