package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodPaystack PaymentMethod = "paystack"
	PaymentMethodMpesa    PaymentMethod = "mpesa"
	PaymentMethodCash     PaymentMethod = "cash"
)

// ReferenceSuffixLength is the number of trailing booking id characters
// used in free-text reply commands.
const ReferenceSuffixLength = 8

// Profile is the contact identity of a client or fundi.
type Profile struct {
	ID       string
	FullName string
	Phone    string
	Email    string
}

type Booking struct {
	ID                 string
	ClientID           string
	FundiID            string
	Service            string
	Description        string
	ScheduledDate      time.Time
	ScheduledTime      string
	Location           string
	TotalAmount        decimal.Decimal
	Status             BookingStatus
	PaymentStatus      PaymentStatus
	PaymentMethod      PaymentMethod
	PaymentReference   string
	PaymentCompletedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Client Profile
	Fundi  Profile
}

// ReferenceSuffix returns the upper-cased short reference fundis type in
// free-text replies.
func (b *Booking) ReferenceSuffix() string {
	id := b.ID
	if len(id) > ReferenceSuffixLength {
		id = id[len(id)-ReferenceSuffixLength:]
	}
	return strings.ToUpper(id)
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:  {BookingStatusAccepted, BookingStatusRejected, BookingStatusExpired, BookingStatusCancelled},
	BookingStatusAccepted: {BookingStatusCompleted, BookingStatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the booking lifecycle.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// IsPayable reports whether a payment may be initiated for a booking in this status.
func (s BookingStatus) IsPayable() bool {
	return s == BookingStatusAccepted || s == BookingStatusCompleted
}

// processing -> pending is the hand-back after an initiation call returns;
// the booking then waits for the provider webhook.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing, PaymentStatusPending, PaymentStatusPaid},
	PaymentStatusPaid:       {PaymentStatusRefunded},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParsePaymentMethod accepts only the methods that go through an online provider.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodPaystack, PaymentMethodMpesa:
		return m, nil
	case PaymentMethodCash:
		return "", fmt.Errorf("%w: cash payments are settled offline", ErrValidation)
	case "":
		return "", fmt.Errorf("%w: payment_method is required", ErrValidation)
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrValidation, s)
	}
}
