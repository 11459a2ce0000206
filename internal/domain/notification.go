package domain

import "time"

type NotificationType string

const (
	NotificationBookingCreated  NotificationType = "booking_created"
	NotificationBookingAccepted NotificationType = "booking_accepted"
	NotificationBookingRejected NotificationType = "booking_rejected"
	NotificationBookingExpired  NotificationType = "booking_expired"
	NotificationPaymentReminder NotificationType = "payment_reminder"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusExpired   NotificationStatus = "expired"
)

type Notification struct {
	ID                string
	BookingID         string
	RecipientID       string
	Type              NotificationType
	Status            NotificationStatus
	Provider          string
	ProviderMessageID string
	MessageContent    string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Recipient returns the profile a notification of type t is addressed to.
// Only the booking request goes to the fundi.
func (t NotificationType) Recipient(b *Booking) Profile {
	if t == NotificationBookingCreated {
		return b.Fundi
	}
	return b.Client
}

// Expires reports whether notifications of this type carry a response deadline.
func (t NotificationType) Expires() bool {
	return t == NotificationBookingCreated
}
