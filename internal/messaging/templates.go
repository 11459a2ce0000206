package messaging

import (
	"fmt"
	"strings"

	"fundiconnect/internal/domain"
)

const dateLayout = "Mon, 02 Jan 2006"

// Render produces the message body for a notification type.
func Render(b *domain.Booking, t domain.NotificationType) (string, error) {
	date := b.ScheduledDate.Format(dateLayout)
	amount := "KSH " + b.TotalAmount.StringFixed(0)

	switch t {
	case domain.NotificationBookingCreated:
		var sb strings.Builder
		fmt.Fprintf(&sb, "New Booking Request\n\nClient: %s\nService: %s\nLocation: %s\nDate: %s\nTime: %s\nAmount: %s\n",
			b.Client.FullName, b.Service, b.Location, date, b.ScheduledTime, amount)
		if b.Description != "" {
			fmt.Fprintf(&sb, "Details: %s\n", b.Description)
		}
		sb.WriteString("\nPlease respond to accept or reject this booking.")
		return sb.String(), nil
	case domain.NotificationBookingAccepted:
		return fmt.Sprintf("Booking Confirmed\n\n%s has accepted your %s booking on %s at %s.\nLocation: %s\nAmount: %s",
			b.Fundi.FullName, b.Service, date, b.ScheduledTime, b.Location, amount), nil
	case domain.NotificationBookingRejected:
		return fmt.Sprintf("Booking Declined\n\n%s is unable to take your %s booking on %s at %s. Please choose another fundi.",
			b.Fundi.FullName, b.Service, date, b.ScheduledTime), nil
	case domain.NotificationBookingExpired:
		return fmt.Sprintf("Booking Expired\n\n%s did not respond within 1 hour to your %s booking request for %s. Please book another fundi.",
			b.Fundi.FullName, b.Service, date), nil
	case domain.NotificationPaymentReminder:
		return fmt.Sprintf("Payment Reminder\n\nYour %s booking with %s is complete. Please pay %s to finish the transaction.",
			b.Service, b.Fundi.FullName, amount), nil
	default:
		return "", fmt.Errorf("%w: unknown notification type %q", domain.ErrValidation, t)
	}
}
