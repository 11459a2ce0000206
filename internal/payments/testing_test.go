package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"fundiconnect/internal/domain"
)

func testBooking() *domain.Booking {
	return &domain.Booking{
		ID:            "0b6f2c1e-8a7d-4f3b-9c2e-1a2b3c4d5e6f",
		ClientID:      "client-1",
		FundiID:       "fundi-1",
		Service:       "Plumbing",
		ScheduledDate: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.RequireFromString("1000.50"),
		Status:        domain.BookingStatusAccepted,
		PaymentStatus: domain.PaymentStatusProcessing,
		Client:        domain.Profile{ID: "client-1", FullName: "Amina", Phone: "0712345678"},
		Fundi:         domain.Profile{ID: "fundi-1", FullName: "Juma", Phone: "0722000111"},
	}
}
