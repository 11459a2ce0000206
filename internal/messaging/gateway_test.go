package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/repository/notification_repo"
)

type fakeNotificationRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{rows: map[string]*domain.Notification{}}
}

func (f *fakeNotificationRepo) Create(_ context.Context, _ domain.Querier, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.rows[n.ID] = &cp
	return nil
}

func (f *fakeNotificationRepo) MarkSent(_ context.Context, _ domain.Querier, id string, upd notification_repo.SentUpdate, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.rows[id]
	n.Status = domain.NotificationStatusSent
	n.Provider = upd.Provider
	n.ProviderMessageID = upd.ProviderMessageID
	n.MessageContent = upd.MessageContent
	n.ExpiresAt = upd.ExpiresAt
	n.UpdatedAt = at
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(_ context.Context, _ domain.Querier, id, provider, content string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.rows[id]
	n.Status = domain.NotificationStatusFailed
	n.Provider = provider
	n.MessageContent = content
	return nil
}

func (f *fakeNotificationRepo) MarkDelivered(_ context.Context, _ domain.Querier, bookingID string, typ domain.NotificationType, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.rows {
		if row.BookingID == bookingID && row.Type == typ && row.Status == domain.NotificationStatusSent {
			row.Status = domain.NotificationStatusDelivered
			n++
		}
	}
	return n, nil
}

func (f *fakeNotificationRepo) CompareAndSwapStatus(context.Context, domain.Querier, string, domain.NotificationStatus, domain.NotificationStatus, time.Time) (bool, error) {
	return false, errors.New("not used")
}

func (f *fakeNotificationRepo) HasActive(context.Context, domain.Querier, string, domain.NotificationType) (bool, error) {
	return false, errors.New("not used")
}

func (f *fakeNotificationRepo) FindExpired(context.Context, domain.Querier, time.Time, int) ([]*domain.Notification, error) {
	return nil, errors.New("not used")
}

func (f *fakeNotificationRepo) only(t *testing.T) *domain.Notification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) != 1 {
		t.Fatalf("expected exactly one notification row, got %d", len(f.rows))
	}
	for _, n := range f.rows {
		return n
	}
	return nil
}

type fakeBackend struct {
	SendFunc func(ctx context.Context, msg Message) (*Delivery, error)
	sent     []Message
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Send(ctx context.Context, msg Message) (*Delivery, error) {
	f.sent = append(f.sent, msg)
	if f.SendFunc != nil {
		return f.SendFunc(ctx, msg)
	}
	return &Delivery{MessageID: "msg-1", Body: msg.Body}, nil
}

func testBooking() *domain.Booking {
	return &domain.Booking{
		ID:            "0b6f2c1e-8a7d-4f3b-9c2e-1a2b3c4d5e6f",
		ClientID:      "client-1",
		FundiID:       "fundi-1",
		Service:       "Plumbing",
		Description:   "Leaking sink",
		ScheduledDate: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		ScheduledTime: "10:00",
		Location:      "Westlands",
		TotalAmount:   decimal.NewFromInt(1000),
		Status:        domain.BookingStatusPending,
		Client:        domain.Profile{ID: "client-1", FullName: "Amina", Phone: "0712345678"},
		Fundi:         domain.Profile{ID: "fundi-1", FullName: "Juma", Phone: "+254 722 000 111"},
	}
}

func newTestGateway(backend Backend, repo *fakeNotificationRepo) *Gateway {
	g := NewGateway(backend, repo, nil, GatewayConfig{Timeout: time.Second, Expiry: time.Hour},
		metrics.New(prometheus.NewRegistry()), zap.NewNop())
	g.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return g
}

func TestGatewaySendBookingCreated(t *testing.T) {
	repo := newFakeNotificationRepo()
	backend := &fakeBackend{}
	g := newTestGateway(backend, repo)

	res, err := g.Send(context.Background(), testBooking(), domain.NotificationBookingCreated)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(backend.sent) != 1 || backend.sent[0].To != "254722000111" {
		t.Fatalf("booking request should go to the fundi, sent = %+v", backend.sent)
	}
	if backend.sent[0].Suffix != "3C4D5E6F" {
		t.Errorf("suffix = %q", backend.sent[0].Suffix)
	}

	n := repo.only(t)
	if n.Status != domain.NotificationStatusSent || n.ProviderMessageID != "msg-1" || n.RecipientID != "fundi-1" {
		t.Fatalf("notification row = %+v", n)
	}
	wantExpiry := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if n.ExpiresAt == nil || !n.ExpiresAt.Equal(wantExpiry) || res.ExpiresAt == nil {
		t.Fatalf("expires_at = %v, want %v", n.ExpiresAt, wantExpiry)
	}
	if !strings.Contains(res.RenderedBody, "Amount: KSH 1000") {
		t.Errorf("rendered body = %q", res.RenderedBody)
	}
}

func TestGatewaySendClientNotificationHasNoExpiry(t *testing.T) {
	repo := newFakeNotificationRepo()
	backend := &fakeBackend{}
	g := newTestGateway(backend, repo)

	if _, err := g.Send(context.Background(), testBooking(), domain.NotificationBookingAccepted); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if backend.sent[0].To != "254712345678" {
		t.Fatalf("accepted notice should go to the client, got %s", backend.sent[0].To)
	}
	if n := repo.only(t); n.ExpiresAt != nil || n.RecipientID != "client-1" {
		t.Fatalf("notification row = %+v", n)
	}
}

func TestGatewaySendFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		mutate  func(b *domain.Booking)
		wantErr error
	}{
		{
			name:    "no backend configured",
			backend: nil,
			wantErr: domain.ErrProviderUnavailable,
		},
		{
			name:    "fundi without phone",
			backend: &fakeBackend{},
			mutate:  func(b *domain.Booking) { b.Fundi.Phone = "" },
			wantErr: domain.ErrRecipientUnreachable,
		},
		{
			name: "provider non-2xx",
			backend: &fakeBackend{SendFunc: func(context.Context, Message) (*Delivery, error) {
				return nil, domain.ErrProviderError
			}},
			wantErr: domain.ErrProviderError,
		},
		{
			name: "provider timeout",
			backend: &fakeBackend{SendFunc: func(ctx context.Context, _ Message) (*Delivery, error) {
				<-ctx.Done()
				return nil, providerCallError("fake", ctx.Err())
			}},
			wantErr: domain.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeNotificationRepo()
			g := newTestGateway(tt.backend, repo)
			g.timeout = 10 * time.Millisecond

			b := testBooking()
			if tt.mutate != nil {
				tt.mutate(b)
			}
			_, err := g.Send(context.Background(), b, domain.NotificationBookingCreated)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if n := repo.only(t); n.Status != domain.NotificationStatusFailed || n.ExpiresAt != nil {
				t.Fatalf("failed send should leave one failed row, got %+v", n)
			}
		})
	}
}

func TestGatewayMarkDelivered(t *testing.T) {
	repo := newFakeNotificationRepo()
	g := newTestGateway(&fakeBackend{}, repo)
	b := testBooking()

	if _, err := g.Send(context.Background(), b, domain.NotificationBookingCreated); err != nil {
		t.Fatal(err)
	}
	if err := g.MarkDelivered(context.Background(), b.ID); err != nil {
		t.Fatalf("MarkDelivered() error = %v", err)
	}
	if n := repo.only(t); n.Status != domain.NotificationStatusDelivered {
		t.Fatalf("status = %s, want delivered", n.Status)
	}
}

func TestRenderTemplates(t *testing.T) {
	b := testBooking()
	tests := []struct {
		typ  domain.NotificationType
		want string
	}{
		{domain.NotificationBookingCreated, "Please respond to accept or reject this booking."},
		{domain.NotificationBookingAccepted, "Booking Confirmed"},
		{domain.NotificationBookingRejected, "Booking Declined"},
		{domain.NotificationBookingExpired, "did not respond within 1 hour"},
		{domain.NotificationPaymentReminder, "KSH 1000"},
	}
	for _, tt := range tests {
		body, err := Render(b, tt.typ)
		if err != nil {
			t.Fatalf("Render(%s) error = %v", tt.typ, err)
		}
		if !strings.Contains(body, tt.want) {
			t.Errorf("Render(%s) = %q, missing %q", tt.typ, body, tt.want)
		}
	}
	if _, err := Render(b, "unknown"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Render(unknown) error = %v", err)
	}
}
