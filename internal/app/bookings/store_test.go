package bookings

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/repository/booking_repo"
	"fundiconnect/internal/repository/notification_repo"
)

// memStore is an in-memory stand-in for Postgres. WithinTx snapshots the
// state and restores it when fn fails, which is enough to observe rollbacks.
type memStore struct {
	mu            sync.Mutex
	bookings      map[string]domain.Booking
	notifications []domain.Notification
	attempts      []domain.PaymentAttempt
	inbox         map[string]domain.InboxMessage
	outbox        []domain.OutboxMessage

	// txMu serializes transactions the way row locks would.
	txMu sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[string]domain.Booking),
		inbox:    make(map[string]domain.InboxMessage),
	}
}

func (s *memStore) put(b *domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = *b
}

func (s *memStore) booking(id string) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *memStore) notificationsFor(bookingID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.BookingID == bookingID {
			out = append(out, n)
		}
	}
	return out
}

func (s *memStore) attemptsFor(bookingID string) []domain.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentAttempt
	for _, a := range s.attempts {
		if a.BookingID == bookingID {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) outboxTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.outbox))
	for i, m := range s.outbox {
		out[i] = m.MessageType
	}
	return out
}

func (s *memStore) WithinTx(_ context.Context, fn func(q domain.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	bookings := make(map[string]domain.Booking, len(s.bookings))
	for k, v := range s.bookings {
		bookings[k] = v
	}
	inbox := make(map[string]domain.InboxMessage, len(s.inbox))
	for k, v := range s.inbox {
		inbox[k] = v
	}
	notifications := slices.Clone(s.notifications)
	attempts := slices.Clone(s.attempts)
	outbox := slices.Clone(s.outbox)
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.bookings, s.inbox = bookings, inbox
		s.notifications, s.attempts, s.outbox = notifications, attempts, outbox
		s.mu.Unlock()
		return err
	}
	return nil
}

type memBookings struct{ s *memStore }

func (r memBookings) GetByID(_ context.Context, _ domain.Querier, id string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (r memBookings) FindByPaymentReference(_ context.Context, _ domain.Querier, ref string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bookings {
		if b.PaymentReference == ref {
			return &b, nil
		}
	}
	for _, a := range r.s.attempts {
		if a.Status == domain.AttemptStatusSuccess && a.PaymentReference == ref {
			b := r.s.bookings[a.BookingID]
			return &b, nil
		}
	}
	return nil, domain.ErrBookingNotFound
}

func (r memBookings) FindPendingBySuffix(_ context.Context, _ domain.Querier, suffix string) ([]*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.s.bookings {
		if b.Status == domain.BookingStatusPending && strings.HasSuffix(strings.ToUpper(b.ID), suffix) {
			b := b
			out = append(out, &b)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Booking) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r memBookings) CompareAndSwapStatus(_ context.Context, _ domain.Querier, id string, expected, next domain.BookingStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok || b.Status != expected {
		return false, nil
	}
	b.Status, b.UpdatedAt = next, at
	r.s.bookings[id] = b
	return true, nil
}

func (r memBookings) CompareAndSwapPaymentStatus(_ context.Context, _ domain.Querier, id string, expected []domain.PaymentStatus, next domain.PaymentStatus, f booking_repo.PaymentFields, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok || !slices.Contains(expected, b.PaymentStatus) {
		return false, nil
	}
	b.PaymentStatus, b.UpdatedAt = next, at
	if f.Method != nil {
		b.PaymentMethod = *f.Method
	}
	if f.Reference != nil {
		b.PaymentReference = *f.Reference
	}
	if f.CompletedAt != nil {
		b.PaymentCompletedAt = f.CompletedAt
	}
	r.s.bookings[id] = b
	return true, nil
}

type memNotifications struct{ s *memStore }

func (r memNotifications) Create(_ context.Context, _ domain.Querier, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// mirrors uq_notifications_active_request
	if n.Type == domain.NotificationBookingCreated {
		for _, existing := range r.s.notifications {
			if existing.BookingID == n.BookingID && existing.Type == n.Type && liveRequest(existing.Status) {
				return domain.ErrNotificationSent
			}
		}
	}
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func liveRequest(s domain.NotificationStatus) bool {
	return s == domain.NotificationStatusPending || s == domain.NotificationStatusSent || s == domain.NotificationStatusDelivered
}

func (r memNotifications) update(id string, fn func(n *domain.Notification)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.notifications {
		if r.s.notifications[i].ID == id {
			fn(&r.s.notifications[i])
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

func (r memNotifications) MarkSent(_ context.Context, _ domain.Querier, id string, upd notification_repo.SentUpdate, at time.Time) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status = domain.NotificationStatusSent
		n.Provider, n.ProviderMessageID, n.MessageContent = upd.Provider, upd.ProviderMessageID, upd.MessageContent
		n.ExpiresAt, n.UpdatedAt = upd.ExpiresAt, at
	})
}

func (r memNotifications) MarkFailed(_ context.Context, _ domain.Querier, id, provider, content string, at time.Time) error {
	return r.update(id, func(n *domain.Notification) {
		n.Status, n.Provider, n.MessageContent, n.UpdatedAt = domain.NotificationStatusFailed, provider, content, at
	})
}

func (r memNotifications) MarkDelivered(_ context.Context, _ domain.Querier, bookingID string, typ domain.NotificationType, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.notifications {
		row := &r.s.notifications[i]
		if row.BookingID == bookingID && row.Type == typ && row.Status == domain.NotificationStatusSent {
			row.Status, row.UpdatedAt = domain.NotificationStatusDelivered, at
			n++
		}
	}
	return n, nil
}

func (r memNotifications) CompareAndSwapStatus(_ context.Context, _ domain.Querier, id string, expected, next domain.NotificationStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.notifications {
		row := &r.s.notifications[i]
		if row.ID == id && row.Status == expected {
			row.Status, row.UpdatedAt = next, at
			return true, nil
		}
	}
	return false, nil
}

func (r memNotifications) HasActive(_ context.Context, _ domain.Querier, bookingID string, typ domain.NotificationType) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.notifications {
		if n.BookingID == bookingID && n.Type == typ &&
			(n.Status == domain.NotificationStatusSent || n.Status == domain.NotificationStatusDelivered) {
			return true, nil
		}
	}
	return false, nil
}

func (r memNotifications) FindExpired(_ context.Context, _ domain.Querier, now time.Time, limit int) ([]*domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.s.notifications {
		if len(out) == limit {
			break
		}
		if n.Type != domain.NotificationBookingCreated || n.Status != domain.NotificationStatusSent {
			continue
		}
		if n.ExpiresAt == nil || !n.ExpiresAt.Before(now) {
			continue
		}
		if r.s.bookings[n.BookingID].Status != domain.BookingStatusPending {
			continue
		}
		n := n
		out = append(out, &n)
	}
	return out, nil
}

type memAttempts struct{ s *memStore }

func (r memAttempts) LatestAttemptNumber(_ context.Context, _ domain.Querier, bookingID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	latest := 0
	for _, a := range r.s.attempts {
		if a.BookingID == bookingID && a.AttemptNumber > latest {
			latest = a.AttemptNumber
		}
	}
	return latest, nil
}

func (r memAttempts) Create(_ context.Context, _ domain.Querier, a *domain.PaymentAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.attempts {
		if existing.BookingID == a.BookingID && existing.AttemptNumber == a.AttemptNumber {
			return domain.ErrDuplicatePaymentStep
		}
	}
	r.s.attempts = append(r.s.attempts, *a)
	return nil
}

func (r memAttempts) FindByReference(_ context.Context, _ domain.Querier, ref string) (*domain.PaymentAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.attempts {
		if a.Status == domain.AttemptStatusSuccess && a.PaymentReference == ref {
			return &a, nil
		}
	}
	return nil, domain.ErrAttemptNotFound
}

type memInbox struct{ s *memStore }

func (r memInbox) CreateMessage(_ context.Context, _ domain.Querier, msg *domain.InboxMessage) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.inbox[msg.ID]; ok {
		return false, nil
	}
	r.s.inbox[msg.ID] = *msg
	return true, nil
}

func (r memInbox) UpdateStatus(_ context.Context, _ domain.Querier, id string, status domain.InboxMessageStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.inbox[id]
	m.Status = status
	r.s.inbox[id] = m
	return nil
}

type memOutbox struct{ s *memStore }

func (r memOutbox) CreateMessage(_ context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.outbox = append(r.s.outbox, *msg)
	return nil
}

func (r memOutbox) GetPendingMessages(context.Context, domain.Querier, int) ([]domain.OutboxMessage, error) {
	return nil, nil
}

func (r memOutbox) UpdateMessageStatus(context.Context, domain.Querier, string, domain.OutboxMessageStatus) error {
	return nil
}
