package domain

import "time"

type InboxMessageStatus string

const (
	InboxStatusNew       InboxMessageStatus = "NEW"
	InboxStatusProcessed InboxMessageStatus = "PROCESSED"
	InboxStatusDropped   InboxMessageStatus = "DROPPED"
)

// InboxMessage records one inbound provider message so a redelivery is
// recognised before it reaches the booking.
type InboxMessage struct {
	ID          string
	Provider    string
	Sender      string
	Payload     []byte
	Status      InboxMessageStatus
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// InboxKey namespaces a provider message id.
func InboxKey(provider, messageID string) string {
	return provider + ":" + messageID
}
