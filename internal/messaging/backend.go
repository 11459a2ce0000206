package messaging

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"fundiconnect/internal/domain"
)

// Message is one rendered notification ready for a provider.
type Message struct {
	To        string
	Type      domain.NotificationType
	BookingID string
	Suffix    string
	Body      string
}

// Delivery is what a provider returned for an accepted message. Body is the
// text actually sent, including any backend-specific reply instructions.
type Delivery struct {
	MessageID string
	Body      string
}

// Backend is a chat provider. Exactly one is selected at startup.
type Backend interface {
	Name() string
	Send(ctx context.Context, msg Message) (*Delivery, error)
}

// SelectBackend prefers the WhatsApp Cloud API over Twilio. It returns nil
// when neither is configured.
func SelectBackend(meta MetaConfig, twilio TwilioConfig, client *http.Client) Backend {
	switch {
	case meta.Configured():
		return NewMetaBackend(meta, client)
	case twilio.Configured():
		return NewTwilioBackend(twilio, client)
	default:
		return nil
	}
}

// providerCallError wraps a transport failure or timeout. The request never
// produced a provider response, so it counts as unavailable.
func providerCallError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, domain.ErrProviderUnavailable, err)
}

// providerStatusError reads a bounded snippet of a non-2xx response body.
func providerStatusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: %w: status %d: %s", provider, domain.ErrProviderError, resp.StatusCode, snippet)
}
