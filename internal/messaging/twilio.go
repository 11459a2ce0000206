package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fundiconnect/internal/domain"
)

const ProviderTwilio = "twilio"

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	WhatsAppFrom string
	APIBase      string
}

func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.WhatsAppFrom != ""
}

// TwilioBackend sends WhatsApp text through Twilio. Booking requests carry a
// typed reply convention instead of buttons.
type TwilioBackend struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioBackend(cfg TwilioConfig, client *http.Client) *TwilioBackend {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &TwilioBackend{cfg: cfg, client: client}
}

func (t *TwilioBackend) Name() string { return ProviderTwilio }

// replyInstructions is appended to booking requests so the fundi can answer in text.
func replyInstructions(suffix string) string {
	return fmt.Sprintf("\n\nReply with:\n\"%s %s\" to accept\n\"%s %s\" to reject\n\nYou have 1 hour to respond.",
		commandAccept, suffix, commandReject, suffix)
}

func whatsappAddress(number string) string {
	number = strings.TrimPrefix(number, "whatsapp:")
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

func (t *TwilioBackend) Send(ctx context.Context, msg Message) (*Delivery, error) {
	body := msg.Body
	if msg.Type == domain.NotificationBookingCreated {
		body += replyInstructions(msg.Suffix)
	}

	form := url.Values{}
	form.Set("From", whatsappAddress(t.cfg.WhatsAppFrom))
	form.Set("To", whatsappAddress(msg.To))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.APIBase, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, providerCallError(ProviderTwilio, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerStatusError(ProviderTwilio, resp)
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w: invalid response: %v", ProviderTwilio, domain.ErrProviderError, err)
	}
	return &Delivery{MessageID: out.SID, Body: body}, nil
}
