package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fundiconnect/internal/domain"
)

const ProviderMeta = "meta"

type MetaConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIBase       string
}

func (c MetaConfig) Configured() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// MetaBackend sends through the WhatsApp Cloud API.
type MetaBackend struct {
	cfg    MetaConfig
	client *http.Client
}

func NewMetaBackend(cfg MetaConfig, client *http.Client) *MetaBackend {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &MetaBackend{cfg: cfg, client: client}
}

func (m *MetaBackend) Name() string { return ProviderMeta }

type metaText struct {
	Body string `json:"body"`
}

type metaInteractive struct {
	Type   string         `json:"type"`
	Header *metaHeader    `json:"header,omitempty"`
	Body   metaTextField  `json:"body"`
	Footer *metaTextField `json:"footer,omitempty"`
	Action metaAction     `json:"action"`
}

type metaHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type metaTextField struct {
	Text string `json:"text"`
}

type metaAction struct {
	Buttons []metaButton `json:"buttons"`
}

type metaButton struct {
	Type  string          `json:"type"`
	Reply metaButtonReply `json:"reply"`
}

type metaButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type metaSendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *metaText        `json:"text,omitempty"`
	Interactive      *metaInteractive `json:"interactive,omitempty"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (m *MetaBackend) buildRequest(msg Message) metaSendRequest {
	req := metaSendRequest{MessagingProduct: "whatsapp", To: msg.To}
	if msg.Type != domain.NotificationBookingCreated {
		req.Type = "text"
		req.Text = &metaText{Body: msg.Body}
		return req
	}

	req.Type = "interactive"
	req.Interactive = &metaInteractive{
		Type:   "button",
		Header: &metaHeader{Type: "text", Text: "New Booking Request"},
		Body:   metaTextField{Text: msg.Body},
		Footer: &metaTextField{Text: "FundiConnect - Respond within 1 hour"},
		Action: metaAction{Buttons: []metaButton{
			{Type: "reply", Reply: metaButtonReply{ID: ButtonPrefixAccept + msg.BookingID, Title: "Accept"}},
			{Type: "reply", Reply: metaButtonReply{ID: ButtonPrefixReject + msg.BookingID, Title: "Reject"}},
		}},
	}
	return req
}

func (m *MetaBackend) Send(ctx context.Context, msg Message) (*Delivery, error) {
	payload, err := json.Marshal(m.buildRequest(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to encode whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", m.cfg.APIBase, m.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, providerCallError(ProviderMeta, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerStatusError(ProviderMeta, resp)
	}

	var out metaSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w: invalid response: %v", ProviderMeta, domain.ErrProviderError, err)
	}
	delivery := &Delivery{Body: msg.Body}
	if len(out.Messages) > 0 {
		delivery.MessageID = out.Messages[0].ID
	}
	return delivery, nil
}
