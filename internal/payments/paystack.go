package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"fundiconnect/internal/domain"
)

type PaystackConfig struct {
	SecretKey string
	APIBase   string
}

// Paystack initializes redirect checkouts.
type Paystack struct {
	cfg    PaystackConfig
	client *http.Client
}

func NewPaystack(cfg PaystackConfig, client *http.Client) *Paystack {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Paystack{cfg: cfg, client: client}
}

func (p *Paystack) Method() domain.PaymentMethod { return domain.PaymentMethodPaystack }

type paystackMetadata struct {
	BookingID string `json:"booking_id"`
	ClientID  string `json:"client_id,omitempty"`
	FundiID   string `json:"fundi_id,omitempty"`
	Service   string `json:"service,omitempty"`
}

type paystackInitRequest struct {
	Email       string           `json:"email"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	Reference   string           `json:"reference"`
	CallbackURL string           `json:"callback_url,omitempty"`
	Metadata    paystackMetadata `json:"metadata"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// minorUnits converts shillings to cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (p *Paystack) Initiate(ctx context.Context, req ChargeRequest) (*Initiation, error) {
	if p.cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: paystack secret key", domain.ErrConfigurationMissing)
	}
	b := req.Booking
	amount := minorUnits(b.TotalAmount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount %s", domain.ErrProviderRejected, b.TotalAmount)
	}
	email := b.Client.Email
	if email == "" {
		email = fmt.Sprintf("client_%s@fundiconnect.com", b.ClientID)
	}

	payload, err := json.Marshal(paystackInitRequest{
		Email:       email,
		Amount:      amount,
		Currency:    "KES",
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata: paystackMetadata{
			BookingID: b.ID,
			ClientID:  b.ClientID,
			FundiID:   b.FundiID,
			Service:   b.Service,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode paystack request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBase+"/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build paystack request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError("paystack", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("paystack", resp)
	}

	var out paystackInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("paystack: %w: invalid response: %v", domain.ErrProviderUnavailable, err)
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("paystack: %w: %s", domain.ErrProviderRejected, out.Message)
	}

	reference := out.Data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &Initiation{PaymentURL: out.Data.AuthorizationURL, ProviderReference: reference}, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string          `json:"reference"`
		Status          string          `json:"status"`
		GatewayResponse string          `json:"gateway_response"`
		Metadata        json.RawMessage `json:"metadata"`
	} `json:"data"`
}

// VerifyPaystackSignature checks x-paystack-signature (hex HMAC-SHA512 of the body).
func VerifyPaystackSignature(body []byte, signature, secret string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ParsePaystackWebhook normalizes charge.success and charge.failed events.
// Without a secret no event can be trusted, so every body is refused.
func ParsePaystackWebhook(body []byte, signature, secret string) (*WebhookEvent, error) {
	if secret == "" {
		return nil, ErrUnverifiable
	}
	if !VerifyPaystackSignature(body, signature, secret) {
		return nil, ErrInvalidSignature
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: invalid paystack payload: %v", domain.ErrValidation, err)
	}

	out := &WebhookEvent{
		Provider:          domain.PaymentMethodPaystack,
		ProviderReference: ev.Data.Reference,
		Reason:            ev.Data.GatewayResponse,
	}
	switch ev.Event {
	case "charge.success":
		out.Outcome = OutcomePaid
	case "charge.failed":
		out.Outcome = OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, ev.Event)
	}
	if out.ProviderReference == "" {
		return nil, ErrMissingCorrelation
	}

	// metadata may arrive as an object or an empty string
	var meta paystackMetadata
	if json.Unmarshal(ev.Data.Metadata, &meta) == nil {
		out.BookingID = meta.BookingID
	}
	return out, nil
}
