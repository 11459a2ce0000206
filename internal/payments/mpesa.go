package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
)

const mpesaTokenKey = "mpesa_access_token"

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	APIBase        string
	CallbackURL    string
}

func (c MpesaConfig) Configured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Shortcode != "" && c.Passkey != ""
}

// TokenCache keeps the OAuth token between initiations.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

// Mpesa sends STK push prompts to the payer's phone.
type Mpesa struct {
	cfg    MpesaConfig
	client *http.Client
	cache  TokenCache
	logger *zap.Logger
	now    func() time.Time
}

func NewMpesa(cfg MpesaConfig, client *http.Client, cache TokenCache, logger *zap.Logger) *Mpesa {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Mpesa{cfg: cfg, client: client, cache: cache, logger: logger, now: time.Now}
}

func (m *Mpesa) Method() domain.PaymentMethod { return domain.PaymentMethodMpesa }

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (m *Mpesa) accessToken(ctx context.Context) (string, error) {
	if m.cache != nil {
		tok, ok, err := m.cache.Get(ctx, mpesaTokenKey)
		if err != nil {
			m.logger.Warn("M-Pesa token cache unavailable", zap.Error(err))
		} else if ok {
			return tok, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.APIBase+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build mpesa oauth request: %w", err)
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", transportError("mpesa oauth", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("mpesa oauth", resp)
	}

	var out mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return "", fmt.Errorf("mpesa oauth: %w: no access token", domain.ErrProviderUnavailable)
	}

	if m.cache != nil {
		ttl := 50 * time.Minute
		if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 120 {
			ttl = time.Duration(secs-60) * time.Second
		}
		if err := m.cache.Set(ctx, mpesaTokenKey, out.AccessToken, ttl); err != nil {
			m.logger.Warn("Failed to cache M-Pesa token", zap.Error(err))
		}
	}
	return out.AccessToken, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// password is base64(shortcode + passkey + timestamp).
func (m *Mpesa) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.cfg.Shortcode + m.cfg.Passkey + timestamp))
}

// accountReference is FUNDI + booking suffix + 4 digits of the clock.
func (m *Mpesa) accountReference(b *domain.Booking, now time.Time) string {
	return fmt.Sprintf("FUNDI%s%04d", b.ReferenceSuffix(), now.UnixMilli()%10000)
}

func (m *Mpesa) Initiate(ctx context.Context, req ChargeRequest) (*Initiation, error) {
	if !m.cfg.Configured() {
		return nil, fmt.Errorf("%w: mpesa credentials", domain.ErrConfigurationMissing)
	}
	b := req.Booking
	phone := domain.NormalizePhone(b.Client.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: client has no phone for mpesa", domain.ErrProviderRejected)
	}
	amount := b.TotalAmount.Ceil().IntPart()
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount %s", domain.ErrProviderRejected, b.TotalAmount)
	}
	callback := m.cfg.CallbackURL
	if callback == "" {
		callback = req.CallbackURL
	}
	if callback == "" {
		return nil, fmt.Errorf("%w: mpesa callback url", domain.ErrConfigurationMissing)
	}

	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	timestamp := now.Format("20060102150405")
	payload, err := json.Marshal(stkPushRequest{
		BusinessShortCode: m.cfg.Shortcode,
		Password:          m.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            m.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       callback,
		AccountReference:  m.accountReference(b, now),
		TransactionDesc:   "Payment for " + b.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode stk push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIBase+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build stk push request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, transportError("mpesa", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("mpesa", resp)
	}

	var out stkPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mpesa: %w: invalid response: %v", domain.ErrProviderUnavailable, err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		desc := out.ResponseDescription
		if desc == "" {
			desc = out.ErrorMessage
		}
		return nil, fmt.Errorf("mpesa: %w: %s", domain.ErrProviderRejected, desc)
	}

	q := url.Values{}
	q.Set("phone", phone)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("reference", out.CheckoutRequestID)
	return &Initiation{
		PaymentURL:        "mpesa://pay?" + q.Encode(),
		ProviderReference: out.CheckoutRequestID,
	}, nil
}

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseMpesaCallback normalizes an STK push result. ResultCode 0 is paid;
// any other code is failed. A callback without a ResultCode is rejected.
func ParseMpesaCallback(body []byte) (*WebhookEvent, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: invalid mpesa payload: %v", domain.ErrValidation, err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, ErrMissingCorrelation
	}
	if stk.ResultCode == nil {
		return nil, fmt.Errorf("%w: mpesa callback has no ResultCode", domain.ErrValidation)
	}

	out := &WebhookEvent{
		Provider:          domain.PaymentMethodMpesa,
		ProviderReference: stk.CheckoutRequestID,
		Reason:            stk.ResultDesc,
		Outcome:           OutcomeFailed,
	}
	if *stk.ResultCode != 0 {
		return out, nil
	}

	out.Outcome = OutcomePaid
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" {
				out.Receipt = fmt.Sprint(item.Value)
			}
		}
	}
	return out, nil
}
