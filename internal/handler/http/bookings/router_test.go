package bookings_http

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/auth"
	"fundiconnect/internal/domain"
	"fundiconnect/internal/messaging"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/payments"
)

// fakeCoordinator fails any call whose Func field is unset.
type fakeCoordinator struct {
	NotifyFunc   func(ctx context.Context, c domain.Caller, id string) (*bookings.NotifyResponse, error)
	InboundFunc  func(ctx context.Context, msg messaging.InboundMessage) (*bookings.InboundOutcome, error)
	InitiateFunc func(ctx context.Context, c domain.Caller, id string, req *bookings.PaymentRequest) (*bookings.PaymentResponse, error)
	PaymentFunc  func(ctx context.Context, ev payments.WebhookEvent) (*bookings.PaymentEventOutcome, error)
	CompleteFunc func(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error)
	CancelFunc   func(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error)
	RefundFunc   func(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error)
	SweepFunc    func(ctx context.Context) (*bookings.SweepReport, error)
}

var errNotStubbed = errors.New("not stubbed")

func (f *fakeCoordinator) NotifyBookingCreated(ctx context.Context, c domain.Caller, id string) (*bookings.NotifyResponse, error) {
	if f.NotifyFunc == nil {
		return nil, errNotStubbed
	}
	return f.NotifyFunc(ctx, c, id)
}

func (f *fakeCoordinator) HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*bookings.InboundOutcome, error) {
	if f.InboundFunc == nil {
		return nil, errNotStubbed
	}
	return f.InboundFunc(ctx, msg)
}

func (f *fakeCoordinator) InitiatePayment(ctx context.Context, c domain.Caller, id string, req *bookings.PaymentRequest) (*bookings.PaymentResponse, error) {
	if f.InitiateFunc == nil {
		return nil, errNotStubbed
	}
	return f.InitiateFunc(ctx, c, id, req)
}

func (f *fakeCoordinator) HandlePaymentEvent(ctx context.Context, ev payments.WebhookEvent) (*bookings.PaymentEventOutcome, error) {
	if f.PaymentFunc == nil {
		return nil, errNotStubbed
	}
	return f.PaymentFunc(ctx, ev)
}

func (f *fakeCoordinator) CompleteBooking(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error) {
	if f.CompleteFunc == nil {
		return nil, errNotStubbed
	}
	return f.CompleteFunc(ctx, c, id)
}

func (f *fakeCoordinator) CancelBooking(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error) {
	if f.CancelFunc == nil {
		return nil, errNotStubbed
	}
	return f.CancelFunc(ctx, c, id)
}

func (f *fakeCoordinator) RefundPayment(ctx context.Context, c domain.Caller, id string) (*bookings.BookingResponse, error) {
	if f.RefundFunc == nil {
		return nil, errNotStubbed
	}
	return f.RefundFunc(ctx, c, id)
}

func (f *fakeCoordinator) SweepExpired(ctx context.Context) (*bookings.SweepReport, error) {
	if f.SweepFunc == nil {
		return nil, errNotStubbed
	}
	return f.SweepFunc(ctx)
}

const (
	testSecret     = "test-secret"
	paystackSecret = "sk_test_webhook"
)

func newTestServer(t *testing.T, fc *fakeCoordinator) *httptest.Server {
	srv, _ := newWebhookServer(t, fc)
	return srv
}

// newWebhookServer also returns the group tracking background webhook
// processing; tests wait on it before inspecting what the coordinator saw.
func newWebhookServer(t *testing.T, fc *fakeCoordinator) (*httptest.Server, *sync.WaitGroup) {
	t.Helper()
	reg := prometheus.NewRegistry()
	tasks := &sync.WaitGroup{}
	srv := httptest.NewServer(NewRouter(Options{
		Coordinator: fc,
		Verifier:    auth.NewVerifier(testSecret),
		Webhooks:    WebhookConfig{WhatsAppVerifyToken: "verify-me", PaystackSecretKey: paystackSecret},
		CORSOrigins: []string{"*"},
		Gatherer:    reg,
		Metrics:     metrics.New(reg),
		Logger:      zap.NewNop(),
		Background:  tasks,
	}))
	t.Cleanup(srv.Close)
	return srv, tasks
}

func paystackSignature(body string) string {
	mac := hmac.New(sha512.New, []byte(paystackSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func token(t *testing.T, sub string, role domain.Role) string {
	t.Helper()
	tok, err := auth.NewVerifier(testSecret).CreateToken(sub, role, time.Minute)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	return tok
}

func post(t *testing.T, url, bearer, contentType, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestInitiatePaymentErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: cash", domain.ErrValidation), http.StatusBadRequest},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"not found", domain.ErrBookingNotFound, http.StatusNotFound},
		{"in flight", domain.ErrPaymentInFlight, http.StatusConflict},
		{"ceiling", &domain.PaymentError{Err: domain.ErrRetryCeiling, AttemptNumber: 3, MaxAttempts: 3}, http.StatusTooManyRequests},
		{"transient", &domain.PaymentError{Err: domain.ErrProviderUnavailable, AttemptNumber: 1, MaxAttempts: 3, CanRetry: true}, http.StatusInternalServerError},
		{"internal", errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeCoordinator{
				InitiateFunc: func(context.Context, domain.Caller, string, *bookings.PaymentRequest) (*bookings.PaymentResponse, error) {
					return nil, tt.err
				},
			})
			resp := post(t, srv.URL+"/api/bookings/b1/payments", token(t, "client-1", domain.RoleClient), "application/json", `{"payment_method":"mpesa"}`)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body errorResponse
			decode(t, resp, &body)
			if tt.want == http.StatusInternalServerError && strings.Contains(body.Error, "pq") {
				t.Fatalf("internal error leaked: %q", body.Error)
			}
			if errors.Is(tt.err, domain.ErrProviderUnavailable) && body.Error == "Internal server error" {
				t.Fatalf("provider failure message was masked")
			}
			var perr *domain.PaymentError
			if errors.As(tt.err, &perr) {
				if body.CanRetry == nil || *body.CanRetry != perr.CanRetry || body.AttemptNumber != perr.AttemptNumber {
					t.Fatalf("body = %+v", body)
				}
			}
		})
	}
}

func TestInitiatePaymentPassesCallerAndBody(t *testing.T) {
	var got domain.Caller
	var gotReq *bookings.PaymentRequest
	srv := newTestServer(t, &fakeCoordinator{
		InitiateFunc: func(_ context.Context, c domain.Caller, id string, req *bookings.PaymentRequest) (*bookings.PaymentResponse, error) {
			got, gotReq = c, req
			return &bookings.PaymentResponse{BookingID: id, PaymentURL: "https://pay", AttemptNumber: 1, MaxAttempts: 3}, nil
		},
	})
	resp := post(t, srv.URL+"/api/bookings/b1/payments", token(t, "client-1", domain.RoleClient), "application/json",
		`{"payment_method":"paystack","callback_url":"https://app/cb"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got.UserID != "client-1" || gotReq.PaymentMethod != "paystack" || gotReq.CallbackURL != "https://app/cb" {
		t.Fatalf("caller = %+v req = %+v", got, gotReq)
	}

	resp = post(t, srv.URL+"/api/bookings/b1/payments", token(t, "client-1", domain.RoleClient), "application/json", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", resp.StatusCode)
	}
}

func TestRoutesEnforceRoles(t *testing.T) {
	ok := func(context.Context, domain.Caller, string) (*bookings.BookingResponse, error) {
		return &bookings.BookingResponse{ID: "b1"}, nil
	}
	srv := newTestServer(t, &fakeCoordinator{
		NotifyFunc: func(context.Context, domain.Caller, string) (*bookings.NotifyResponse, error) {
			return &bookings.NotifyResponse{BookingID: "b1"}, nil
		},
		CompleteFunc: ok,
		CancelFunc:   ok,
		RefundFunc:   ok,
		SweepFunc: func(context.Context) (*bookings.SweepReport, error) {
			return &bookings.SweepReport{}, nil
		},
	})

	tests := []struct {
		path string
		role domain.Role
		want int
	}{
		{"/api/bookings/b1/notify", domain.RoleClient, http.StatusForbidden},
		{"/api/bookings/b1/notify", domain.RoleService, http.StatusOK},
		{"/api/bookings/b1/complete", domain.RoleClient, http.StatusForbidden},
		{"/api/bookings/b1/complete", domain.RoleFundi, http.StatusOK},
		{"/api/bookings/b1/cancel", domain.RoleClient, http.StatusOK},
		{"/api/admin/bookings/b1/refund", domain.RoleFundi, http.StatusForbidden},
		{"/api/admin/bookings/b1/refund", domain.RoleAdmin, http.StatusOK},
		{"/api/internal/sweep", domain.RoleAdmin, http.StatusForbidden},
		{"/api/internal/sweep", domain.RoleService, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+string(tt.role), func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, token(t, "u1", tt.role), "", "")
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	if resp := post(t, srv.URL+"/api/internal/sweep", "", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
}

func TestWhatsAppVerification(t *testing.T) {
	srv := newTestServer(t, &fakeCoordinator{})

	resp, err := http.Get(srv.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	challenge, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(challenge) != "12345" {
		t.Fatalf("verify = %d %q", resp.StatusCode, challenge)
	}

	resp2, err := http.Get(srv.URL + "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong token status = %d", resp2.StatusCode)
	}
}

func TestWhatsAppInboundAlwaysAcknowledged(t *testing.T) {
	var got []messaging.InboundMessage
	srv, tasks := newWebhookServer(t, &fakeCoordinator{
		InboundFunc: func(_ context.Context, msg messaging.InboundMessage) (*bookings.InboundOutcome, error) {
			got = append(got, msg)
			return nil, errors.New("db down")
		},
	})
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"messages":[
		{"from":"254722000111","id":"wamid.1","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"accept_b1","title":"Accept"}}}]}}]}]}`

	resp := post(t, srv.URL+"/webhooks/whatsapp", "", "application/json", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	tasks.Wait()
	if len(got) != 1 || got[0].Intent != messaging.IntentAccept || got[0].BookingRef != "b1" {
		t.Fatalf("inbound = %+v", got)
	}

	if resp := post(t, srv.URL+"/webhooks/whatsapp", "", "application/json", `not json`); resp.StatusCode != http.StatusOK {
		t.Fatalf("malformed status = %d", resp.StatusCode)
	}
}

func TestTwilioInbound(t *testing.T) {
	var got messaging.InboundMessage
	srv, tasks := newWebhookServer(t, &fakeCoordinator{
		InboundFunc: func(_ context.Context, msg messaging.InboundMessage) (*bookings.InboundOutcome, error) {
			got = msg
			return &bookings.InboundOutcome{Applied: true}, nil
		},
	})
	form := url.Values{"From": {"whatsapp:+254722000111"}, "Body": {"reject 2e3f4a5b please"}, "MessageSid": {"SM1"}}

	resp := post(t, srv.URL+"/webhooks/twilio", "", "application/x-www-form-urlencoded", form.Encode())
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/xml" {
		t.Fatalf("status = %d content-type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	tasks.Wait()
	if got.Intent != messaging.IntentReject || got.BookingRef != "2E3F4A5B" || !got.RefIsSuffix || got.Sender != "254722000111" {
		t.Fatalf("inbound = %+v", got)
	}
}

func TestPaymentWebhooksAlwaysAcknowledge(t *testing.T) {
	var (
		mu     sync.Mutex
		events []payments.WebhookEvent
	)
	srv, tasks := newWebhookServer(t, &fakeCoordinator{
		PaymentFunc: func(_ context.Context, ev payments.WebhookEvent) (*bookings.PaymentEventOutcome, error) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			return nil, errors.New("db down")
		},
	})

	resp := post(t, srv.URL+"/webhooks/mpesa", "", "application/json",
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`)
	var ack struct {
		ResultCode int
		ResultDesc string
	}
	decode(t, resp, &ack)
	if resp.StatusCode != http.StatusOK || ack.ResultCode != 0 || ack.ResultDesc != "Success" {
		t.Fatalf("mpesa ack = %d %+v", resp.StatusCode, ack)
	}
	tasks.Wait()

	body := `{"event":"charge.success","data":{"reference":"fundi_1"}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/paystack", strings.NewReader(body))
	req.Header.Set("x-paystack-signature", paystackSignature(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var pack map[string]string
	decode(t, resp, &pack)
	if resp.StatusCode != http.StatusOK || pack["status"] != "success" {
		t.Fatalf("paystack ack = %d %v", resp.StatusCode, pack)
	}

	// uncorrelated or unsigned callbacks never reach the coordinator
	for _, tc := range []struct{ path, body string }{
		{"/webhooks/mpesa", `{"Body":{"stkCallback":{"ResultCode":0}}}`},
		{"/webhooks/mpesa", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2"}}}`},
		{"/webhooks/paystack", `{"event":"charge.success","data":{"reference":"ws_CO_1"}}`},
	} {
		if resp := post(t, srv.URL+tc.path, "", "application/json", tc.body); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", tc.path, resp.StatusCode)
		}
	}
	tasks.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0].Outcome != payments.OutcomePaid || events[1].ProviderReference != "fundi_1" {
		t.Fatalf("events = %+v", events)
	}
}

func TestWebhookAcknowledgedBeforeProcessing(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	srv, tasks := newWebhookServer(t, &fakeCoordinator{
		InboundFunc: func(ctx context.Context, _ messaging.InboundMessage) (*bookings.InboundOutcome, error) {
			defer close(done)
			<-release
			if ctx.Err() != nil {
				t.Errorf("processing context cancelled with the request: %v", ctx.Err())
			}
			return &bookings.InboundOutcome{Applied: true}, nil
		},
	})
	form := url.Values{"From": {"whatsapp:+254722000111"}, "Body": {"accept 2e3f4a5b"}, "MessageSid": {"SM2"}}

	resp := post(t, srv.URL+"/webhooks/twilio", "", "application/x-www-form-urlencoded", form.Encode())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	select {
	case <-done:
		t.Fatal("reply was processed before the acknowledgement")
	default:
	}

	close(release)
	tasks.Wait()
	<-done
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeCoordinator{})
	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}
