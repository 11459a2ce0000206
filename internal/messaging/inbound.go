package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"fundiconnect/internal/domain"
)

type Intent string

const (
	IntentAccept Intent = "accept"
	IntentReject Intent = "reject"
	IntentNone   Intent = "none"
)

const (
	ButtonPrefixAccept = "accept_"
	ButtonPrefixReject = "reject_"

	commandAccept = "ACCEPT"
	commandReject = "REJECT"
)

var replyCommand = regexp.MustCompile(`\b(ACCEPT|REJECT)\s+([A-Z0-9]{8})\b`)

// InboundMessage is a provider reply normalized to a booking intent.
type InboundMessage struct {
	Provider  string
	MessageID string
	// Sender is the normalized phone of the replying device.
	Sender     string
	BookingRef string
	// RefIsSuffix is set when BookingRef is the short reference from a typed reply.
	RefIsSuffix bool
	Intent      Intent
	Raw         []byte
}

// ParseReplyText reads "ACCEPT XXXXXXXX" / "REJECT XXXXXXXX" anywhere in a text reply.
func ParseReplyText(text string) (Intent, string) {
	m := replyCommand.FindStringSubmatch(strings.ToUpper(text))
	if m == nil {
		return IntentNone, ""
	}
	if m[1] == commandAccept {
		return IntentAccept, m[2]
	}
	return IntentReject, m[2]
}

// ParseButtonID reads the reply id of an interactive button.
func ParseButtonID(id string) (Intent, string) {
	switch {
	case strings.HasPrefix(id, ButtonPrefixAccept) && len(id) > len(ButtonPrefixAccept):
		return IntentAccept, strings.TrimPrefix(id, ButtonPrefixAccept)
	case strings.HasPrefix(id, ButtonPrefixReject) && len(id) > len(ButtonPrefixReject):
		return IntentReject, strings.TrimPrefix(id, ButtonPrefixReject)
	default:
		return IntentNone, ""
	}
}

type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []metaInboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaInboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

// ParseMetaWebhook extracts every inbound message from a WhatsApp Cloud API
// notification. Unrecognised messages come back with IntentNone; the error
// is reserved for bodies that are not JSON.
func ParseMetaWebhook(body []byte) ([]InboundMessage, error) {
	var hook metaWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: invalid whatsapp payload: %v", domain.ErrValidation, err)
	}

	var out []InboundMessage
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for _, m := range change.Value.Messages {
				raw, _ := json.Marshal(m)
				msg := InboundMessage{
					Provider:  ProviderMeta,
					MessageID: m.ID,
					Sender:    domain.NormalizePhone(m.From),
					Intent:    IntentNone,
					Raw:       raw,
				}
				switch {
				case m.Interactive != nil && m.Interactive.ButtonReply != nil:
					msg.Intent, msg.BookingRef = ParseButtonID(m.Interactive.ButtonReply.ID)
				case m.Button != nil:
					msg.Intent, msg.BookingRef = ParseButtonID(m.Button.Payload)
				case m.Text != nil:
					msg.Intent, msg.BookingRef = ParseReplyText(m.Text.Body)
					msg.RefIsSuffix = msg.Intent != IntentNone
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// ParseTwilioForm normalizes a Twilio inbound WhatsApp webhook.
func ParseTwilioForm(form url.Values) InboundMessage {
	msg := InboundMessage{
		Provider:  ProviderTwilio,
		MessageID: form.Get("MessageSid"),
		Sender:    domain.NormalizePhone(strings.TrimPrefix(form.Get("From"), "whatsapp:")),
		Intent:    IntentNone,
		Raw:       []byte(form.Encode()),
	}
	if payload := form.Get("ButtonPayload"); payload != "" {
		msg.Intent, msg.BookingRef = ParseButtonID(payload)
		return msg
	}
	msg.Intent, msg.BookingRef = ParseReplyText(form.Get("Body"))
	msg.RefIsSuffix = msg.Intent != IntentNone
	return msg
}

// VerifyMetaSignature checks the X-Hub-Signature-256 header against the app secret.
func VerifyMetaSignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
