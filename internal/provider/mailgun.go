// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
)

// MailgunMaxSkew is how far a webhook timestamp may drift from our clock.
const MailgunMaxSkew = 900 * time.Second

// mailgunPayload is a Mailgun route forward rendered as JSON. Field names
// follow Mailgun's hyphenated form keys.
type mailgunPayload struct {
	Sender       string `json:"sender"`
	From         string `json:"from"`
	FromHeader   string `json:"From"`
	Recipient    string `json:"recipient"`
	To           string `json:"To"`
	Subject      string `json:"subject"`
	BodyPlain    string `json:"body-plain"`
	BodyHTML     string `json:"body-html"`
	StrippedText string `json:"stripped-text"`
	MessageID    string `json:"Message-Id"`
	InReplyTo    string `json:"In-Reply-To"`
	References   string `json:"References"`
	Date         string `json:"Date"`

	Timestamp json.RawMessage `json:"timestamp"`
	Token     string          `json:"token"`
	Signature json.RawMessage `json:"signature"`

	MessageHeaders json.RawMessage `json:"message-headers"`
	Attachments    json.RawMessage `json:"attachments"`
}

type mailgunSignature struct {
	Timestamp string
	Token     string
	Signature string
}

// signature returns the signing fields from either the flat form or the
// nested {"signature": {...}} form used by newer webhooks.
func (p *mailgunPayload) signature() mailgunSignature {
	var nested struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Token     string          `json:"token"`
		Signature string          `json:"signature"`
	}
	if len(p.Signature) > 0 && p.Signature[0] == '{' {
		if err := json.Unmarshal(p.Signature, &nested); err == nil {
			return mailgunSignature{
				Timestamp: flexString(nested.Timestamp),
				Token:     nested.Token,
				Signature: nested.Signature,
			}
		}
	}
	return mailgunSignature{
		Timestamp: flexString(p.Timestamp),
		Token:     p.Token,
		Signature: flexString(p.Signature),
	}
}

// headers decodes message-headers, which Mailgun sends as a JSON-encoded
// string of [name, value] pairs.
func (p *mailgunPayload) headers() [][]string {
	raw := p.MessageHeaders
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil
	}
	return pairs
}

func (p *mailgunPayload) header(name string) string {
	for _, pair := range p.headers() {
		if len(pair) == 2 && strings.EqualFold(pair[0], name) {
			return pair[1]
		}
	}
	return ""
}

var mailgunAttachmentKeys = attachmentKeys{
	Names:       []string{"filename", "name"},
	ContentType: "content-type",
	Content:     "content",
	Size:        "size",
}

// attachments decodes the attachment list, which Mailgun sends either as a
// JSON array or as a string holding one.
func (p *mailgunPayload) attachments(tag string) []models.Attachment {
	raw := p.Attachments
	if s := jsonString(raw); s != "" {
		raw = json.RawMessage(s)
	}
	return decodeAttachmentList(tag, raw, mailgunAttachmentKeys)
}

// MailgunAdapter converts Mailgun route forwards and verifies their HMAC
// signatures.
type MailgunAdapter struct {
	base
	signingKey string
}

// NewMailgunAdapter creates the Mailgun adapter.
func NewMailgunAdapter(opts Options) *MailgunAdapter {
	return &MailgunAdapter{
		base:       newBase(Mailgun, opts),
		signingKey: opts.MailgunSigningKey,
	}
}

// Convert implements Adapter.
func (a *MailgunAdapter) Convert(raw []byte) (*models.Email, error) {
	var p mailgunPayload
	if err := decodeObject(a.tag, raw, &p); err != nil {
		return nil, err
	}

	from, name := parseAddress(firstNonEmpty(p.FromHeader, p.From))
	from = firstNonEmpty(from, p.Sender)

	text := firstNonEmpty(p.BodyPlain, p.StrippedText)

	email := &models.Email{
		From:     from,
		FromName: name,
		To:       pickRecipient(p.Recipient, p.To, p.header("To")),
		Subject:  firstNonEmpty(p.Subject, p.header("Subject")),
		TextBody: text,
		HTMLBody: p.BodyHTML,
		MessageID: a.messageID(
			p.MessageID,
			p.header("Message-Id"),
		),
		InReplyTo:  firstMessageID(firstNonEmpty(p.InReplyTo, p.header("In-Reply-To"))),
		References: SplitReferences(firstNonEmpty(p.References, p.header("References"))),
		ReceivedAt: a.receivedAt(p.Date, p.header("Date"), flexString(p.Timestamp)),
	}

	email.Attachments = p.attachments(a.tag)

	return a.finish(email)
}

// ValidateWebhook verifies the HMAC-SHA256 signature over timestamp+token.
// With no signing key configured verification is skipped.
func (a *MailgunAdapter) ValidateWebhook(raw []byte, _ http.Header) bool {
	if a.signingKey == "" {
		slog.Warn("mailgun signing key not configured, skipping signature verification")
		return true
	}
	var p mailgunPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	sig := p.signature()
	return verifyMailgunSignature(a.signingKey, sig, a.now())
}

func verifyMailgunSignature(key string, sig mailgunSignature, now time.Time) bool {
	if sig.Timestamp == "" || sig.Token == "" || sig.Signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(sig.Timestamp), 10, 64)
	if err != nil {
		return false
	}
	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > MailgunMaxSkew {
		return false
	}

	expected := signMailgun(key, sig.Timestamp, sig.Token)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig.Signature)))
}

// signMailgun produces the hex signature Mailgun sends for timestamp and token.
func signMailgun(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}
