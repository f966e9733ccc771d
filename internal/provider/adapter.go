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

// Package provider converts inbound-mail webhook payloads from third-party
// senders into the canonical models.Email. Each sender has its own adapter
// with a typed payload struct; the Factory picks one by tag or by sniffing
// the payload shape.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
)

// Provider tags.
const (
	Postmark    = "postmark"
	SES         = "ses"
	Mailgun     = "mailgun"
	SendGrid    = "sendgrid"
	CloudMailin = "cloudmailin"
	Generic     = "generic"

	// Auto asks the factory to detect the provider from the payload shape.
	Auto = "auto"
)

var (
	// ErrMalformedPayload means the body cannot be read as any known shape.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnsupportedProvider means an explicit provider tag is not registered.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrSignatureInvalid means a webhook failed its authenticity check.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// DefaultPlaceholderDomain is used in synthetic message ids.
const DefaultPlaceholderDomain = "inbound.mailhook.local"

// Adapter converts one provider's webhook payload into a canonical Email.
type Adapter interface {
	// Provider returns the adapter's tag, e.g. "postmark".
	Provider() string

	// Convert builds a canonical Email. Missing optional fields become empty
	// values; only structurally unusable payloads return ErrMalformedPayload.
	Convert(raw []byte) (*models.Email, error)

	// ValidateWebhook checks the payload's authenticity. Providers without a
	// signature scheme always return true.
	ValidateWebhook(raw []byte, headers http.Header) bool

	// ExtractTicketID returns the ticket id embedded in a ticket-<id>@ address.
	ExtractTicketID(recipient string) (string, bool)
}

// Options configures adapter construction.
type Options struct {
	// PlaceholderDomain is the domain part of synthetic message ids.
	PlaceholderDomain string

	// MailgunSigningKey is the HTTP webhook signing key used for HMAC checks.
	MailgunSigningKey string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.PlaceholderDomain) == "" {
		o.PlaceholderDomain = DefaultPlaceholderDomain
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// base carries the behaviour every adapter shares.
type base struct {
	tag               string
	placeholderDomain string
	now               func() time.Time
}

func newBase(tag string, opts Options) base {
	opts = opts.withDefaults()
	return base{
		tag:               tag,
		placeholderDomain: opts.PlaceholderDomain,
		now:               opts.Now,
	}
}

// Provider implements Adapter.
func (b base) Provider() string { return b.tag }

// ValidateWebhook implements Adapter for providers without a signature scheme.
func (b base) ValidateWebhook([]byte, http.Header) bool { return true }

// ExtractTicketID implements Adapter.
func (b base) ExtractTicketID(recipient string) (string, bool) {
	return ExtractTicketID(recipient)
}

// messageID returns the first usable candidate in bracketed form, or a
// synthetic id when the provider supplied none.
func (b base) messageID(candidates ...string) string {
	for _, c := range candidates {
		if id := firstMessageID(c); id != "" {
			return id
		}
	}
	return fmt.Sprintf("<%s-%d@%s>", b.tag, b.now().UnixMilli(), b.placeholderDomain)
}

// receivedAt returns the first parseable date, falling back to processing time.
func (b base) receivedAt(candidates ...string) time.Time {
	for _, c := range candidates {
		if t, ok := parseDate(c); ok {
			return t.UTC()
		}
	}
	return b.now().UTC()
}

// finish applies the invariants shared by every adapter.
func (b base) finish(e *models.Email) (*models.Email, error) {
	e.Provider = b.tag
	e.From = strings.TrimSpace(e.From)
	e.To = strings.TrimSpace(e.To)

	if e.From == "" && e.To == "" && strings.TrimSpace(e.Subject) == "" &&
		strings.TrimSpace(e.TextBody) == "" && strings.TrimSpace(e.HTMLBody) == "" {
		return nil, fmt.Errorf("%w: %s payload has no sender, recipient, subject or body", ErrMalformedPayload, b.tag)
	}

	if e.References == nil {
		e.References = []string{}
	}
	if e.Attachments == nil {
		e.Attachments = []models.Attachment{}
	}
	for i := range e.Attachments {
		if e.Attachments[i].Content == nil {
			e.Attachments[i].Content = []byte{}
		}
	}
	if e.MessageID == "" {
		e.MessageID = b.messageID()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = b.now().UTC()
	}
	if id, ok := ExtractTicketID(e.To); ok {
		e.RecipientTicketID = id
	}
	return e, nil
}

// decodeObject unmarshals raw into v, reporting non-object bodies as malformed.
func decodeObject(tag string, raw []byte, v any) error {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("%w: %s payload is not a JSON object", ErrMalformedPayload, tag)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedPayload, tag, err)
	}
	return nil
}
