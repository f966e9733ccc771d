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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/supportdesk/mailhook/internal/models"
)

// sendgridPayload is SendGrid Inbound Parse output rendered as JSON. The
// original headers arrive as one raw header block string.
type sendgridPayload struct {
	Headers        string          `json:"headers"`
	Text           string          `json:"text"`
	HTML           string          `json:"html"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Cc             string          `json:"cc"`
	Subject        string          `json:"subject"`
	Envelope       json.RawMessage `json:"envelope"`
	AttachmentInfo json.RawMessage `json:"attachment-info"`
	Attachments    json.RawMessage `json:"attachments"`
}

type sendgridEnvelope struct {
	To   []string `json:"to"`
	From string   `json:"from"`
}

type sendgridAttachmentInfo struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// decodeEmbeddedJSON decodes a field that may hold JSON directly or a
// JSON document encoded as a string.
func decodeEmbeddedJSON(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		raw = json.RawMessage(s)
	}
	return json.Unmarshal(raw, v)
}

// SendGridAdapter converts SendGrid Inbound Parse posts. Inbound Parse is
// unsigned, so ValidateWebhook always accepts.
type SendGridAdapter struct {
	base
}

// NewSendGridAdapter creates the SendGrid adapter.
func NewSendGridAdapter(opts Options) *SendGridAdapter {
	return &SendGridAdapter{base: newBase(SendGrid, opts)}
}

// Convert implements Adapter.
func (a *SendGridAdapter) Convert(raw []byte) (*models.Email, error) {
	var p sendgridPayload
	if err := decodeObject(a.tag, raw, &p); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode sendgrid fields: %v", ErrMalformedPayload, err)
	}

	var messageID, inReplyTo, references, date string
	if p.Headers != "" {
		h, err := parseHeaderBlock(p.Headers)
		if err != nil {
			slog.Debug("sendgrid header block unreadable", "error", err)
		}
		// ReadHeader returns the fields it parsed before any error.
		messageID = h.Get("Message-Id")
		inReplyTo = h.Get("In-Reply-To")
		references = h.Get("References")
		date = h.Get("Date")
	}

	var env sendgridEnvelope
	if err := decodeEmbeddedJSON(p.Envelope, &env); err != nil {
		slog.Debug("sendgrid envelope unreadable", "error", err)
	}

	from, name := parseAddress(p.From)
	from = firstNonEmpty(from, env.From)

	recipients := append([]string{p.To, p.Cc}, env.To...)

	email := &models.Email{
		From:       from,
		FromName:   name,
		To:         pickRecipient(recipients...),
		Subject:    p.Subject,
		TextBody:   p.Text,
		HTMLBody:   p.HTML,
		MessageID:  a.messageID(messageID),
		InReplyTo:  firstMessageID(inReplyTo),
		References: SplitReferences(references),
		ReceivedAt: a.receivedAt(date),
	}

	info := map[string]sendgridAttachmentInfo{}
	if err := decodeEmbeddedJSON(p.AttachmentInfo, &info); err != nil {
		slog.Debug("sendgrid attachment-info unreadable", "error", err)
	}
	count := flexInt(p.Attachments)
	if count < len(info) {
		count = len(info)
	}
	for i := 1; i <= count; i++ {
		key := fmt.Sprintf("attachment%d", i)
		meta := info[key]
		email.Attachments = append(email.Attachments, decodeAttachment(
			a.tag,
			firstNonEmpty(meta.Filename, meta.Name, key),
			meta.Type,
			jsonString(fields[key]),
			0,
		))
	}

	return a.finish(email)
}
