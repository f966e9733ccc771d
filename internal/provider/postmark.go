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

	"github.com/supportdesk/mailhook/internal/models"
)

// postmarkPayload is the inbound webhook body Postmark POSTs. Lists and
// nested objects stay raw so a wrong-typed optional entry cannot reject the
// whole message.
type postmarkPayload struct {
	From              string          `json:"From"`
	FromName          string          `json:"FromName"`
	FromFull          json.RawMessage `json:"FromFull"`
	To                string          `json:"To"`
	ToFull            json.RawMessage `json:"ToFull"`
	OriginalRecipient string          `json:"OriginalRecipient"`
	Subject           string          `json:"Subject"`
	MessageID         string          `json:"MessageID"`
	Date              string          `json:"Date"`
	TextBody          string          `json:"TextBody"`
	HtmlBody          string          `json:"HtmlBody"`
	Headers           json.RawMessage `json:"Headers"`
	Attachments       json.RawMessage `json:"Attachments"`
}

var postmarkAttachmentKeys = attachmentKeys{
	Names:       []string{"Name"},
	ContentType: "ContentType",
	Content:     "Content",
	Size:        "ContentLength",
}

// PostmarkAdapter converts Postmark inbound webhooks. Postmark does not sign
// inbound webhooks, so ValidateWebhook always accepts.
type PostmarkAdapter struct {
	base
}

// NewPostmarkAdapter creates the Postmark adapter.
func NewPostmarkAdapter(opts Options) *PostmarkAdapter {
	return &PostmarkAdapter{base: newBase(Postmark, opts)}
}

// Convert implements Adapter.
func (a *PostmarkAdapter) Convert(raw []byte) (*models.Email, error) {
	var p postmarkPayload
	if err := decodeObject(a.tag, raw, &p); err != nil {
		return nil, err
	}

	headers := headerPairs(p.Headers)

	var fromFull map[string]json.RawMessage
	if err := json.Unmarshal(p.FromFull, &fromFull); err != nil {
		fromFull = nil
	}
	from, name := parseAddress(p.From)
	from = firstNonEmpty(flexString(fieldFold(fromFull, "Email")), from)
	name = firstNonEmpty(flexString(fieldFold(fromFull, "Name")), p.FromName, name)

	recipients := []string{p.OriginalRecipient, p.To}
	for _, t := range objectList(p.ToFull) {
		recipients = append(recipients, flexString(fieldFold(t, "Email")))
	}

	email := &models.Email{
		From:        from,
		FromName:    name,
		To:          pickRecipient(recipients...),
		Subject:     p.Subject,
		TextBody:    p.TextBody,
		HTMLBody:    p.HtmlBody,
		MessageID:   a.messageID(lookupHeader(headers, "Message-ID"), p.MessageID),
		InReplyTo:   firstMessageID(lookupHeader(headers, "In-Reply-To")),
		References:  SplitReferences(lookupHeader(headers, "References")),
		ReceivedAt:  a.receivedAt(p.Date, lookupHeader(headers, "Date")),
		Attachments: decodeAttachmentList(a.tag, p.Attachments, postmarkAttachmentKeys),
	}

	return a.finish(email)
}
