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

// cloudmailinPayload is CloudMailin's JSON (normalized) format. Header values
// are strings, or arrays when a header repeats.
type cloudmailinPayload struct {
	Envelope struct {
		To         string          `json:"to"`
		From       string          `json:"from"`
		Recipients json.RawMessage `json:"recipients"`
	} `json:"envelope"`
	Headers     map[string]json.RawMessage `json:"headers"`
	Plain       string                     `json:"plain"`
	HTML        string                     `json:"html"`
	ReplyPlain  string                     `json:"reply_plain"`
	MessageID   string                     `json:"message_id"`
	Attachments json.RawMessage            `json:"attachments"`
}

var cloudmailinAttachmentKeys = attachmentKeys{
	Names:       []string{"file_name", "filename"},
	ContentType: "content_type",
	Content:     "content",
	Size:        "size",
}

// header returns the first value of a header, matched case-insensitively.
func (p *cloudmailinPayload) header(name string) string {
	return flexString(fieldFold(p.Headers, name))
}

// headerValues returns every value of a repeated header, matched
// case-insensitively.
func (p *cloudmailinPayload) headerValues(name string) []string {
	return flexStrings(fieldFold(p.Headers, name))
}

// CloudMailinAdapter converts CloudMailin JSON posts. CloudMailin relies on
// basic auth at the HTTP layer, so ValidateWebhook always accepts.
type CloudMailinAdapter struct {
	base
}

// NewCloudMailinAdapter creates the CloudMailin adapter.
func NewCloudMailinAdapter(opts Options) *CloudMailinAdapter {
	return &CloudMailinAdapter{base: newBase(CloudMailin, opts)}
}

// Convert implements Adapter.
func (a *CloudMailinAdapter) Convert(raw []byte) (*models.Email, error) {
	var p cloudmailinPayload
	if err := decodeObject(a.tag, raw, &p); err != nil {
		return nil, err
	}

	from, name := parseAddress(p.header("from"))
	from = firstNonEmpty(from, p.Envelope.From)

	recipients := []string{p.Envelope.To}
	recipients = append(recipients, flexStrings(p.Envelope.Recipients)...)
	recipients = append(recipients, p.header("to"))

	email := &models.Email{
		From:        from,
		FromName:    name,
		To:          pickRecipient(recipients...),
		Subject:     p.header("subject"),
		TextBody:    firstNonEmpty(p.Plain, p.ReplyPlain),
		HTMLBody:    p.HTML,
		MessageID:   a.messageID(p.header("message_id"), p.MessageID),
		InReplyTo:   firstMessageID(p.header("in_reply_to")),
		References:  SplitReferences(p.headerValues("references")...),
		ReceivedAt:  a.receivedAt(p.header("date")),
		Attachments: decodeAttachmentList(a.tag, p.Attachments, cloudmailinAttachmentKeys),
	}

	return a.finish(email)
}
