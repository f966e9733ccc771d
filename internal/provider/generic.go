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
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/supportdesk/mailhook/internal/models"
)

// genericSchemaJSON describes the canonical body accepted from custom integrations.
const genericSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Canonical inbound email",
  "type": "object",
  "required": ["from", "to"],
  "anyOf": [
    {"required": ["textBody"]},
    {"required": ["htmlBody"]}
  ],
  "properties": {
    "from":        {"type": "string", "minLength": 1},
    "fromName":    {"type": "string"},
    "to":          {"type": "string", "minLength": 1},
    "subject":     {"type": "string"},
    "textBody":    {"type": "string"},
    "htmlBody":    {"type": "string"},
    "inReplyTo":   {"type": "string"},
    "references":  {"type": "array", "items": {"type": "string"}},
    "messageId":   {"type": "string"},
    "receivedAt":  {"type": "string"},
    "attachments": {"type": "array"}
  }
}`

var genericSchema = mustCompileSchema(genericSchemaJSON)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile canonical email schema: %v", err))
	}
	return schema
}

// genericPayload is the canonical body; field names mirror models.Email.
type genericPayload struct {
	From        string          `json:"from"`
	FromName    string          `json:"fromName"`
	To          string          `json:"to"`
	Subject     string          `json:"subject"`
	TextBody    string          `json:"textBody"`
	HTMLBody    string          `json:"htmlBody"`
	InReplyTo   string          `json:"inReplyTo"`
	References  []string        `json:"references"`
	MessageID   string          `json:"messageId"`
	ReceivedAt  string          `json:"receivedAt"`
	Attachments json.RawMessage `json:"attachments"`
}

var genericAttachmentKeys = attachmentKeys{
	Names:       []string{"filename"},
	ContentType: "contentType",
	Content:     "content",
	Size:        "size",
}

// GenericAdapter accepts an already-canonical body from custom integrations.
// It is never chosen by auto-detection.
type GenericAdapter struct {
	base
}

// NewGenericAdapter creates the generic adapter.
func NewGenericAdapter(opts Options) *GenericAdapter {
	return &GenericAdapter{base: newBase(Generic, opts)}
}

// Convert implements Adapter.
func (a *GenericAdapter) Convert(raw []byte) (*models.Email, error) {
	var p genericPayload
	if err := decodeObject(a.tag, raw, &p); err != nil {
		return nil, err
	}

	result, err := genericSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: validate generic payload: %v", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(msgs, "; "))
	}

	from, name := parseAddress(p.From)

	email := &models.Email{
		From:       from,
		FromName:   firstNonEmpty(p.FromName, name),
		To:         pickRecipient(p.To),
		Subject:    p.Subject,
		TextBody:   p.TextBody,
		HTMLBody:   p.HTMLBody,
		MessageID:  a.messageID(p.MessageID),
		InReplyTo:  firstMessageID(p.InReplyTo),
		References: SplitReferences(p.References...),
		ReceivedAt: a.receivedAt(p.ReceivedAt),
	}

	email.Attachments = decodeAttachmentList(a.tag, p.Attachments, genericAttachmentKeys)

	return a.finish(email)
}
