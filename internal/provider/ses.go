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
	"strings"

	"github.com/supportdesk/mailhook/internal/models"
)

// snsEnvelope is the outer SNS HTTP notification.
type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	TopicArn  string `json:"TopicArn"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp"`
}

// sesNotification is the SES receipt notification carried in Message, or
// POSTed bare by some relays.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		Timestamp     string          `json:"timestamp"`
		Source        string          `json:"source"`
		MessageID     string          `json:"messageId"`
		Destination   json.RawMessage `json:"destination"`
		Headers       json.RawMessage `json:"headers"`
		CommonHeaders struct {
			From      json.RawMessage `json:"from"`
			To        json.RawMessage `json:"to"`
			Subject   string          `json:"subject"`
			MessageID string          `json:"messageId"`
			Date      string          `json:"date"`
		} `json:"commonHeaders"`
	} `json:"mail"`
	Receipt struct {
		Action struct {
			Type     string `json:"type"`
			Encoding string `json:"encoding"`
		} `json:"action"`
	} `json:"receipt"`
	Content string `json:"content"`
}

func (n *sesNotification) header(name string) string {
	return lookupHeader(headerPairs(n.Mail.Headers), name)
}

// SESAdapter converts Amazon SES receipt notifications delivered through SNS.
// SNS certificate signatures are not verified here.
type SESAdapter struct {
	base
}

// NewSESAdapter creates the SES adapter.
func NewSESAdapter(opts Options) *SESAdapter {
	return &SESAdapter{base: newBase(SES, opts)}
}

// Convert implements Adapter.
func (a *SESAdapter) Convert(raw []byte) (*models.Email, error) {
	var env snsEnvelope
	if err := decodeObject(a.tag, raw, &env); err != nil {
		return nil, err
	}
	if env.Type == "SubscriptionConfirmation" || env.Type == "UnsubscribeConfirmation" {
		return nil, fmt.Errorf("%w: sns %s carries no email", ErrMalformedPayload, env.Type)
	}

	inner := raw
	if env.Message != "" {
		inner = []byte(env.Message)
	}
	var n sesNotification
	if err := json.Unmarshal(inner, &n); err != nil {
		return nil, fmt.Errorf("%w: decode ses notification: %v", ErrMalformedPayload, err)
	}

	var parsed mimeMessage
	if n.Content != "" {
		content := []byte(n.Content)
		if strings.EqualFold(n.Receipt.Action.Encoding, "BASE64") {
			decoded, err := decodeBase64(n.Content)
			if err != nil {
				slog.Warn("ses content not valid base64, ignoring raw message",
					"sns_message_id", env.MessageID,
					"error", err,
				)
				content = nil
			} else {
				content = decoded
			}
		}
		if len(content) > 0 {
			m, err := parseMIME(a.tag, content)
			if err != nil {
				slog.Warn("ses raw message unreadable, using notification headers only",
					"sns_message_id", env.MessageID,
					"error", err,
				)
			} else {
				parsed = *m
			}
		}
	}

	common := n.Mail.CommonHeaders
	var from, name string
	if fromList := flexStrings(common.From); len(fromList) > 0 {
		from, name = parseAddress(fromList[0])
	}
	from = firstNonEmpty(from, parsed.From, n.Mail.Source)
	name = firstNonEmpty(name, parsed.FromName)

	recipients := flexStrings(common.To)
	recipients = append(recipients, parsed.To...)
	recipients = append(recipients, flexStrings(n.Mail.Destination)...)

	email := &models.Email{
		From:     from,
		FromName: name,
		To:       pickRecipient(recipients...),
		Subject:  firstNonEmpty(common.Subject, parsed.Subject, n.header("Subject")),
		TextBody: parsed.TextBody,
		HTMLBody: parsed.HTMLBody,
		MessageID: a.messageID(
			common.MessageID,
			n.header("Message-ID"),
			parsed.MessageID,
		),
		InReplyTo:   firstMessageID(firstNonEmpty(n.header("In-Reply-To"), parsed.InReplyTo)),
		References:  SplitReferences(firstNonEmpty(n.header("References"), parsed.References)),
		ReceivedAt:  a.receivedAt(n.Mail.Timestamp, common.Date, parsed.Date, env.Timestamp),
		Attachments: parsed.Attachments,
	}

	return a.finish(email)
}
