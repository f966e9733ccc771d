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

// Package models defines the data structures shared across the inbound mail service.
package models

import "time"

// Attachment represents a file attached to an inbound email.
// Content is always non-nil; an undecodable provider payload yields an empty buffer.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
	Size        int    `json:"size"`
}

// Email is the provider-independent form of an inbound message. Adapters
// build it once per webhook call; nothing downstream mutates it.
type Email struct {
	Provider string `json:"provider"`

	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`

	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body,omitempty"`

	// Message identifiers are kept in bracketed form, e.g. "<abc@example.com>".
	MessageID  string   `json:"message_id"`
	InReplyTo  string   `json:"in_reply_to,omitempty"`
	References []string `json:"references"`

	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments"`

	// RecipientTicketID is the ticket id embedded in the To address, if any.
	RecipientTicketID string `json:"recipient_ticket_id,omitempty"`
}
