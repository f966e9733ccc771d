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

package models

import "time"

// Status is the lifecycle state of a support ticket.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Priority is the urgency assigned to a ticket.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Ticket is a persisted support ticket.
type Ticket struct {
	ID                  string         `json:"id"`
	Number              int64          `json:"number"`
	Subject             string         `json:"subject"`
	Description         string         `json:"description"`
	Status              Status         `json:"status"`
	Priority            Priority       `json:"priority"`
	Tags                []string       `json:"tags"`
	CustomerID          string         `json:"customer_id"`
	ResponseTimeSeconds int            `json:"response_time_seconds"`
	CustomFields        map[string]any `json:"custom_fields"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// TicketMessage is a single message in a ticket thread. EmailMessageID is
// the threading index for follow-up replies and is unique across messages.
type TicketMessage struct {
	ID             string    `json:"id"`
	TicketID       string    `json:"ticket_id"`
	Content        string    `json:"content"`
	AuthorID       string    `json:"author_id"`
	IsInternal     bool      `json:"is_internal"`
	EmailMessageID string    `json:"email_message_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewTicket holds the fields needed to create a ticket.
type NewTicket struct {
	Subject      string
	Description  string
	Priority     Priority
	Tags         []string
	CustomerID   string
	CustomFields map[string]any
}

// NewMessage holds the fields needed to append a message to a ticket.
type NewMessage struct {
	Content        string
	AuthorID       string
	IsInternal     bool
	EmailMessageID string
}
