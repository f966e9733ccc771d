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

// TicketEvent announces that an inbound email changed a ticket. It is the
// payload handed to downstream workers.
type TicketEvent struct {
	TicketID       string    `json:"ticket_id"`
	TicketNumber   int64     `json:"ticket_number"`
	Action         string    `json:"action"`
	EmailMessageID string    `json:"email_message_id"`
	Provider       string    `json:"provider"`
	Priority       Priority  `json:"priority"`
	Tags           []string  `json:"tags"`
	Reopened       bool      `json:"reopened"`
	OccurredAt     time.Time `json:"occurred_at"`
}
