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

package ticket

import (
	"context"
	"errors"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/threading"
)

var (
	// ErrDuplicateMessage is returned by a Store when a message with the same
	// email message id already exists. The engine treats it as success.
	ErrDuplicateMessage = errors.New("duplicate email message")

	// ErrStoreUnavailable wraps every other persistence failure.
	ErrStoreUnavailable = errors.New("ticket store unavailable")
)

// Store persists tickets and their messages. Lookups return (nil, nil)
// when nothing matches.
type Store interface {
	threading.Lookup

	CreateTicket(ctx context.Context, t models.NewTicket) (*models.Ticket, error)
	AppendMessage(ctx context.Context, ticketID string, m models.NewMessage) (*models.TicketMessage, error)
	ReopenAndResetMetrics(ctx context.Context, ticketID string) error

	// WithinTx runs fn against a Store bound to one transaction, committing
	// when fn returns nil and rolling back otherwise.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// EventPublisher announces ticket changes to downstream workers.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, event *models.TicketEvent) error
}
