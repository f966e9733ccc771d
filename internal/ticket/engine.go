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

// Package ticket turns canonical inbound emails into ticket mutations:
// a new ticket for a new conversation, an appended message for a reply.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/sanitize"
	"github.com/supportdesk/mailhook/internal/threading"
)

// Action describes what Process did.
type Action string

const (
	ActionCreated   Action = "created"
	ActionAppended  Action = "appended"
	ActionDuplicate Action = "duplicate"
)

// Result is the outcome of processing one email.
type Result struct {
	Ticket   *models.Ticket
	Message  *models.TicketMessage
	Action   Action
	Match    threading.Match
	Reopened bool
}

// Engine applies inbound emails to the ticket store.
type Engine struct {
	store    Store
	resolver *threading.Resolver
	events   EventPublisher
	now      func() time.Time
}

// NewEngine creates an engine over store. events may be nil.
func NewEngine(store Store, events EventPublisher) *Engine {
	return &Engine{
		store:    store,
		resolver: threading.NewResolver(store),
		events:   events,
		now:      time.Now,
	}
}

// Process creates a ticket or appends to an existing one. Redelivery of an
// already-stored message id returns ActionDuplicate and the existing ticket.
func (e *Engine) Process(ctx context.Context, email *models.Email) (*Result, error) {
	if email == nil || email.MessageID == "" {
		return nil, errors.New("process email: missing message id")
	}
	log := slog.With("provider", email.Provider, "message_id", email.MessageID)

	existing, err := e.store.FindMessageByEmailID(ctx, email.MessageID)
	if err != nil {
		err = storeError("find message", err)
		log.Error("idempotency check failed", "error", err)
		return nil, err
	}
	if existing != nil {
		return e.duplicate(ctx, log, existing)
	}

	t, match, err := e.resolver.Resolve(ctx, email)
	if err != nil {
		err = storeError("resolve thread", err)
		log.Error("threading failed", "error", err)
		return nil, err
	}

	var res *Result
	if t == nil {
		res, err = e.create(ctx, email)
	} else {
		res, err = e.appendTo(ctx, t, email)
	}
	if errors.Is(err, ErrDuplicateMessage) {
		// A concurrent delivery of the same message won the insert.
		existing, ferr := e.store.FindMessageByEmailID(ctx, email.MessageID)
		if ferr != nil || existing == nil {
			err = storeError("reload duplicate message", errors.Join(err, ferr))
			log.Error("duplicate message could not be reloaded", "error", err)
			return nil, err
		}
		return e.duplicate(ctx, log, existing)
	}
	if err != nil {
		err = storeError("apply email", err)
		log.Error("ticket mutation failed", "error", err)
		return nil, err
	}
	res.Match = match

	log.Info("inbound email applied",
		"ticket_id", res.Ticket.ID,
		"action", res.Action,
		"match", match,
		"reopened", res.Reopened,
	)
	e.publish(ctx, email, res)
	return res, nil
}

func (e *Engine) duplicate(ctx context.Context, log *slog.Logger, msg *models.TicketMessage) (*Result, error) {
	t, err := e.store.GetTicket(ctx, msg.TicketID)
	if err != nil {
		err = storeError("get ticket", err)
		log.Error("duplicate lookup failed", "error", err)
		return nil, err
	}
	if t == nil {
		t = &models.Ticket{ID: msg.TicketID}
	}
	log.Info("duplicate delivery ignored", "ticket_id", t.ID)
	return &Result{Ticket: t, Message: msg, Action: ActionDuplicate, Match: threading.MatchNone}, nil
}

// create writes a new ticket and its first message in one transaction.
func (e *Engine) create(ctx context.Context, email *models.Email) (*Result, error) {
	description := sanitize.ExtractDescription(email)
	customerID := strings.ToLower(email.From)

	fields := map[string]any{
		"source":          "email",
		"originalFrom":    email.From,
		"originalSubject": email.Subject,
		"receivedAt":      email.ReceivedAt.UTC().Format(time.RFC3339),
		"provider":        email.Provider,
	}
	if email.RecipientTicketID != "" {
		fields["recipientTicketId"] = email.RecipientTicketID
	}

	nt := models.NewTicket{
		Subject:      sanitize.CleanSubject(email.Subject),
		Description:  description,
		Priority:     InferPriority(email),
		Tags:         InferTags(email),
		CustomerID:   customerID,
		CustomFields: fields,
	}

	res := &Result{Action: ActionCreated}
	err := e.store.WithinTx(ctx, func(tx Store) error {
		t, err := tx.CreateTicket(ctx, nt)
		if err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		msg, err := tx.AppendMessage(ctx, t.ID, models.NewMessage{
			Content:        description,
			AuthorID:       customerID,
			EmailMessageID: email.MessageID,
		})
		if err != nil {
			return fmt.Errorf("append first message: %w", err)
		}
		res.Ticket, res.Message = t, msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// appendTo adds the email to t, reopening t when it was closed. Both writes
// share one transaction.
func (e *Engine) appendTo(ctx context.Context, t *models.Ticket, email *models.Email) (*Result, error) {
	reopen := t.Status == models.StatusClosed

	res := &Result{Action: ActionAppended}
	err := e.store.WithinTx(ctx, func(tx Store) error {
		msg, err := tx.AppendMessage(ctx, t.ID, models.NewMessage{
			Content:        sanitize.ExtractDescription(email),
			AuthorID:       t.CustomerID,
			IsInternal:     false,
			EmailMessageID: email.MessageID,
		})
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		if reopen {
			if err := tx.ReopenAndResetMetrics(ctx, t.ID); err != nil {
				return fmt.Errorf("reopen ticket: %w", err)
			}
		}
		res.Message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated := *t
	if reopen {
		updated.Status = models.StatusOpen
		updated.ResponseTimeSeconds = 0
		updated.UpdatedAt = e.now().UTC()
		res.Reopened = true
	}
	res.Ticket = &updated
	return res, nil
}

func (e *Engine) publish(ctx context.Context, email *models.Email, res *Result) {
	if e.events == nil {
		return
	}
	event := &models.TicketEvent{
		TicketID:       res.Ticket.ID,
		TicketNumber:   res.Ticket.Number,
		Action:         string(res.Action),
		EmailMessageID: email.MessageID,
		Provider:       email.Provider,
		Priority:       res.Ticket.Priority,
		Tags:           res.Ticket.Tags,
		Reopened:       res.Reopened,
		OccurredAt:     e.now().UTC(),
	}
	if err := e.events.PublishTicketEvent(ctx, event); err != nil {
		slog.Warn("ticket event not published",
			"ticket_id", res.Ticket.ID,
			"message_id", email.MessageID,
			"error", err,
		)
	}
}

// storeError tags err as a store failure unless it already is one.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
