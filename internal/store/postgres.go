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

// Package store provides the Postgres-backed ticket and message store.
// The UNIQUE constraint on ticket_messages.email_message_id is what makes
// redelivered webhooks idempotent.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/ticket"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ticket.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

var _ ticket.Store = (*Store)(nil)

// NewStore creates a store backed by pool and ensures the schema exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool, q: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ticket schema: %w", err)
	}
	slog.Info("ticket store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id                    TEXT PRIMARY KEY,
			number                BIGSERIAL UNIQUE,
			subject               TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			status                TEXT NOT NULL DEFAULT 'open',
			priority              TEXT NOT NULL DEFAULT 'MEDIUM',
			tags                  TEXT[] NOT NULL DEFAULT '{}',
			customer_id           TEXT NOT NULL DEFAULT '',
			response_time_seconds INTEGER NOT NULL DEFAULT 0,
			custom_fields         JSONB NOT NULL DEFAULT '{}',
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_customer ON tickets(customer_id);

		CREATE TABLE IF NOT EXISTS ticket_messages (
			id               TEXT PRIMARY KEY,
			ticket_id        TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			content          TEXT NOT NULL DEFAULT '',
			author_id        TEXT NOT NULL DEFAULT '',
			is_internal      BOOLEAN NOT NULL DEFAULT FALSE,
			email_message_id TEXT UNIQUE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id);
	`)
	return err
}

// WithinTx implements ticket.Store. Nested calls reuse the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ticket.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{q: tx})
	})
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

const ticketColumns = `
	id, number, subject, description, status, priority, tags, customer_id,
	response_time_seconds, custom_fields, created_at, updated_at`

const messageColumns = `
	id, ticket_id, content, author_id, is_internal, COALESCE(email_message_id, ''), created_at`

// GetTicket implements ticket.Store.
func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	row := s.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

// FindTicketBySubjectID implements ticket.Store. ref may be a ticket id or
// a ticket number.
func (s *Store) FindTicketBySubjectID(ctx context.Context, ref string) (*models.Ticket, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1 OR number::text = $1
		LIMIT 1
	`, strings.ToLower(ref))
	return scanTicket(row)
}

// FindMessageByEmailID implements ticket.Store.
func (s *Store) FindMessageByEmailID(ctx context.Context, emailMessageID string) (*models.TicketMessage, error) {
	row := s.q.QueryRow(ctx, `SELECT `+messageColumns+` FROM ticket_messages WHERE email_message_id = $1`, emailMessageID)
	return scanMessage(row)
}

// CreateTicket implements ticket.Store.
func (s *Store) CreateTicket(ctx context.Context, nt models.NewTicket) (*models.Ticket, error) {
	t := &models.Ticket{
		ID:           uuid.NewString(),
		Subject:      nt.Subject,
		Description:  nt.Description,
		Status:       models.StatusOpen,
		Priority:     nt.Priority,
		Tags:         nt.Tags,
		CustomerID:   nt.CustomerID,
		CustomFields: nt.CustomFields,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.CustomFields == nil {
		t.CustomFields = map[string]any{}
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}

	err := s.q.QueryRow(ctx, `
		INSERT INTO tickets
			(id, subject, description, status, priority, tags, customer_id, custom_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING number, created_at, updated_at
	`, t.ID, t.Subject, t.Description, string(t.Status), string(t.Priority), t.Tags, t.CustomerID, t.CustomFields,
	).Scan(&t.Number, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// AppendMessage implements ticket.Store. A repeated email message id
// returns ticket.ErrDuplicateMessage.
func (s *Store) AppendMessage(ctx context.Context, ticketID string, nm models.NewMessage) (*models.TicketMessage, error) {
	m := &models.TicketMessage{
		ID:             uuid.NewString(),
		TicketID:       ticketID,
		Content:        nm.Content,
		AuthorID:       nm.AuthorID,
		IsInternal:     nm.IsInternal,
		EmailMessageID: nm.EmailMessageID,
	}

	var emailID any
	if m.EmailMessageID != "" {
		emailID = m.EmailMessageID
	}

	err := s.q.QueryRow(ctx, `
		INSERT INTO ticket_messages
			(id, ticket_id, content, author_id, is_internal, email_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, m.ID, m.TicketID, m.Content, m.AuthorID, m.IsInternal, emailID).Scan(&m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("insert message %s: %w", m.EmailMessageID, ticket.ErrDuplicateMessage)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.q.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id = $1`, ticketID); err != nil {
		return nil, fmt.Errorf("touch ticket: %w", err)
	}
	return m, nil
}

// ReopenAndResetMetrics implements ticket.Store.
func (s *Store) ReopenAndResetMetrics(ctx context.Context, ticketID string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tickets
		SET status = $1, response_time_seconds = 0, updated_at = NOW()
		WHERE id = $2
	`, string(models.StatusOpen), ticketID)
	if err != nil {
		return fmt.Errorf("reopen ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reopen ticket %s: not found", ticketID)
	}
	return nil
}

// scanTicket scans a single row into a Ticket. No row is (nil, nil).
func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var (
		t        models.Ticket
		status   string
		priority string
	)
	err := row.Scan(
		&t.ID, &t.Number, &t.Subject, &t.Description, &status, &priority, &t.Tags,
		&t.CustomerID, &t.ResponseTimeSeconds, &t.CustomFields, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.Status(status)
	t.Priority = models.Priority(priority)
	return &t, nil
}

// scanMessage scans a single row into a TicketMessage. No row is (nil, nil).
func scanMessage(row pgx.Row) (*models.TicketMessage, error) {
	var m models.TicketMessage
	err := row.Scan(&m.ID, &m.TicketID, &m.Content, &m.AuthorID, &m.IsInternal, &m.EmailMessageID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
