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
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/provider"
	"github.com/supportdesk/mailhook/internal/threading"
)

// memStore is an in-memory Store. WithinTx snapshots state and restores it
// when fn fails.
type memStore struct {
	tickets  map[string]*models.Ticket
	messages []*models.TicketMessage
	nextID   int

	failAppend error
	failReopen error
	failFind   error

	// raceMessage is already stored but hidden from lookups until an insert
	// collides with it, like a concurrent delivery committing first.
	raceMessage *models.TicketMessage
}

func newMemStore() *memStore {
	return &memStore{tickets: make(map[string]*models.Ticket)}
}

func (m *memStore) FindMessageByEmailID(_ context.Context, id string) (*models.TicketMessage, error) {
	if m.failFind != nil {
		return nil, m.failFind
	}
	for _, msg := range m.messages {
		if msg == m.raceMessage {
			continue
		}
		if msg.EmailMessageID == id {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	if t, ok := m.tickets[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindTicketBySubjectID(_ context.Context, ref string) (*models.Ticket, error) {
	for _, t := range m.tickets {
		if t.ID == ref || fmt.Sprint(t.Number) == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateTicket(_ context.Context, nt models.NewTicket) (*models.Ticket, error) {
	m.nextID++
	t := &models.Ticket{
		ID:           fmt.Sprintf("t-%d", m.nextID),
		Number:       int64(m.nextID),
		Subject:      nt.Subject,
		Description:  nt.Description,
		Status:       models.StatusOpen,
		Priority:     nt.Priority,
		Tags:         nt.Tags,
		CustomerID:   nt.CustomerID,
		CustomFields: nt.CustomFields,
	}
	m.tickets[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *memStore) AppendMessage(_ context.Context, ticketID string, nm models.NewMessage) (*models.TicketMessage, error) {
	if m.failAppend != nil {
		return nil, m.failAppend
	}
	for _, msg := range m.messages {
		if msg.EmailMessageID == nm.EmailMessageID {
			if msg == m.raceMessage {
				m.raceMessage = nil
			}
			return nil, fmt.Errorf("insert message: %w", ErrDuplicateMessage)
		}
	}
	m.nextID++
	msg := &models.TicketMessage{
		ID:             fmt.Sprintf("m-%d", m.nextID),
		TicketID:       ticketID,
		Content:        nm.Content,
		AuthorID:       nm.AuthorID,
		IsInternal:     nm.IsInternal,
		EmailMessageID: nm.EmailMessageID,
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) ReopenAndResetMetrics(_ context.Context, ticketID string) error {
	if m.failReopen != nil {
		return m.failReopen
	}
	t, ok := m.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s not found", ticketID)
	}
	t.Status = models.StatusOpen
	t.ResponseTimeSeconds = 0
	return nil
}

func (m *memStore) WithinTx(_ context.Context, fn func(Store) error) error {
	tickets := make(map[string]*models.Ticket, len(m.tickets))
	for id, t := range m.tickets {
		cp := *t
		tickets[id] = &cp
	}
	messages := append([]*models.TicketMessage(nil), m.messages...)

	if err := fn(m); err != nil {
		m.tickets, m.messages = tickets, messages
		return err
	}
	return nil
}

type recordingPublisher struct {
	events []*models.TicketEvent
	err    error
}

func (p *recordingPublisher) PublishTicketEvent(_ context.Context, e *models.TicketEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func newEmail(messageID, subject, body string) *models.Email {
	return &models.Email{
		Provider:    "postmark",
		From:        "Customer@Example.com",
		To:          "help@support.example",
		Subject:     subject,
		TextBody:    body,
		MessageID:   messageID,
		References:  []string{},
		Attachments: []models.Attachment{},
		ReceivedAt:  time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

func TestProcess_CreatesTicket(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	e := NewEngine(store, pub)

	email := newEmail("<m1@example.com>", "Re: [#x] Urgent: invoice error", "Payment failed twice\n\nThanks,\nCarol")
	email.To = "ticket-abc123@support.example"
	email.RecipientTicketID = "abc123"

	res, err := e.Process(context.Background(), email)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionCreated || res.Match != threading.MatchNone {
		t.Errorf("action = %q, match = %q", res.Action, res.Match)
	}

	tk := res.Ticket
	if tk.Subject != "Urgent: invoice error" {
		t.Errorf("subject = %q", tk.Subject)
	}
	if tk.Description != "Payment failed twice" {
		t.Errorf("description = %q", tk.Description)
	}
	if tk.Priority != models.PriorityUrgent {
		t.Errorf("priority = %q, want URGENT", tk.Priority)
	}
	if want := []string{"billing", "bug"}; !reflect.DeepEqual(tk.Tags, want) {
		t.Errorf("tags = %v, want %v", tk.Tags, want)
	}
	if tk.CustomerID != "customer@example.com" {
		t.Errorf("customerID = %q", tk.CustomerID)
	}

	wantFields := map[string]any{
		"source":            "email",
		"originalFrom":      "Customer@Example.com",
		"originalSubject":   "Re: [#x] Urgent: invoice error",
		"receivedAt":        "2024-03-01T10:30:00Z",
		"provider":          "postmark",
		"recipientTicketId": "abc123",
	}
	if !reflect.DeepEqual(tk.CustomFields, wantFields) {
		t.Errorf("customFields = %v, want %v", tk.CustomFields, wantFields)
	}

	if len(store.messages) != 1 || store.messages[0].EmailMessageID != "<m1@example.com>" {
		t.Fatalf("messages = %+v", store.messages)
	}
	if store.messages[0].TicketID != tk.ID {
		t.Errorf("message ticket = %q, want %q", store.messages[0].TicketID, tk.ID)
	}

	if len(pub.events) != 1 || pub.events[0].Action != "created" || pub.events[0].TicketID != tk.ID {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, nil)
	email := newEmail("<m1@example.com>", "Help", "It broke")

	first, err := e.Process(context.Background(), email)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := e.Process(context.Background(), email)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if second.Action != ActionDuplicate {
		t.Errorf("second action = %q, want duplicate", second.Action)
	}
	if second.Ticket.ID != first.Ticket.ID {
		t.Errorf("second ticket = %q, want %q", second.Ticket.ID, first.Ticket.ID)
	}
	if len(store.tickets) != 1 || len(store.messages) != 1 {
		t.Errorf("tickets = %d, messages = %d; want 1 and 1", len(store.tickets), len(store.messages))
	}
}

func TestProcess_ConcurrentDuplicateRecovered(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, nil)

	store.tickets["t-other"] = &models.Ticket{ID: "t-other", Status: models.StatusOpen}
	store.raceMessage = &models.TicketMessage{ID: "m-race", TicketID: "t-other", EmailMessageID: "<m1@example.com>"}
	store.messages = append(store.messages, store.raceMessage)

	res, err := e.Process(context.Background(), newEmail("<m1@example.com>", "Help", "It broke"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionDuplicate || res.Ticket.ID != "t-other" {
		t.Errorf("result = %q on %q, want duplicate on t-other", res.Action, res.Ticket.ID)
	}
	if len(store.tickets) != 1 || len(store.messages) != 1 {
		t.Errorf("tickets = %d, messages = %d; want the losing insert rolled back", len(store.tickets), len(store.messages))
	}
}

func TestProcess_ReopensClosedTicket(t *testing.T) {
	store := newMemStore()
	store.tickets["t1"] = &models.Ticket{
		ID:                  "t1",
		Status:              models.StatusClosed,
		CustomerID:          "customer@example.com",
		ResponseTimeSeconds: 5400,
	}
	store.messages = append(store.messages, &models.TicketMessage{ID: "m0", TicketID: "t1", EmailMessageID: "<m1@example.com>"})

	email := newEmail("<m2@example.com>", "Re: Help", "Still broken")
	email.InReplyTo = "<m1@example.com>"

	res, err := NewEngine(store, nil).Process(context.Background(), email)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionAppended || !res.Reopened || res.Match != threading.MatchInReplyTo {
		t.Errorf("result = %+v", res)
	}
	if res.Ticket.Status != models.StatusOpen || res.Ticket.ResponseTimeSeconds != 0 {
		t.Errorf("returned ticket = %+v", res.Ticket)
	}
	stored := store.tickets["t1"]
	if stored.Status != models.StatusOpen || stored.ResponseTimeSeconds != 0 {
		t.Errorf("stored ticket status = %q, response = %d", stored.Status, stored.ResponseTimeSeconds)
	}

	msg := store.messages[len(store.messages)-1]
	if msg.AuthorID != "customer@example.com" || msg.IsInternal || msg.EmailMessageID != "<m2@example.com>" {
		t.Errorf("appended message = %+v", msg)
	}
}

func TestProcess_ReopenFailureRollsBackMessage(t *testing.T) {
	store := newMemStore()
	store.tickets["t1"] = &models.Ticket{ID: "t1", Status: models.StatusClosed}
	store.messages = append(store.messages, &models.TicketMessage{ID: "m0", TicketID: "t1", EmailMessageID: "<m1@example.com>"})
	store.failReopen = errors.New("deadlock detected")

	email := newEmail("<m2@example.com>", "Re: Help", "Still broken")
	email.InReplyTo = "<m1@example.com>"

	_, err := NewEngine(store, nil).Process(context.Background(), email)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
	if len(store.messages) != 1 {
		t.Errorf("messages = %d, want message rolled back", len(store.messages))
	}
	if store.tickets["t1"].Status != models.StatusClosed {
		t.Errorf("status = %q, want closed", store.tickets["t1"].Status)
	}
}

func TestProcess_AppendToOpenTicketKeepsMetrics(t *testing.T) {
	store := newMemStore()
	store.tickets["t1"] = &models.Ticket{ID: "t1", Status: models.StatusPending, ResponseTimeSeconds: 60}
	store.messages = append(store.messages, &models.TicketMessage{ID: "m0", TicketID: "t1", EmailMessageID: "<m1@example.com>"})

	email := newEmail("<m2@example.com>", "Re: Help", "More detail")
	email.References = []string{"<m1@example.com>"}

	res, err := NewEngine(store, nil).Process(context.Background(), email)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Reopened || res.Ticket.Status != models.StatusPending || res.Ticket.ResponseTimeSeconds != 60 {
		t.Errorf("ticket = %+v, reopened = %v", res.Ticket, res.Reopened)
	}
	if res.Match != threading.MatchReferences {
		t.Errorf("match = %q, want references", res.Match)
	}
}

func TestProcess_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("connection refused")

	_, err := NewEngine(store, nil).Process(context.Background(), newEmail("<m1@example.com>", "Help", "x"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
	if !errors.Is(err, store.failFind) {
		t.Errorf("error = %v, want cause preserved", err)
	}
}

func TestProcess_PublishFailureDoesNotFail(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	res, err := NewEngine(newMemStore(), pub).Process(context.Background(), newEmail("<m1@example.com>", "Help", "x"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionCreated || len(pub.events) != 1 {
		t.Errorf("action = %q, events = %d", res.Action, len(pub.events))
	}
}

// TestPostmarkReplyEndToEnd runs a Postmark reply through the adapter and
// the engine against a ticket that already owns the replied-to message.
func TestPostmarkReplyEndToEnd(t *testing.T) {
	const ticketID = "123e4567-e89b-12d3-a456-426614174000"

	store := newMemStore()
	store.tickets[ticketID] = &models.Ticket{ID: ticketID, Status: models.StatusOpen, CustomerID: "a@x.com"}
	store.tickets["other"] = &models.Ticket{ID: "other", Status: models.StatusOpen}
	store.messages = append(store.messages, &models.TicketMessage{ID: "m0", TicketID: ticketID, EmailMessageID: "<m1>"})

	raw := fmt.Sprintf(`{
	  "From": "a@x.com",
	  "To": "ticket-%[1]s@y.com",
	  "Subject": "Re: [#%[1]s] Help",
	  "TextBody": "> old text\nNew info",
	  "MessageID": "<m2>",
	  "Headers": [{"Name": "In-Reply-To", "Value": "<m1>"}]
	}`, ticketID)

	email, err := provider.NewPostmarkAdapter(provider.Options{}).Convert([]byte(raw))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	res, err := NewEngine(store, nil).Process(context.Background(), email)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionAppended || res.Ticket.ID != ticketID {
		t.Fatalf("result = %q on %q, want appended on %s", res.Action, res.Ticket.ID, ticketID)
	}

	msg := store.messages[len(store.messages)-1]
	if msg.TicketID != ticketID || msg.Content != "New info" || msg.EmailMessageID != "<m2>" {
		t.Errorf("appended message = %+v", msg)
	}
}
