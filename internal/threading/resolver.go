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

// Package threading links an inbound email to the support ticket it replies
// to, using RFC 5322 threading headers first and the subject line last.
package threading

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/supportdesk/mailhook/internal/metrics"
	"github.com/supportdesk/mailhook/internal/models"
)

// Match names the strategy that resolved a ticket.
type Match string

const (
	MatchInReplyTo  Match = "in_reply_to"
	MatchReferences Match = "references"
	MatchSubject    Match = "subject"
	MatchNone       Match = "none"
)

// Lookup is the read side of the ticket store. Not-found is (nil, nil).
type Lookup interface {
	FindMessageByEmailID(ctx context.Context, emailMessageID string) (*models.TicketMessage, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	FindTicketBySubjectID(ctx context.Context, ref string) (*models.Ticket, error)
}

// subjectPatterns are tried in order; only the first that matches is looked up.
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`),
	regexp.MustCompile(`\[#([^\]]+)\]`),
	regexp.MustCompile(`(?i)ticket:?\s*#([0-9a-z-]+)`),
	regexp.MustCompile(`#(\d+)\b`),
}

// Resolver finds the existing ticket an email belongs to.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver reading from lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve returns the ticket email threads into, or (nil, MatchNone, nil)
// when it starts a new conversation. Lookup errors are returned as-is.
func (r *Resolver) Resolve(ctx context.Context, email *models.Email) (*models.Ticket, Match, error) {
	t, match, err := r.resolve(ctx, email)
	if err != nil {
		return nil, MatchNone, err
	}
	metrics.ThreadingMatches.WithLabelValues(string(match)).Inc()
	return t, match, nil
}

func (r *Resolver) resolve(ctx context.Context, email *models.Email) (*models.Ticket, Match, error) {
	if email.InReplyTo != "" {
		t, err := r.byMessageID(ctx, email.InReplyTo)
		if err != nil {
			return nil, MatchNone, err
		}
		if t != nil {
			return t, MatchInReplyTo, nil
		}
	}

	for _, ref := range email.References {
		if ref == email.InReplyTo {
			continue
		}
		t, err := r.byMessageID(ctx, ref)
		if err != nil {
			return nil, MatchNone, err
		}
		if t != nil {
			return t, MatchReferences, nil
		}
	}

	if ref, ok := SubjectTicketRef(email.Subject); ok {
		t, err := r.lookup.FindTicketBySubjectID(ctx, ref)
		if err != nil {
			return nil, MatchNone, fmt.Errorf("find ticket by subject ref %q: %w", ref, err)
		}
		if t != nil {
			return t, MatchSubject, nil
		}
		slog.Debug("subject ticket reference not found", "ref", ref)
	}

	return nil, MatchNone, nil
}

// byMessageID maps a message id to its ticket. A message whose ticket has
// gone away counts as no match.
func (r *Resolver) byMessageID(ctx context.Context, id string) (*models.Ticket, error) {
	msg, err := r.lookup.FindMessageByEmailID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	if msg == nil {
		return nil, nil
	}
	t, err := r.lookup.GetTicket(ctx, msg.TicketID)
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", msg.TicketID, err)
	}
	if t == nil {
		slog.Warn("message references missing ticket", "message_id", id, "ticket_id", msg.TicketID)
	}
	return t, nil
}

// SubjectTicketRef returns the capture of the first subject pattern that
// matches subject.
func SubjectTicketRef(subject string) (string, bool) {
	for _, re := range subjectPatterns {
		m := re.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		ref := strings.TrimSpace(m[1])
		return ref, ref != ""
	}
	return "", false
}
