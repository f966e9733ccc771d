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

package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/provider"
	"github.com/supportdesk/mailhook/internal/ticket"
)

// --- Mock engine ---

// mockEngine treats a repeated message id as a duplicate.
type mockEngine struct {
	mu   sync.Mutex
	seen map[string]bool
	ids  []string
}

func newMockEngine() *mockEngine {
	return &mockEngine{seen: make(map[string]bool)}
}

func (m *mockEngine) Process(_ context.Context, email *models.Email) (*ticket.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, email.MessageID)
	action := ticket.ActionCreated
	if m.seen[email.MessageID] {
		action = ticket.ActionDuplicate
	}
	m.seen[email.MessageID] = true
	return &ticket.Result{Ticket: &models.Ticket{ID: "t-" + email.MessageID}, Action: action}, nil
}

// --- Test helpers ---

func newFactory(t *testing.T) *provider.Factory {
	t.Helper()
	f, err := provider.NewFactory(provider.Options{
		PlaceholderDomain: "replay.test",
		MailgunSigningKey: "mg-key",
	}, provider.Postmark)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

const (
	postmarkA = `{"MessageID": "a", "From": "a@example.com", "To": "s@example.com", "Subject": "One", "TextBody": "first"}`
	postmarkB = `{"MessageID": "b", "From": "b@example.com", "To": "s@example.com", "Subject": "Two", "TextBody": "second"}`
)

// TestRun_CountsOutcomes verifies processed, duplicate and failed counts and
// lexical file ordering.
func TestRun_CountsOutcomes(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"001-a.json":     postmarkA,
		"002-b.json":     postmarkB,
		"003-a-dup.json": postmarkA,
		"004-bad.json":   `not json at all`,
		"notes.txt":      postmarkA,
	})

	engine := newMockEngine()
	runner := NewRunner(RunnerConfig{Adapters: newFactory(t), Engine: engine})

	res, err := runner.Run(context.Background(), Request{Dir: dir, Provider: provider.Postmark})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Processed != 2 || res.Duplicates != 1 || res.Failed != 1 {
		t.Errorf("counts = processed %d, duplicates %d, failed %d; want 2, 1, 1",
			res.Processed, res.Duplicates, res.Failed)
	}
	if len(res.Files) != 4 {
		t.Fatalf("files = %d, want 4 (*.json only)", len(res.Files))
	}

	wantIDs := []string{"<a>", "<b>", "<a>"}
	if len(engine.ids) != len(wantIDs) {
		t.Fatalf("engine ids = %v, want %v", engine.ids, wantIDs)
	}
	for i, id := range wantIDs {
		if engine.ids[i] != id {
			t.Errorf("engine ids[%d] = %q, want %q", i, engine.ids[i], id)
		}
	}

	bad := res.Files[3]
	if !errors.Is(bad.Err, provider.ErrMalformedPayload) {
		t.Errorf("bad file error = %v, want ErrMalformedPayload", bad.Err)
	}
	if res.Files[0].TicketID != "t-<a>" || res.Files[0].Provider != provider.Postmark {
		t.Errorf("first file = %+v", res.Files[0])
	}
}

// TestRun_AutoDetectSkipsSignature verifies that archived Mailgun payloads
// replay without a fresh signature.
func TestRun_AutoDetectSkipsSignature(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"mg.json": `{"sender": "a@example.com", "recipient": "s@example.com", "subject": "hi",
			"body-plain": "hello", "Message-Id": "<mg-1@example.com>",
			"signature": {"timestamp": "1", "token": "t", "signature": "stale"}}`,
	})

	runner := NewRunner(RunnerConfig{Adapters: newFactory(t), Engine: newMockEngine()})
	res, err := runner.Run(context.Background(), Request{Dir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 1 || res.Files[0].Provider != provider.Mailgun {
		t.Errorf("result = %+v", res.Files)
	}
}

// TestRun_UnknownProvider verifies that an unsupported hint fails each file.
func TestRun_UnknownProvider(t *testing.T) {
	dir := writeFiles(t, map[string]string{"x.json": postmarkA})

	runner := NewRunner(RunnerConfig{Adapters: newFactory(t), Engine: newMockEngine()})
	res, err := runner.Run(context.Background(), Request{Dir: dir, Provider: "pigeon"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 || !errors.Is(res.Files[0].Err, provider.ErrUnsupportedProvider) {
		t.Errorf("result = %+v", res.Files)
	}
}

// TestRun_Cancelled verifies that cancellation stops between files.
func TestRun_Cancelled(t *testing.T) {
	dir := writeFiles(t, map[string]string{"1.json": postmarkA, "2.json": postmarkB})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(RunnerConfig{Adapters: newFactory(t), Engine: newMockEngine(), FileDelay: time.Hour})
	res, err := runner.Run(ctx, Request{Dir: dir})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(res.Files) != 0 {
		t.Errorf("replayed %d files after cancellation", len(res.Files))
	}
}

// TestRun_EmptyDir verifies an empty run is not an error.
func TestRun_EmptyDir(t *testing.T) {
	runner := NewRunner(RunnerConfig{Adapters: newFactory(t), Engine: newMockEngine()})
	res, err := runner.Run(context.Background(), Request{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Files) != 0 || res.Processed != 0 {
		t.Errorf("result = %+v", res)
	}
}
