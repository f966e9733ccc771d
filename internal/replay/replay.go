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

// Package replay re-runs archived webhook payloads through the ticket engine.
// It is used to recover deliveries that were captured while the service or
// its database was down. Already-applied messages come back as duplicates.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/provider"
	"github.com/supportdesk/mailhook/internal/ticket"
)

// AdapterSource picks the adapter for a payload.
type AdapterSource interface {
	Get(hint string, raw []byte) (provider.Adapter, error)
}

// Processor applies a canonical email to the ticket store.
type Processor interface {
	Process(ctx context.Context, email *models.Email) (*ticket.Result, error)
}

// Request defines the scope of a replay run.
type Request struct {
	Dir      string // directory holding archived payloads
	Pattern  string // glob within Dir; empty means *.json
	Provider string // provider hint; empty or "auto" detects per file
}

// Result summarises a completed replay run.
type Result struct {
	Files      []FileResult
	Processed  int // created or appended
	Duplicates int
	Failed     int
	Elapsed    time.Duration
}

// FileResult tracks the outcome for one payload file.
type FileResult struct {
	Path     string
	Provider string
	TicketID string
	Action   ticket.Action
	Err      error
}

// Runner replays payload files.
type Runner struct {
	adapters  AdapterSource
	engine    Processor
	fileDelay time.Duration
}

// RunnerConfig holds dependencies for the replay runner.
type RunnerConfig struct {
	Adapters  AdapterSource
	Engine    Processor
	FileDelay time.Duration // pause between files to spare the database
}

// NewRunner creates a replay runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		adapters:  cfg.Adapters,
		engine:    cfg.Engine,
		fileDelay: cfg.FileDelay,
	}
}

// Run replays every matching file in lexical order. Per-file failures are
// counted and do not stop the run; only a bad pattern or a cancelled context
// returns an error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	pattern := req.Pattern
	if pattern == "" {
		pattern = "*.json"
	}
	paths, err := filepath.Glob(filepath.Join(req.Dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list payloads in %s: %w", req.Dir, err)
	}

	slog.Info("starting replay",
		"dir", req.Dir,
		"pattern", pattern,
		"provider", req.Provider,
		"files", len(paths),
	)

	result := &Result{}
	for i, path := range paths {
		if i > 0 && r.fileDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.fileDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fr := r.replayFile(ctx, path, req.Provider)
		result.Files = append(result.Files, fr)

		switch {
		case fr.Err != nil:
			result.Failed++
			slog.Warn("replay: payload failed",
				"file", path,
				"provider", fr.Provider,
				"error", fr.Err,
			)
		case fr.Action == ticket.ActionDuplicate:
			result.Duplicates++
		default:
			result.Processed++
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("replay complete",
		"processed", result.Processed,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// replayFile converts and applies one payload. Signatures are not checked:
// archived Mailgun timestamps are outside the replay-protection window by
// the time they are replayed.
func (r *Runner) replayFile(ctx context.Context, path, hint string) FileResult {
	fr := FileResult{Path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		fr.Err = fmt.Errorf("read payload: %w", err)
		return fr
	}

	adapter, err := r.adapters.Get(hint, raw)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Provider = adapter.Provider()

	email, err := adapter.Convert(raw)
	if err != nil {
		fr.Err = err
		return fr
	}

	res, err := r.engine.Process(ctx, email)
	if err != nil {
		fr.Err = err
		return fr
	}

	fr.Action = res.Action
	if res.Ticket != nil {
		fr.TicketID = res.Ticket.ID
	}
	return fr
}
