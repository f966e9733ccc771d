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

// Mailhook webhook replay command.
//
// Standalone CLI tool that re-applies archived webhook payloads to the
// ticket store, for recovering deliveries captured during an outage.
// Messages already stored are reported as duplicates.
//
// Usage:
//
//	go run ./cmd/replay/ --dir /var/spool/mailhook [--provider postmark] [--pattern '*.json'] [--delay 50ms]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/supportdesk/mailhook/internal/config"
	"github.com/supportdesk/mailhook/internal/provider"
	"github.com/supportdesk/mailhook/internal/queue"
	"github.com/supportdesk/mailhook/internal/replay"
	"github.com/supportdesk/mailhook/internal/store"
	"github.com/supportdesk/mailhook/internal/ticket"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	dirFlag := flag.String("dir", "", "Directory of archived webhook payloads (required)")
	providerFlag := flag.String("provider", provider.Auto, "Provider tag, or auto to detect per file")
	patternFlag := flag.String("pattern", "*.json", "Glob of payload files within --dir")
	delayFlag := flag.Duration("delay", 0, "Pause between files")
	noEventsFlag := flag.Bool("no-events", false, "Do not publish ticket events for replayed mail")
	flag.Parse()

	if *dirFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --dir is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	tickets, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ticket store", "error", err)
		os.Exit(1)
	}

	// --- Event publisher (optional) ---
	var events ticket.EventPublisher
	if !*noEventsFlag {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
		if err := publisher.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		events = publisher
	}

	factory, err := provider.NewFactory(provider.Options{
		PlaceholderDomain: cfg.PlaceholderDomain,
		MailgunSigningKey: cfg.MailgunSigningKey,
	}, cfg.DefaultProvider)
	if err != nil {
		slog.Error("failed to build provider adapters", "error", err)
		os.Exit(1)
	}

	// --- Run Replay ---
	runner := replay.NewRunner(replay.RunnerConfig{
		Adapters:  factory,
		Engine:    ticket.NewEngine(tickets, events),
		FileDelay: *delayFlag,
	})

	result, err := runner.Run(ctx, replay.Request{
		Dir:      *dirFlag,
		Pattern:  *patternFlag,
		Provider: *providerFlag,
	})
	if err != nil {
		slog.Error("replay aborted", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	for _, fr := range result.Files {
		if fr.Err != nil {
			slog.Info("file result", "file", fr.Path, "provider", fr.Provider, "error", fr.Err)
			continue
		}
		slog.Info("file result",
			"file", fr.Path,
			"provider", fr.Provider,
			"action", fr.Action,
			"ticket_id", fr.TicketID,
		)
	}

	fmt.Printf("\nReplay complete: %d processed, %d duplicate, %d failed in %s\n",
		result.Processed, result.Duplicates, result.Failed, result.Elapsed.Round(time.Millisecond))

	if result.Failed > 0 {
		os.Exit(2)
	}
}
