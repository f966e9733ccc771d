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

// Package queue publishes ticket events to Redis as Celery-compatible tasks.
// Python summarization workers consume them with `celery worker -Q tickets`.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/supportdesk/mailhook/internal/models"
)

// SummarizeTask is the Celery task name workers register.
const SummarizeTask = "summarizer.tasks.summarize_ticket"

// Publisher sends ticket events to Redis in Celery task format.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
	newID     func() string
}

// NewPublisher creates a publisher targeting queueName.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
		newID:     func() string { return uuid.New().String() },
	}
}

// celeryTask is the task body Celery expects.
type celeryTask struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries"`
	ETA     *string        `json:"eta"`
}

// celeryMessage wraps a task for the Redis transport.
type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// encode builds the Redis list entry for event under taskID.
func (p *Publisher) encode(taskID string, event *models.TicketEvent) ([]byte, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket event: %w", err)
	}

	taskBody, err := json.Marshal(celeryTask{
		ID:     taskID,
		Task:   SummarizeTask,
		Args:   []any{string(eventJSON)},
		Kwargs: map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    SummarizeTask,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       p.queueName,
			"routing_key":    p.queueName,
			"delivery_info": map[string]string{
				"exchange":    p.queueName,
				"routing_key": p.queueName,
			},
		},
	}

	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal celery message: %w", err)
	}
	return out, nil
}

// PublishTicketEvent pushes event onto the queue as a summarize task.
func (p *Publisher) PublishTicketEvent(ctx context.Context, event *models.TicketEvent) error {
	taskID := p.newID()
	msg, err := p.encode(taskID, event)
	if err != nil {
		return err
	}

	// Celery's Redis transport consumes with BRPOP, so producers LPUSH.
	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published ticket event",
		"task_id", taskID,
		"ticket_id", event.TicketID,
		"action", event.Action,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
