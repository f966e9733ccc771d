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

// Package webhook serves the inbound-mail endpoints providers POST to.
// Each request is converted to a canonical email and applied to the ticket
// store synchronously, so the HTTP status tells the provider whether to retry.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/supportdesk/mailhook/internal/metrics"
	"github.com/supportdesk/mailhook/internal/models"
	"github.com/supportdesk/mailhook/internal/provider"
	"github.com/supportdesk/mailhook/internal/ticket"
)

// AdapterSource picks the adapter for a request.
type AdapterSource interface {
	Get(hint string, raw []byte) (provider.Adapter, error)
}

// Processor applies a canonical email to the ticket store.
type Processor interface {
	Process(ctx context.Context, email *models.Email) (*ticket.Result, error)
}

// Claimer guards against concurrent processing of one message id.
type Claimer interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Response is the JSON body returned to providers.
type Response struct {
	Success  bool   `json:"success"`
	TicketID string `json:"ticketId,omitempty"`
	Action   string `json:"action,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler processes inbound email webhooks.
type Handler struct {
	adapters     AdapterSource
	engine       Processor
	claims       Claimer
	maxBodyBytes int64
}

// NewHandler creates an inbound webhook handler. claims may be nil.
func NewHandler(adapters AdapterSource, engine Processor, claims Claimer, maxBodyBytes int64) *Handler {
	return &Handler{
		adapters:     adapters,
		engine:       engine,
		claims:       claims,
		maxBodyBytes: maxBodyBytes,
	}
}

// ServeInbound handles POST /inbound/{provider}. An empty or "auto"
// provider detects the sender from the payload.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	hint := r.PathValue("provider")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, "", "too_large", http.StatusRequestEntityTooLarge, err)
			return
		}
		h.reject(w, "", "error", http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	adapter, err := h.adapters.Get(hint, body)
	if err != nil {
		h.reject(w, "", "unsupported", http.StatusNotFound, err)
		return
	}
	tag := adapter.Provider()

	if !adapter.ValidateWebhook(body, r.Header) {
		h.reject(w, tag, "signature_invalid", http.StatusUnauthorized, provider.ErrSignatureInvalid)
		return
	}

	email, err := adapter.Convert(body)
	if err != nil {
		status, outcome := http.StatusInternalServerError, "error"
		if errors.Is(err, provider.ErrMalformedPayload) {
			status, outcome = http.StatusBadRequest, "malformed"
		}
		h.reject(w, tag, outcome, status, err)
		return
	}

	if h.claims != nil {
		claimed, err := h.claims.Claim(r.Context(), email.MessageID)
		switch {
		case err != nil:
			slog.Warn("in-flight claim unavailable, processing anyway",
				"provider", tag,
				"message_id", email.MessageID,
				"error", err,
			)
		case !claimed:
			h.reject(w, tag, "in_flight", http.StatusConflict,
				fmt.Errorf("message %s is already being processed", email.MessageID))
			return
		default:
			defer h.release(context.WithoutCancel(r.Context()), email.MessageID)
		}
	}

	res, err := h.engine.Process(r.Context(), email)
	if err != nil {
		status, outcome := http.StatusInternalServerError, "error"
		if errors.Is(err, ticket.ErrStoreUnavailable) {
			status, outcome = http.StatusServiceUnavailable, "store_unavailable"
		}
		h.reject(w, tag, outcome, status, err)
		return
	}

	metrics.Webhooks.WithLabelValues(tag, string(res.Action)).Inc()
	writeJSON(w, http.StatusOK, Response{
		Success:  true,
		TicketID: res.Ticket.ID,
		Action:   string(res.Action),
	})
}

func (h *Handler) release(ctx context.Context, messageID string) {
	if err := h.claims.Release(ctx, messageID); err != nil {
		slog.Warn("failed to release in-flight claim", "message_id", messageID, "error", err)
	}
}

// unknownProvider labels failures that happen before an adapter is chosen,
// keeping arbitrary path segments out of metric labels.
const unknownProvider = "unknown"

// reject logs err, counts the outcome and writes an error response.
func (h *Handler) reject(w http.ResponseWriter, tag, outcome string, status int, err error) {
	if tag == "" {
		tag = unknownProvider
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "inbound webhook rejected",
		"provider", tag,
		"outcome", outcome,
		"status", status,
		"error", err,
	)
	metrics.Webhooks.WithLabelValues(tag, outcome).Inc()
	writeJSON(w, status, Response{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// Routes registers the inbound endpoints on mux.
func Routes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("/inbound/{provider}", handler.ServeInbound)
	mux.HandleFunc("/inbound", handler.ServeInbound)
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	Routes(mux, handler)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
