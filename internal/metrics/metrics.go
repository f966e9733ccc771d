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

// Package metrics holds the Prometheus collectors for inbound mail processing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Webhooks counts webhook deliveries by provider and outcome
	// (created, appended, duplicate, in_flight, malformed, unsupported,
	// signature_invalid, store_unavailable, error).
	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailhook_webhooks_total",
		Help: "Inbound email webhooks processed, by provider and outcome",
	}, []string{"provider", "outcome"})

	// ThreadingMatches counts which threading strategy resolved a message.
	ThreadingMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailhook_threading_matches_total",
		Help: "Threading resolutions by strategy",
	}, []string{"strategy"})

	// DetectionFallbacks counts auto-detected payloads that matched no provider.
	DetectionFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailhook_detection_fallbacks_total",
		Help: "Auto-detected payloads that fell back to the default provider",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
