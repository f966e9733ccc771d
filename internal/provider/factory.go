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

package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/supportdesk/mailhook/internal/metrics"
)

// payloadShape is the set of top-level keys of a JSON payload.
type payloadShape map[string]json.RawMessage

func (s payloadShape) has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s payloadShape) isString(key string) bool {
	v, ok := s[key]
	return ok && len(v) > 0 && v[0] == '"'
}

func (s payloadShape) objectHas(key, inner string) bool {
	v, ok := s[key]
	if !ok || len(v) == 0 || v[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil {
		return false
	}
	_, ok = obj[inner]
	return ok
}

// detector pairs a provider tag with the structural signature unique to it.
type detector struct {
	tag   string
	match func(payloadShape) bool
}

// detectors run in this fixed order; the first match wins.
var detectors = []detector{
	{
		// Capitalized fields.
		tag: Postmark,
		match: func(s payloadShape) bool {
			return s.has("TextBody") || s.has("HtmlBody") || (s.has("From") && s.has("MessageID"))
		},
	},
	{
		// SNS envelope or bare SES mail notification.
		tag: SES,
		match: func(s payloadShape) bool {
			return (s.has("Type") && s.has("Message")) || (s.has("mail") && (s.has("receipt") || s.has("content")))
		},
	},
	{
		// Hyphenated fields.
		tag: Mailgun,
		match: func(s payloadShape) bool {
			return s.has("body-plain") || s.has("body-html") || s.has("stripped-text") || s.has("Message-Id")
		},
	},
	{
		// Raw header block string plus lowercase text/html.
		tag: SendGrid,
		match: func(s payloadShape) bool {
			return s.isString("headers") && (s.has("text") || s.has("html"))
		},
	},
	{
		// snake_case message id.
		tag: CloudMailin,
		match: func(s payloadShape) bool {
			return s.objectHas("headers", "message_id") || s.has("message_id")
		},
	},
}

// Factory hands out adapters by explicit tag or by auto-detection.
type Factory struct {
	adapters   map[string]Adapter
	defaultTag string
}

// NewFactory registers every adapter. defaultProvider is used when
// auto-detection recognises nothing; empty means Postmark.
func NewFactory(opts Options, defaultProvider string) (*Factory, error) {
	f := &Factory{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{
		NewPostmarkAdapter(opts),
		NewSESAdapter(opts),
		NewMailgunAdapter(opts),
		NewSendGridAdapter(opts),
		NewCloudMailinAdapter(opts),
		NewGenericAdapter(opts),
	} {
		f.adapters[a.Provider()] = a
	}

	tag := strings.ToLower(strings.TrimSpace(defaultProvider))
	if tag == "" {
		tag = Postmark
	}
	if _, ok := f.adapters[tag]; !ok || tag == Generic {
		return nil, fmt.Errorf("%w: default provider %q", ErrUnsupportedProvider, defaultProvider)
	}
	f.defaultTag = tag
	return f, nil
}

// Get returns the adapter for hint. An empty hint or "auto" detects the
// provider from raw.
func (f *Factory) Get(hint string, raw []byte) (Adapter, error) {
	tag := strings.ToLower(strings.TrimSpace(hint))
	if tag == "" || tag == Auto {
		return f.Detect(raw), nil
	}
	a, ok := f.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, hint)
	}
	return a, nil
}

// Detect runs the ordered detectors over raw. Unrecognised payloads fall
// back to the default adapter rather than being rejected.
// TODO: decide whether unrecognised shapes should be rejected once every
// sender is tagged explicitly; a new sender is currently misparsed as the
// default provider.
func (f *Factory) Detect(raw []byte) Adapter {
	var shape payloadShape
	if err := json.Unmarshal(raw, &shape); err == nil {
		for _, d := range detectors {
			if d.match(shape) {
				slog.Debug("provider detected", "provider", d.tag)
				return f.adapters[d.tag]
			}
		}
	}

	metrics.DetectionFallbacks.Inc()
	slog.Warn("unrecognized payload, assumed default provider",
		"provider", f.defaultTag,
		"payload_bytes", len(raw),
	)
	return f.adapters[f.defaultTag]
}

// Providers lists the registered provider tags.
func (f *Factory) Providers() []string {
	tags := make([]string, 0, len(f.adapters))
	for tag := range f.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
