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
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/supportdesk/mailhook/internal/models"
)

var ticketAddressPattern = regexp.MustCompile(`(?i)ticket-([0-9a-f-]+)@`)

// ExtractTicketID returns the id from a ticket-<id>@<any-domain> address.
// The domain is not checked.
func ExtractTicketID(recipient string) (string, bool) {
	m := ticketAddressPattern.FindStringSubmatch(recipient)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// NormalizeMessageID returns id in bracketed form, or "" for blank input.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Trim(id, "\"")
	id = strings.Trim(id, "<>")
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

// SplitReferences splits a References (or In-Reply-To) header value on
// whitespace and commas. Order is kept and repeats are dropped.
func SplitReferences(values ...string) []string {
	seen := make(map[string]struct{})
	refs := []string{}
	for _, v := range values {
		fields := strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
		for _, f := range fields {
			id := NormalizeMessageID(f)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			refs = append(refs, id)
		}
	}
	return refs
}

func firstMessageID(v string) string {
	if refs := SplitReferences(v); len(refs) > 0 {
		return refs[0]
	}
	return ""
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(v); err == nil {
		return t, true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05 -0700"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

// parseAddress splits "Name <addr>" into its parts, falling back to the raw value.
func parseAddress(v string) (address, name string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ""
	}
	if a, err := mail.ParseAddress(v); err == nil {
		return a.Address, a.Name
	}
	return v, ""
}

// pickRecipient returns the ticket-<id>@ address from a recipient list when
// one is present, otherwise the first address.
func pickRecipient(values ...string) string {
	var first string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(v)
		if err != nil {
			if first == "" {
				first = v
			}
			if _, ok := ExtractTicketID(v); ok {
				return v
			}
			continue
		}
		for _, a := range addrs {
			if first == "" {
				first = a.Address
			}
			if _, ok := ExtractTicketID(a.Address); ok {
				return a.Address
			}
		}
	}
	return first
}

// decodeAttachment base64-decodes content. An undecodable value yields an
// empty buffer rather than an error.
func decodeAttachment(provider, filename, contentType, content string, size int) models.Attachment {
	data, err := decodeBase64(content)
	if err != nil {
		slog.Debug("attachment content not decodable, keeping empty buffer",
			"provider", provider,
			"filename", filename,
			"error", err,
		)
		data = []byte{}
	}
	if size <= 0 {
		size = len(data)
	}
	return models.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     data,
		Size:        size,
	}
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return []byte{}, nil
	}
	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// flexString reads a JSON value that may be a string, a number or an array
// of strings (first element wins).
func flexString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// flexStrings reads a JSON value that may be a string or an array of strings.
func flexStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	if s := flexString(raw); s != "" {
		return []string{s}
	}
	return nil
}

// flexInt reads a JSON number or numeric string.
func flexInt(raw json.RawMessage) int {
	s := strings.TrimSpace(flexString(raw))
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// jsonString reads a JSON string value. Any other JSON type yields "".
func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// fieldFold returns obj[key], matching the key case-insensitively when no
// exact entry exists.
func fieldFold(obj map[string]json.RawMessage, key string) json.RawMessage {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// objectList reads a JSON array of objects one entry at a time. Entries that
// are not objects come back as nil maps so callers keep their position; a
// value that is not an array yields nil.
func objectList(raw json.RawMessage) []map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, len(entries))
	for i, entry := range entries {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(entry, &obj); err == nil {
			out[i] = obj
		}
	}
	return out
}

// headerPair is one entry of a [{"name": ..., "value": ...}] header list.
type headerPair struct {
	Name  string
	Value string
}

func headerPairs(raw json.RawMessage) []headerPair {
	var pairs []headerPair
	for _, obj := range objectList(raw) {
		name := flexString(fieldFold(obj, "name"))
		if name == "" {
			continue
		}
		pairs = append(pairs, headerPair{Name: name, Value: flexString(fieldFold(obj, "value"))})
	}
	return pairs
}

func lookupHeader(pairs []headerPair, name string) string {
	for _, h := range pairs {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// attachmentKeys names the keys one provider uses inside attachment entries.
// Names are tried in order.
type attachmentKeys struct {
	Names       []string
	ContentType string
	Content     string
	Size        string
}

// decodeAttachmentList reads a provider's attachment array. A field of the
// wrong type degrades to its zero value and a non-object entry to an empty
// attachment, so one bad attachment never rejects the message.
func decodeAttachmentList(provider string, raw json.RawMessage, keys attachmentKeys) []models.Attachment {
	entries := objectList(raw)
	if entries == nil && len(raw) > 0 && string(raw) != "null" {
		slog.Debug("attachments field is not a list, ignoring", "provider", provider)
		return nil
	}
	atts := make([]models.Attachment, 0, len(entries))
	for _, obj := range entries {
		var name string
		for _, k := range keys.Names {
			if name = flexString(fieldFold(obj, k)); name != "" {
				break
			}
		}
		atts = append(atts, decodeAttachment(
			provider,
			name,
			jsonString(fieldFold(obj, keys.ContentType)),
			jsonString(fieldFold(obj, keys.Content)),
			flexInt(fieldFold(obj, keys.Size)),
		))
	}
	return atts
}
