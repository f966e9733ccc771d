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
	"reflect"
	"testing"
	"time"
)

func TestExtractTicketID(t *testing.T) {
	tests := []struct {
		recipient string
		wantID    string
		wantOK    bool
	}{
		{
			recipient: "ticket-123e4567-e89b-12d3-a456-426614174000@anydomain.example",
			wantID:    "123e4567-e89b-12d3-a456-426614174000",
			wantOK:    true,
		},
		{
			recipient: "Support <TICKET-ABC123@help.example.org>",
			wantID:    "ABC123",
			wantOK:    true,
		},
		{recipient: "support@example.com"},
		{recipient: "ticket-@example.com"},
		{recipient: ""},
	}

	for _, tt := range tests {
		t.Run(tt.recipient, func(t *testing.T) {
			id, ok := ExtractTicketID(tt.recipient)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestNormalizeMessageID(t *testing.T) {
	tests := map[string]string{
		"<abc@example.com>":     "<abc@example.com>",
		"abc@example.com":       "<abc@example.com>",
		"  <abc@example.com> ":  "<abc@example.com>",
		"\"<abc@example.com>\"": "<abc@example.com>",
		"":                      "",
		"<>":                    "",
	}
	for in, want := range tests {
		if got := NormalizeMessageID(in); got != want {
			t.Errorf("NormalizeMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitReferences(t *testing.T) {
	got := SplitReferences("<a@x> <b@x>,<a@x>\r\n\t<c@x>", "d@x")
	want := []string{"<a@x>", "<b@x>", "<c@x>", "<d@x>"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitReferences = %v, want %v", got, want)
	}

	empty := SplitReferences("", "   ")
	if empty == nil || len(empty) != 0 {
		t.Errorf("SplitReferences of blanks = %#v, want empty non-nil slice", empty)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	inputs := []string{
		"Fri, 01 Mar 2024 10:30:00 +0000",
		"2024-03-01T10:30:00Z",
		"2024-03-01 12:30:00 +0200",
		"1709289000",
	}
	for _, in := range inputs {
		got, ok := parseDate(in)
		if !ok {
			t.Errorf("parseDate(%q) not parsed", in)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseDate(%q) = %v, want %v", in, got, want)
		}
	}

	if _, ok := parseDate("yesterday-ish"); ok {
		t.Error("parseDate accepted garbage")
	}
}

func TestPickRecipient(t *testing.T) {
	got := pickRecipient("help@support.example, ticket-42ab@support.example", "other@example.com")
	if got != "ticket-42ab@support.example" {
		t.Errorf("pickRecipient = %q, want ticket address", got)
	}

	got = pickRecipient("", "Help Desk <help@support.example>")
	if got != "help@support.example" {
		t.Errorf("pickRecipient = %q, want help@support.example", got)
	}
}

func TestDecodeAttachment(t *testing.T) {
	ok := decodeAttachment("test", "a.txt", "text/plain", "aGVs\nbG8=", 0)
	if string(ok.Content) != "hello" {
		t.Errorf("content = %q, want hello", ok.Content)
	}
	if ok.Size != 5 {
		t.Errorf("size = %d, want 5", ok.Size)
	}

	bad := decodeAttachment("test", "b.bin", "application/octet-stream", "%%%not base64%%%", 0)
	if bad.Content == nil || len(bad.Content) != 0 {
		t.Errorf("undecodable content = %#v, want empty non-nil buffer", bad.Content)
	}
	if bad.Size != 0 {
		t.Errorf("size = %d, want 0", bad.Size)
	}

	declared := decodeAttachment("test", "c.bin", "", "aGk=", 99)
	if declared.Size != 99 {
		t.Errorf("declared size = %d, want 99", declared.Size)
	}
}
