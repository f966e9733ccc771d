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

// Package sanitize turns raw inbound email content into what a support agent
// should read: signatures and quoted reply chains removed, subjects cleaned.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/supportdesk/mailhook/internal/models"
)

// signaturePhrases start a signature block. They are matched
// case-insensitively; a trailing $ means the phrase ends its line.
var signaturePhrases = []string{
	`--\s*$`,
	`sent from my\b`,
	`get outlook for\b`,
	`best regards\b`,
	`kind regards\b`,
	`regards,`,
	`thanks,\s*$`,
	`cheers,\s*$`,
	`mit freundlichen grüßen\b`,
	`viele grüße\b`,
	`cordialement\b`,
	`saludos\b`,
	`atentamente\b`,
	`met vriendelijke groet\b`,
	`cordiali saluti\b`,
	`atenciosamente\b`,
}

// signatureMarkers match a phrase at a line start. htmlSignatureMarkers also
// match one right after opening tags such as <p> or <br>. Those tags are part
// of the match, so they are cut along with the signature.
var signatureMarkers, htmlSignatureMarkers = compileMarkers(signaturePhrases)

func compileMarkers(phrases []string) (text, html []*regexp.Regexp) {
	for _, p := range phrases {
		text = append(text, regexp.MustCompile(`(?mi)^`+p))
		hp := p
		if strings.HasSuffix(hp, "$") {
			hp = strings.TrimSuffix(hp, "$") + `(?:<|$)`
		}
		html = append(html, regexp.MustCompile(`(?mi)(?:^|(?:<[a-z][^>]*>\s*)+)`+hp))
	}
	return text, html
}

// ExtractDescription returns the agent-facing body of email: the HTML body
// when present (markup untouched), else the text body, cut at the earliest
// signature marker, with quoted lines dropped and whitespace trimmed.
func ExtractDescription(email *models.Email) string {
	if email == nil {
		return ""
	}
	body, strip := email.TextBody, StripSignature
	if strings.TrimSpace(email.HTMLBody) != "" {
		body, strip = email.HTMLBody, StripHTMLSignature
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	body = strip(body)
	body = StripQuoted(body)
	return strings.TrimSpace(body)
}

// StripSignature truncates a plain-text body at the earliest signature
// marker.
func StripSignature(body string) string {
	return cutAtEarliest(body, signatureMarkers)
}

// StripHTMLSignature is StripSignature for HTML bodies, where a marker may
// follow a tag instead of a newline.
func StripHTMLSignature(body string) string {
	return cutAtEarliest(body, htmlSignatureMarkers)
}

func cutAtEarliest(body string, markers []*regexp.Regexp) string {
	cut := -1
	for _, re := range markers {
		loc := re.FindStringIndex(body)
		if loc == nil {
			continue
		}
		if cut < 0 || loc[0] < cut {
			cut = loc[0]
		}
	}
	if cut < 0 {
		return body
	}
	return body[:cut]
}

// StripQuoted drops every line that starts with ">" after leading whitespace.
func StripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
