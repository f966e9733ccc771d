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

package sanitize

import (
	"regexp"
	"strings"
)

// NoSubject replaces subjects that are empty after cleaning.
const NoSubject = "(no subject)"

var (
	// Reply and forward prefixes, including localized ones (AW/WG German,
	// SV/VS Nordic, RV Spanish, TR French, Antw Dutch, Odp Polish, Enc Portuguese)
	// and counters such as "Re[2]:".
	replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?|aw|wg|sv|vs|rv|tr|antw|odp|enc)\s*(\[\d+\])?\s*:\s*`)

	ticketTag  = regexp.MustCompile(`\[#[^\]]*\]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// CleanSubject strips reply/forward prefixes and [#...] ticket tags.
func CleanSubject(subject string) string {
	s := ticketTag.ReplaceAllString(subject, " ")
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if s == "" {
		return NoSubject
	}
	return s
}
