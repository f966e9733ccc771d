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

package ticket

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"

	"github.com/supportdesk/mailhook/internal/models"
)

// keywordSet matches any of its phrases at the start of a word, so
// inflected forms like "invoices" or "urgently" count. Phrases of
// shortWord runes or fewer must stand alone, allowing a plural "s".
type keywordSet struct {
	re *regexp.Regexp
}

const shortWord = 3

func newKeywordSet(phrases ...string) keywordSet {
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		alts[i] = regexp.QuoteMeta(p)
		if utf8.RuneCountInString(p) <= shortWord {
			alts[i] += `s?\b`
		}
	}
	return keywordSet{re: regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)`)}
}

func (k keywordSet) matches(folded string) bool {
	return k.re.MatchString(folded)
}

var (
	urgentKeywords = newKeywordSet(
		"urgent", "emergency", "critical", "asap", "outage",
		"production down", "site down", "system down", "immediately",
	)
	highKeywords = newKeywordSet(
		"important", "high priority", "broken", "not working", "cannot",
		"can't", "unable", "failed", "failing", "blocked",
	)
)

// tagRules is applied in order; every matching rule contributes its tag.
var tagRules = []struct {
	tag      string
	keywords keywordSet
}{
	{"billing", newKeywordSet("invoice", "billing", "payment", "refund", "charge", "charged", "subscription", "receipt")},
	{"bug", newKeywordSet("bug", "error", "crash", "crashes", "broken", "not working", "exception", "glitch")},
	{"feature-request", newKeywordSet("feature request", "feature", "would be nice", "suggestion", "enhancement", "could you add")},
	{"question", newKeywordSet("question", "how do i", "how can i", "how to", "is it possible", "wondering")},
	{"authentication", newKeywordSet("login", "log in", "password", "sign in", "2fa", "two-factor", "locked out", "authentication", "sso")},
}

var textOnly = bluemonday.StrictPolicy()

// inferenceText is the case-folded subject plus body used for keyword
// scans. HTML is reduced to text when there is no text body.
func inferenceText(email *models.Email) string {
	body := email.TextBody
	if strings.TrimSpace(body) == "" && email.HTMLBody != "" {
		body = html.UnescapeString(textOnly.Sanitize(email.HTMLBody))
	}
	return cases.Fold().String(email.Subject + "\n" + body)
}

// InferPriority scans for urgent keywords first, then high ones. A message
// naming both is URGENT.
func InferPriority(email *models.Email) models.Priority {
	text := inferenceText(email)
	switch {
	case urgentKeywords.matches(text):
		return models.PriorityUrgent
	case highKeywords.matches(text):
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

// InferTags returns every tag whose keywords appear, in table order.
func InferTags(email *models.Email) []string {
	text := inferenceText(email)
	tags := []string{}
	for _, rule := range tagRules {
		if rule.keywords.matches(text) {
			tags = append(tags, rule.tag)
		}
	}
	return tags
}
