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
	"reflect"
	"testing"

	"github.com/supportdesk/mailhook/internal/models"
)

func TestInferPriority(t *testing.T) {
	tests := []struct {
		name  string
		email models.Email
		want  models.Priority
	}{
		{"urgent in subject", models.Email{Subject: "URGENT: site down"}, models.PriorityUrgent},
		{"urgent beats high", models.Email{Subject: "Login broken", TextBody: "we need this fixed asap"}, models.PriorityUrgent},
		{"high", models.Email{Subject: "Export not working"}, models.PriorityHigh},
		{"case folded", models.Email{TextBody: "This is IMPORTANT"}, models.PriorityHigh},
		{"word start only", models.Email{Subject: "Our unbroken uptime streak"}, models.PriorityMedium},
		{"inflected urgent", models.Email{TextBody: "This is urgently needed"}, models.PriorityUrgent},
		{"html only body", models.Email{HTMLBody: "<p>Production <b>outage</b> &amp; data loss</p>"}, models.PriorityUrgent},
		{"default", models.Email{Subject: "Hello", TextBody: "Just checking in"}, models.PriorityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferPriority(&tt.email); got != tt.want {
				t.Errorf("InferPriority = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferTags(t *testing.T) {
	tests := []struct {
		name  string
		email models.Email
		want  []string
	}{
		{
			name:  "several tags in table order",
			email: models.Email{Subject: "Password reset question", TextBody: "Also my invoice shows an error"},
			want:  []string{"billing", "bug", "question", "authentication"},
		},
		{
			name:  "feature request",
			email: models.Email{Subject: "Suggestion", TextBody: "It would be nice to have dark mode"},
			want:  []string{"feature-request"},
		},
		{
			name:  "plural invoices",
			email: models.Email{Subject: "Where are my invoices?"},
			want:  []string{"billing"},
		},
		{
			name:  "plural errors",
			email: models.Email{TextBody: "Getting errors on save"},
			want:  []string{"bug"},
		},
		{
			name:  "plural passwords",
			email: models.Email{Subject: "Reset passwords please"},
			want:  []string{"authentication"},
		},
		{
			name:  "plural payments",
			email: models.Email{Subject: "Payments page"},
			want:  []string{"billing"},
		},
		{
			name:  "short keyword stands alone",
			email: models.Email{Subject: "Lesson plan", TextBody: "We need to debug the classroom app"},
			want:  []string{},
		},
		{
			name:  "short keyword plural",
			email: models.Email{Subject: "Two bugs in SSO"},
			want:  []string{"bug", "authentication"},
		},
		{
			name:  "none",
			email: models.Email{Subject: "Hello", TextBody: "Have a nice day"},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferTags(&tt.email); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("InferTags = %v, want %v", got, tt.want)
			}
		})
	}
}
