// SPDX-License-Identifier: MIT

package recording

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDeriveOutputPath(t *testing.T) {
	start := time.Date(2026, 3, 10, 20, 15, 0, 0, time.UTC)

	tests := []struct {
		name    string
		channel string
		title   string
		want    string
	}{
		{"plain", "ARD", "Tagesschau", "ARD_Tagesschau_2026-03-10_2015.ts"},
		{"spaces and slashes", "Sky / Sports", "Match of the Day", "Sky_Sports_Match_of_the_Day_2026-03-10_2015.ts"},
		{"unicode kept", "Küste TV", "Nürnberg läuft", "Küste_TV_Nürnberg_läuft_2026-03-10_2015.ts"},
		{"empty falls back", "", "", "channel_recording_2026-03-10_2015.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveOutputPath("/rec", tt.channel, tt.title, start)
			if want := filepath.Join("/rec", tt.want); got != want {
				t.Errorf("DeriveOutputPath() = %q, want %q", got, want)
			}
		})
	}
}

func TestSanitizeComponentBounds(t *testing.T) {
	long := strings.Repeat("a", 200)
	if got := sanitizeComponent(long); len(got) != maxNameComponent {
		t.Errorf("length = %d, want %d", len(got), maxNameComponent)
	}
	if got := sanitizeComponent("..."); got != "" {
		t.Errorf("separator-only input should be empty, got %q", got)
	}
	if got := sanitizeComponent("a///b"); got != "a_b" {
		t.Errorf("run collapse: got %q, want a_b", got)
	}
}
