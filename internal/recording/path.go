// SPDX-License-Identifier: MIT

package recording

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const maxNameComponent = 80

// DeriveOutputPath builds a filesystem-safe output file path from the
// channel, title and start time. Assigned at creation time when the caller
// did not pick a path.
func DeriveOutputPath(dir, channelName, title string, start time.Time) string {
	name := sanitizeComponent(channelName)
	if name == "" {
		name = "channel"
	}
	t := sanitizeComponent(title)
	if t == "" {
		t = "recording"
	}
	stamp := start.UTC().Format("2006-01-02_1504")
	return filepath.Join(dir, name+"_"+t+"_"+stamp+".ts")
}

// sanitizeComponent strips characters that are unsafe in file names on any
// supported platform, collapses runs of separators to a single underscore,
// and bounds the component length.
func sanitizeComponent(s string) string {
	var b strings.Builder
	lastSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		case r == '-' || r == '.':
			b.WriteRune(r)
			lastSep = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "_.")
	if len(out) > maxNameComponent {
		out = out[:maxNameComponent]
		out = strings.Trim(out, "_.")
	}
	return out
}
