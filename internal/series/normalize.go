// SPDX-License-Identifier: MIT

// Package series decides which EPG entries constitute new episodes for a
// series rule. Matching heuristics are data-driven rule tables so they stay
// testable and extensible without touching control flow.
package series

import (
	"regexp"
	"strings"
)

// markerPatterns strip provider metadata decorations from titles before
// comparison, applied in order.
var markerPatterns = []*regexp.Regexp{
	// Bracketed or parenthesized quality/status tags: [NEW], (HD), [4K] ...
	regexp.MustCompile(`(?i)[\[(]\s*(?:new|live|hd|fhd|uhd|sd|4k|8k|hevc|h\.?26[45]|vip|rec)\s*[\])]`),
	// Bare trailing quality suffixes: "Show Name HD"
	regexp.MustCompile(`(?i)\s+(?:hd|fhd|uhd|sd|4k|8k)$`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// rerunMarkers trigger the rerun heuristic when OnlyNewEpisodes is set.
// Matched case-insensitively against both title and description.
var rerunMarkers = []string{
	"repeat",
	"rerun",
	"encore",
	"previously aired",
}

// NormalizeTitle strips metadata markers, superscript/subscript characters,
// emoji and other astral-plane runes, and collapses whitespace.
func NormalizeTitle(s string) string {
	for _, p := range markerPatterns {
		s = p.ReplaceAllString(s, " ")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if dropRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

// dropRune filters characters that IPTV providers decorate titles with but
// never carry semantic content: superscripts/subscripts, emoji and other
// supplementary-plane symbols, stray surrogates, and zero-width characters.
func dropRune(r rune) bool {
	switch {
	case r >= 0x2070 && r <= 0x209F: // superscripts and subscripts block
		return true
	case r == 0x00B2 || r == 0x00B3 || r == 0x00B9: // Latin-1 superscripts
		return true
	case r >= 0xD800 && r <= 0xDFFF: // unpaired surrogates
		return true
	case r > 0xFFFF: // emoji and all other astral-plane symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // BMP symbol/dingbat blocks
		return true
	case r == 0xFE0E || r == 0xFE0F: // variation selectors
		return true
	case r == 0x200B || r == 0x200C || r == 0x200D || r == 0xFEFF: // zero width
		return true
	}
	return false
}

// IsRerun reports whether the title or description carries a rerun marker.
func IsRerun(title, description string) bool {
	t := strings.ToLower(title)
	d := strings.ToLower(description)
	for _, marker := range rerunMarkers {
		if strings.Contains(t, marker) || strings.Contains(d, marker) {
			return true
		}
	}
	return false
}
