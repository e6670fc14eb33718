// SPDX-License-Identifier: MIT

package series

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/recording"
)

// Programme is one EPG entry for a channel, as delivered by the upstream
// EPG provider collaborator.
type Programme struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
}

// Config holds the matcher tunables. The upstream implementation hard-coded
// both values; they are configuration here.
type Config struct {
	// TimeTolerance is the maximum time-of-day offset for the time-pattern
	// tier (default 15 minutes).
	TimeTolerance time.Duration
	// HistoryWindow is how many recent past recordings establish the
	// canonical time-of-day (default 3).
	HistoryWindow int
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		TimeTolerance: 15 * time.Minute,
		HistoryWindow: 3,
	}
}

// Matcher evaluates EPG batches against series rules. It is pure: it never
// mutates the rule or touches the store.
type Matcher struct {
	cfg    Config
	logger zerolog.Logger
}

// NewMatcher constructs a matcher, applying defaults for zero values.
func NewMatcher(cfg Config, logger zerolog.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.TimeTolerance <= 0 {
		cfg.TimeTolerance = def.TimeTolerance
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	return &Matcher{cfg: cfg, logger: logger}
}

// Decision explains what was done with one EPG entry.
type Decision struct {
	Programme Programme
	Accepted  bool
	Tier      string // "time_pattern" | "title"
	Reason    string // skip/reject reason when not accepted
}

const (
	TierTimePattern = "time_pattern"
	TierTitle       = "title"
)

// Evaluate decides which entries of the batch are new episodes for the rule.
// children are the rule's existing recordings (all statuses); they provide
// both the time-pattern history and the duplicate guard.
func (m *Matcher) Evaluate(rule recording.SeriesRule, children []recording.Recording, batch []Programme, now time.Time) []Decision {
	pattern, hasPattern := timePattern(children, now, m.cfg.HistoryWindow)
	ruleName := strings.ToLower(NormalizeTitle(rule.Name))

	decisions := make([]Decision, 0, len(batch))
	for _, prog := range batch {
		d := Decision{Programme: prog}

		switch {
		case !prog.StartsAt.After(now):
			d.Reason = "starts in the past"
		case rule.HasRecorded(prog.Title):
			d.Reason = "already recorded"
		case hasActiveChild(children, prog.Title, prog.StartsAt):
			d.Reason = "already scheduled"
		case rule.OnlyNewEpisodes && IsRerun(prog.Title, prog.Description):
			d.Reason = "rerun"
		default:
			if hasPattern && withinTolerance(minuteOfDay(prog.StartsAt), pattern, m.cfg.TimeTolerance) {
				d.Accepted = true
				d.Tier = TierTimePattern
			} else if titleMatches(ruleName, prog.Title, rule.MatchMode) {
				d.Accepted = true
				d.Tier = TierTitle
			} else {
				d.Reason = "no match"
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// timePattern derives the canonical time-of-day (minutes since midnight UTC)
// from the rule's most recent past recordings. Averaging is circular so
// recordings straddling midnight do not skew the pattern.
func timePattern(children []recording.Recording, now time.Time, window int) (float64, bool) {
	var past []recording.Recording
	for _, c := range children {
		if c.StartsAt.Before(now) {
			past = append(past, c)
		}
	}
	if len(past) == 0 {
		return 0, false
	}
	// Most recent first.
	for i := 0; i < len(past); i++ {
		for j := i + 1; j < len(past); j++ {
			if past[j].StartsAt.After(past[i].StartsAt) {
				past[i], past[j] = past[j], past[i]
			}
		}
	}
	if len(past) > window {
		past = past[:window]
	}

	ref := minuteOfDay(past[0].StartsAt)
	sum := 0.0
	for _, c := range past {
		m := minuteOfDay(c.StartsAt)
		// Unwrap around midnight relative to the reference.
		switch {
		case m-ref > 720:
			m -= 1440
		case ref-m > 720:
			m += 1440
		}
		sum += m
	}
	avg := sum / float64(len(past))
	for avg < 0 {
		avg += 1440
	}
	for avg >= 1440 {
		avg -= 1440
	}
	return avg, true
}

func minuteOfDay(t time.Time) float64 {
	utc := t.UTC()
	return float64(utc.Hour()*60+utc.Minute()) + float64(utc.Second())/60
}

// withinTolerance compares two times-of-day on the circle.
func withinTolerance(a, b float64, tolerance time.Duration) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > 720 {
		diff = 1440 - diff
	}
	return diff <= tolerance.Minutes()
}

func hasActiveChild(children []recording.Recording, title string, start time.Time) bool {
	for _, c := range children {
		if c.Status.Terminal() {
			continue
		}
		if c.Title == title && c.StartsAt.Equal(start) {
			return true
		}
	}
	return false
}

func titleMatches(normalizedRuleName, candidateTitle string, mode recording.MatchMode) bool {
	if normalizedRuleName == "" {
		return false
	}
	title := strings.ToLower(NormalizeTitle(candidateTitle))
	switch mode {
	case recording.MatchStartsWith:
		return strings.HasPrefix(title, normalizedRuleName)
	case recording.MatchExact:
		return title == normalizedRuleName
	default: // contains
		return strings.Contains(title, normalizedRuleName)
	}
}
