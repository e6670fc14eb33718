// SPDX-License-Identifier: MIT

package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/ottrec/ottrec/internal/recording"
)

// recurrence display strings.
const (
	PatternNoEpisodes = "No episodes"
	PatternOneEpisode = "One episode"
	PatternDaily      = "Daily"
	PatternWeekly     = "Weekly"
	PatternMonthly    = "Monthly"
)

// projectionWindow is how many upcoming children feed the recurrence
// estimate.
const projectionWindow = 5

// Project recomputes the rule's derived display fields from its children:
// the next recording time/title and the recurrence pattern string.
func Project(rule *recording.SeriesRule, children []recording.Recording, now time.Time) {
	var upcoming []recording.Recording
	for _, c := range children {
		if c.Status.Terminal() {
			continue
		}
		if c.StartsAt.After(now) {
			upcoming = append(upcoming, c)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].StartsAt.Before(upcoming[j].StartsAt) })
	if len(upcoming) > projectionWindow {
		upcoming = upcoming[:projectionWindow]
	}

	if len(upcoming) == 0 {
		rule.NextRecordingAt = time.Time{}
		rule.NextRecordingTitle = ""
		rule.RecurrencePattern = PatternNoEpisodes
		return
	}

	rule.NextRecordingAt = upcoming[0].StartsAt
	rule.NextRecordingTitle = upcoming[0].Title

	if len(upcoming) == 1 {
		rule.RecurrencePattern = PatternOneEpisode
		return
	}

	total := upcoming[len(upcoming)-1].StartsAt.Sub(upcoming[0].StartsAt)
	mean := total / time.Duration(len(upcoming)-1)
	rule.RecurrencePattern = describeInterval(mean)
}

func describeInterval(mean time.Duration) string {
	days := mean.Hours() / 24
	switch {
	case days <= 1.5:
		return PatternDaily
	case days >= 6 && days <= 8:
		return PatternWeekly
	case days >= 27 && days <= 32:
		return PatternMonthly
	default:
		n := int(days + 0.5)
		if n < 2 {
			n = 2
		}
		return fmt.Sprintf("Every %d days", n)
	}
}
