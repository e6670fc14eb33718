// SPDX-License-Identifier: MIT

package recording

import "time"

// MatchMode selects how a series rule's name is compared against EPG titles.
type MatchMode string

const (
	MatchContains   MatchMode = "contains"
	MatchStartsWith MatchMode = "startswith"
	MatchExact      MatchMode = "exact"
)

// SeriesRule is a standing instruction to auto-schedule all future episodes
// matching a name/time pattern on a channel. It is not itself a recording.
type SeriesRule struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ChannelID         string    `json:"channelId"`
	ChannelName       string    `json:"channelName,omitempty"`
	StreamURL         string    `json:"streamUrl,omitempty"`
	MatchMode         MatchMode `json:"matchMode"`
	OnlyNewEpisodes   bool      `json:"onlyNewEpisodes,omitempty"`
	PreBufferMinutes  int       `json:"preBufferMinutes,omitempty"`
	PostBufferMinutes int       `json:"postBufferMinutes,omitempty"`
	Enabled           bool      `json:"enabled"`

	// RecordedTitles is the append-only dedup set of episode titles already
	// scheduled by this rule.
	RecordedTitles []string `json:"recordedTitles,omitempty"`

	LastCheckedAt  time.Time `json:"lastCheckedAt,omitempty"`
	LastRecordedAt time.Time `json:"lastRecordedAt,omitempty"`

	// Derived display fields, recomputed after every matcher batch.
	NextRecordingAt    time.Time `json:"nextRecordingAt,omitempty"`
	NextRecordingTitle string    `json:"nextRecordingTitle,omitempty"`
	RecurrencePattern  string    `json:"recurrencePattern,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// HasRecorded reports whether the exact title is already in the dedup set.
func (r *SeriesRule) HasRecorded(title string) bool {
	for _, t := range r.RecordedTitles {
		if t == title {
			return true
		}
	}
	return false
}

// MarkRecorded appends the title to the dedup set if absent.
func (r *SeriesRule) MarkRecorded(title string) {
	if !r.HasRecorded(title) {
		r.RecordedTitles = append(r.RecordedTitles, title)
	}
}
