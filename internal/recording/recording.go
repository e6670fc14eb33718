// SPDX-License-Identifier: MIT

package recording

import (
	"fmt"
	"time"
)

// MissedGrace is the window after the effective start inside which a
// scheduled recording may still be started before it counts as missed.
const MissedGrace = 5 * time.Minute

// ValidationError describes a malformed scheduling request. It is surfaced
// synchronously to the caller; nothing is persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid recording: " + e.Reason }

// Recording is one concrete recording intent.
type Recording struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	ChannelID        string    `json:"channelId"`
	ChannelName      string    `json:"channelName,omitempty"`
	StreamURL        string    `json:"streamUrl,omitempty"`
	StartsAt         time.Time `json:"startsAt"`
	EndsAt           time.Time `json:"endsAt"`
	PreBufferMinutes int       `json:"preBufferMinutes,omitempty"`
	PostBufferMinutes int      `json:"postBufferMinutes,omitempty"`
	OutputPath       string    `json:"outputPath,omitempty"`
	IsEPGBased       bool      `json:"isEpgBased,omitempty"`
	EPGProgramID     string    `json:"epgProgramId,omitempty"`
	SeriesRuleID     string    `json:"seriesRuleId,omitempty"`
	Status           Status    `json:"status"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Validate checks the scheduling invariants: start before end, and the
// window must not lie wholly in the past unless the recording is EPG-based
// and still airing.
func (r *Recording) Validate(now time.Time) error {
	if r.Title == "" {
		return &ValidationError{Reason: "title is required"}
	}
	if r.ChannelID == "" {
		return &ValidationError{Reason: "channel id is required"}
	}
	if !r.StartsAt.Before(r.EndsAt) {
		return &ValidationError{Reason: fmt.Sprintf("end %s is not after start %s",
			r.EndsAt.UTC().Format(time.RFC3339), r.StartsAt.UTC().Format(time.RFC3339))}
	}
	if r.EndsAt.Before(now) && !r.IsEPGBased {
		return &ValidationError{Reason: "recording window is entirely in the past"}
	}
	if r.IsEPGBased && r.EndsAt.Before(now) {
		return &ValidationError{Reason: "program already finished airing"}
	}
	return nil
}

// EffectiveStart is the moment capture should begin: start minus pre-buffer.
func (r *Recording) EffectiveStart() time.Time {
	return r.StartsAt.Add(-time.Duration(r.PreBufferMinutes) * time.Minute)
}

// EffectiveEnd is the moment capture should end: end plus post-buffer.
func (r *Recording) EffectiveEnd() time.Time {
	return r.EndsAt.Add(time.Duration(r.PostBufferMinutes) * time.Minute)
}

// ShouldStartNow reports whether capture should begin. True iff the status
// is scheduled and now falls within [effectiveStart, effectiveStart+tolerance].
// Tolerance must exceed the poll interval or starts are chronically missed.
func (r *Recording) ShouldStartNow(now time.Time, tolerance time.Duration) bool {
	if r.Status != StatusScheduled {
		return false
	}
	start := r.EffectiveStart()
	return !now.Before(start) && !now.After(start.Add(tolerance))
}

// ShouldStopNow reports whether capture should end. True iff the status is
// recording and now has reached the effective end.
func (r *Recording) ShouldStopNow(now time.Time) bool {
	if r.Status != StatusRecording {
		return false
	}
	return !now.Before(r.EffectiveEnd())
}

// IsMissed reports whether the start window fully elapsed without a
// transition: status still scheduled and now past effectiveStart+MissedGrace.
func (r *Recording) IsMissed(now time.Time) bool {
	if r.Status != StatusScheduled {
		return false
	}
	return now.After(r.EffectiveStart().Add(MissedGrace))
}
