// SPDX-License-Identifier: MIT

package recording

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

func validRecording() Recording {
	return Recording{
		ID:        "rec-1",
		Title:     "Evening News",
		ChannelID: "ch-42",
		StartsAt:  base,
		EndsAt:    base.Add(30 * time.Minute),
		Status:    StatusScheduled,
	}
}

func TestValidate(t *testing.T) {
	now := base.Add(-time.Hour)

	tests := []struct {
		name    string
		mutate  func(*Recording)
		wantErr bool
	}{
		{"valid", func(r *Recording) {}, false},
		{"missing title", func(r *Recording) { r.Title = "" }, true},
		{"missing channel", func(r *Recording) { r.ChannelID = "" }, true},
		{"end before start", func(r *Recording) { r.EndsAt = r.StartsAt.Add(-time.Minute) }, true},
		{"end equals start", func(r *Recording) { r.EndsAt = r.StartsAt }, true},
		{"wholly in the past", func(r *Recording) {
			r.StartsAt = now.Add(-2 * time.Hour)
			r.EndsAt = now.Add(-time.Hour)
		}, true},
		{"epg-based still airing", func(r *Recording) {
			r.IsEPGBased = true
			r.StartsAt = now.Add(-10 * time.Minute)
			r.EndsAt = now.Add(20 * time.Minute)
		}, false},
		{"epg-based already finished", func(r *Recording) {
			r.IsEPGBased = true
			r.StartsAt = now.Add(-2 * time.Hour)
			r.EndsAt = now.Add(-time.Hour)
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecording()
			tt.mutate(&rec)
			err := rec.Validate(now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var vErr *ValidationError
				if !asValidation(err, &vErr) {
					t.Fatalf("error %v is not a ValidationError", err)
				}
			}
		})
	}
}

func asValidation(err error, target **ValidationError) bool {
	v, ok := err.(*ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestEffectiveWindow(t *testing.T) {
	rec := validRecording()
	rec.PreBufferMinutes = 5
	rec.PostBufferMinutes = 10

	if got, want := rec.EffectiveStart(), base.Add(-5*time.Minute); !got.Equal(want) {
		t.Errorf("EffectiveStart() = %v, want %v", got, want)
	}
	if got, want := rec.EffectiveEnd(), base.Add(40*time.Minute); !got.Equal(want) {
		t.Errorf("EffectiveEnd() = %v, want %v", got, want)
	}
}

func TestShouldStartNow(t *testing.T) {
	tolerance := 2 * time.Minute
	rec := validRecording()
	rec.PreBufferMinutes = 5
	effStart := base.Add(-5 * time.Minute)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before window", effStart.Add(-time.Second), false},
		{"at effective start", effStart, true},
		{"inside tolerance", effStart.Add(time.Minute), true},
		{"at tolerance edge", effStart.Add(tolerance), true},
		{"past tolerance", effStart.Add(tolerance + time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.ShouldStartNow(tt.now, tolerance); got != tt.want {
				t.Errorf("ShouldStartNow(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}

	t.Run("not scheduled", func(t *testing.T) {
		r := validRecording()
		r.Status = StatusRecording
		if r.ShouldStartNow(effStart, tolerance) {
			t.Error("recording status must never start again")
		}
	})
}

func TestShouldStopNow(t *testing.T) {
	rec := validRecording()
	rec.Status = StatusRecording
	rec.PostBufferMinutes = 10
	effEnd := rec.EndsAt.Add(10 * time.Minute)

	if rec.ShouldStopNow(effEnd.Add(-time.Second)) {
		t.Error("must not stop before effective end")
	}
	if !rec.ShouldStopNow(effEnd) {
		t.Error("must stop at effective end")
	}
	rec.Status = StatusScheduled
	if rec.ShouldStopNow(effEnd.Add(time.Hour)) {
		t.Error("only in-progress recordings stop")
	}
}

func TestIsMissed(t *testing.T) {
	rec := validRecording()
	effStart := rec.EffectiveStart()

	if rec.IsMissed(effStart.Add(MissedGrace)) {
		t.Error("grace window still open, not missed")
	}
	if !rec.IsMissed(effStart.Add(MissedGrace + time.Second)) {
		t.Error("grace window elapsed, should be missed")
	}
	rec.Status = StatusCompleted
	if rec.IsMissed(effStart.Add(time.Hour)) {
		t.Error("terminal recordings are never missed")
	}
}

// A recording must never be simultaneously startable and missed when the
// start tolerance does not exceed the missed grace.
func TestStartAndMissedAreDisjoint(t *testing.T) {
	tolerance := 2 * time.Minute
	rec := validRecording()
	for offset := -time.Minute; offset < 10*time.Minute; offset += 10 * time.Second {
		now := rec.EffectiveStart().Add(offset)
		if rec.ShouldStartNow(now, tolerance) && rec.IsMissed(now) {
			t.Fatalf("offset %v: both startable and missed", offset)
		}
	}
}
