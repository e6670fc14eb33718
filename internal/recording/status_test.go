// SPDX-License-Identifier: MIT

package recording

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusRecording, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusMissed, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusScheduled, StatusFailed, false},
		{StatusRecording, StatusCompleted, true},
		{StatusRecording, StatusFailed, true},
		{StatusRecording, StatusCancelled, true},
		{StatusRecording, StatusScheduled, false},
		{StatusRecording, StatusMissed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusMissed}
	all := []Status{StatusScheduled, StatusRecording, StatusCompleted, StatusFailed, StatusCancelled, StatusMissed}
	for _, from := range terminals {
		if !from.Terminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
}
