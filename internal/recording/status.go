// SPDX-License-Identifier: MIT

// Package recording defines the entity model for scheduled recordings and
// series rules: pure data plus derived predicates, no I/O.
package recording

// Status is the lifecycle state of a scheduled recording.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusMissed    Status = "missed"
)

// Terminal reports whether no further automatic transition may occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusMissed:
		return true
	}
	return false
}

var validTransitions = map[Status][]Status{
	StatusScheduled: {StatusRecording, StatusCancelled, StatusMissed},
	StatusRecording: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
// Terminal states admit no outgoing edges.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
