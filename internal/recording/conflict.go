// SPDX-License-Identifier: MIT

package recording

import "time"

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HasConflict reports whether any scheduled recording in existing overlaps
// the candidate window. excludeID skips one entry (the candidate itself on
// update). The check is advisory: callers may warn and schedule anyway.
func HasConflict(existing []Recording, start, end time.Time, excludeID string) bool {
	for i := range existing {
		other := &existing[i]
		if other.ID == excludeID {
			continue
		}
		if other.Status != StatusScheduled {
			continue
		}
		if Overlaps(start, end, other.StartsAt, other.EndsAt) {
			return true
		}
	}
	return false
}
