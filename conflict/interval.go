// Package conflict detects busy-time overlaps between a candidate
// appointment and the existing commitments of its participants and
// resources.
package conflict

import "time"

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching at a start boundary counts as overlap;
// an interval beginning exactly where the other ends does not. Containment
// either way is covered by the two clauses.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aStart.After(bStart) && bStart.Before(aEnd) {
		return true
	}
	if !bStart.After(aStart) && aStart.Before(bEnd) {
		return true
	}
	return false
}
