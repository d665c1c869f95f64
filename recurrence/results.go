package recurrence

import (
	"time"

	"github.com/samber/mo"
)

// Occurrence is one concrete instance produced by expanding a pattern.
type Occurrence struct {
	Start time.Time
	End   time.Time
	// Position is the 1-based ordinal of the occurrence within its series.
	// Positions are assigned by the pattern, so occurrences removed by an
	// exception still consume theirs.
	Position int
	// Date is the day slot the occurrence occupies: midnight UTC of the
	// calendar day it falls on in the series' own time zone.
	Date time.Time
}

// Results is an ordered collection of occurrences, queryable by position or
// by day slot.
type Results struct {
	items   []Occurrence
	lastIdx int
}

// Len returns the number of occurrences held.
func (r *Results) Len() int {
	return len(r.items)
}

// Add appends an occurrence. Callers append in pattern order, so positions
// are strictly increasing.
func (r *Results) Add(o Occurrence) {
	r.items = append(r.items, o)
}

// At returns the occurrence at the given 0-based index.
func (r *Results) At(i int) Occurrence {
	return r.items[i]
}

// All returns the underlying occurrence slice. The slice is shared; callers
// must not modify it.
func (r *Results) All() []Occurrence {
	return r.items
}

// ByPosition looks up the occurrence carrying the given 1-based series
// position.
func (r *Results) ByPosition(pos int) (Occurrence, bool) {
	for _, o := range r.items {
		if o.Position == pos {
			return o, true
		}
	}
	return Occurrence{}, false
}

// ByDate looks up the occurrence occupying the given day slot. Lookups tend
// to arrive in sequence, so the index of the last hit is probed first before
// falling back to a linear scan.
func (r *Results) ByDate(date time.Time) mo.Option[Occurrence] {
	want := NormalizeDay(date)
	if r.lastIdx < len(r.items) && r.items[r.lastIdx].Date.Equal(want) {
		return mo.Some(r.items[r.lastIdx])
	}
	for i, o := range r.items {
		if o.Date.Equal(want) {
			r.lastIdx = i
			return mo.Some(o)
		}
	}
	return mo.None[Occurrence]()
}

// Until returns the day slot of the final occurrence, or the zero time when
// the result set is empty. Used to derive the terminal date of a
// count-bounded series.
func (r *Results) Until() time.Time {
	if len(r.items) == 0 {
		return time.Time{}
	}
	return r.items[len(r.items)-1].Date
}
