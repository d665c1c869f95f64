// Package recurrence implements the recurrence pattern codec and the
// occurrence expander used by the mutation and conflict layers.
package recurrence

import (
	"fmt"
	"time"
)

// Type identifies the recurrence frequency of a pattern.
type Type int

const (
	TypeNone Type = iota
	TypeDaily
	TypeWeekly
	TypeMonthly
	TypeYearly
)

// String provides a human-readable representation of the Type.
func (t Type) String() string {
	switch t {
	case TypeDaily:
		return "daily"
	case TypeWeekly:
		return "weekly"
	case TypeMonthly:
		return "monthly"
	case TypeYearly:
		return "yearly"
	default:
		return "none"
	}
}

// Weekday bits as they appear in the serialized pattern format. The three
// composite values are pseudo-days selecting "any day", working days and
// weekend days respectively.
const (
	BitSunday    = 1
	BitMonday    = 2
	BitTuesday   = 4
	BitWednesday = 8
	BitThursday  = 16
	BitFriday    = 32
	BitSaturday  = 64

	BitAnyDay     = 127
	BitWeekdays   = 62
	BitWeekendDay = 65
)

// MaxOccurrences is the hard ceiling on interval, occurrence count and the
// number of occurrences a single expansion may produce (MAXTC).
const MaxOccurrences = 999

// dayLength is the duration of one calendar day slot.
const dayLength = 24 * time.Hour

// Pattern is the structured recurrence definition of a series. It is never
// persisted as a struct; storage keeps the token string produced by Codec
// plus the discrete duration fields carried on the appointment.
type Pattern struct {
	Type     Type
	Interval int
	// Days is a weekday bitmask (BitSunday..BitSaturday or one of the
	// pseudo-day values). Zero means unset.
	Days int
	// DayInMonth is the absolute day of month in [1,31], or, when Days is
	// set, the week of month in [1,5] (5 selects the last matching week).
	DayInMonth int
	// Month is the zero-based month of year (January = 0). The legacy
	// serialized format permits 12, which expansion treats as December.
	Month int
	// Until is the inclusive terminal day of the series; the zero value
	// means the terminal condition is Count (or the series is open).
	Until time.Time
	// Count is the occurrence count terminal condition; zero means unset.
	Count int
	// Start is the recurrence anchor, normalized to midnight UTC of the
	// first occurrence's day.
	Start time.Time
	// TimeOfDay is the offset from an occurrence day's midnight UTC to the
	// occurrence start.
	TimeOfDay time.Duration
	// Diff is the sub-day portion of the event length; DayOffset the number
	// of whole days it spans. Occurrence end = start + Diff + DayOffset days.
	Diff      time.Duration
	DayOffset int
	// Timezone is the IANA zone the series is displayed in; it drives the
	// day-boundary correction. Empty means UTC.
	Timezone string
}

// Recurring reports whether the pattern describes an actual series.
func (p *Pattern) Recurring() bool {
	return p != nil && p.Type != TypeNone
}

// Location resolves the pattern's time zone, falling back to UTC when the
// zone is unset or unknown.
func (p *Pattern) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the structural constraints of the pattern fields before
// encoding or expansion. It reports the first missing or out-of-range field.
func (p *Pattern) Validate() error {
	switch p.Type {
	case TypeNone:
		return &ValidationError{Field: "type", Reason: "pattern has no recurrence type"}
	case TypeDaily:
		if p.Interval < 1 {
			return &ValidationError{Field: "interval", Reason: "daily recurrence requires an interval of at least 1"}
		}
	case TypeWeekly:
		if p.Interval < 1 {
			return &ValidationError{Field: "interval", Reason: "weekly recurrence requires an interval of at least 1"}
		}
		if p.Days == 0 {
			return &ValidationError{Field: "days", Reason: "weekly recurrence requires a weekday mask"}
		}
		if err := validateMask(p.Days); err != nil {
			return err
		}
	case TypeMonthly:
		if p.Interval < 1 {
			return &ValidationError{Field: "interval", Reason: "monthly recurrence requires an interval of at least 1"}
		}
		if err := p.validateMonthDay(); err != nil {
			return err
		}
	case TypeYearly:
		if p.Month < 0 || p.Month > 12 {
			return &ValidationError{Field: "month", Reason: fmt.Sprintf("month %d out of range [0,12]", p.Month)}
		}
		if err := p.validateMonthDay(); err != nil {
			return err
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown recurrence type %d", p.Type)}
	}
	if p.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "recurrence start anchor is not set"}
	}
	return nil
}

func (p *Pattern) validateMonthDay() error {
	if p.Days == 0 {
		if p.DayInMonth < 1 || p.DayInMonth > 31 {
			return &ValidationError{Field: "day_in_month", Reason: fmt.Sprintf("day %d out of range [1,31]", p.DayInMonth)}
		}
		return nil
	}
	if err := validateMask(p.Days); err != nil {
		return err
	}
	if p.DayInMonth < 1 || p.DayInMonth > 5 {
		return &ValidationError{Field: "day_in_month", Reason: fmt.Sprintf("week of month %d out of range [1,5]", p.DayInMonth)}
	}
	return nil
}

// month resolves the effective zero-based month, folding the legacy value 12
// onto December.
func (p *Pattern) month() time.Month {
	m := p.Month
	if m > 11 {
		m = 11
	}
	return time.Month(m + 1)
}

// NormalizeDay truncates a timestamp to midnight UTC of its UTC calendar day.
func NormalizeDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LocalDay returns midnight UTC of the calendar day t falls on when rendered
// in loc. This is the day-slot an occurrence occupies for exception matching
// and free/busy day grids: a zone offset can push a UTC-anchored start past
// the UTC day boundary, shifting the slot by one day.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps identify the same day slot.
func SameDay(a, b time.Time) bool {
	return NormalizeDay(a).Equal(NormalizeDay(b))
}
