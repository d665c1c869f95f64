// Package appointment defines the master/override object model the mutation
// and conflict layers operate on. A recurring series is a Master carrying
// the pattern and its two exception lists; an overridden occurrence is a
// separate Override record pointing back at its master. Modelling the two
// roles as distinct types removes the "is this actually a master?"
// conditionals a single dual-role record invites.
package appointment

import (
	"time"

	"github.com/rkellner/libgroupcal/recurrence"
)

// ParticipantKind distinguishes people from bookable resources.
type ParticipantKind int

const (
	KindUser ParticipantKind = iota
	KindResource
)

// Status is a participant's confirmation state.
type Status int

const (
	StatusNone Status = iota
	StatusAccepted
	StatusDeclined
	StatusTentative
)

// Transparency controls whether an appointment occupies busy time.
type Transparency int

const (
	// Opaque appointments block their participants' time.
	Opaque Transparency = iota
	// Transparent ("free") appointments never conflict.
	Transparent
)

// Participant is a user or resource attached to an appointment.
type Participant struct {
	ID     string
	Kind   ParticipantKind
	Status Status
}

// Core holds the fields shared by masters and overrides.
type Core struct {
	ObjectID     string
	Owner        string
	Title        string
	Start        time.Time
	End          time.Time
	FullDay      bool
	Transparency Transparency
	Participants []Participant
	// Timezone is the IANA zone the appointment is displayed in; empty
	// means UTC.
	Timezone string
	// LastModified backs the optimistic concurrency check: mutations carry
	// the caller's view of it and are rejected when stale.
	LastModified time.Time
}

// ID returns the record identifier.
func (c *Core) ID() string { return c.ObjectID }

// Modified returns the stored last-modified timestamp.
func (c *Core) Modified() time.Time { return c.LastModified }

// Location resolves the appointment's zone, falling back to UTC.
func (c *Core) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParticipantIDs returns the ids of all attached users and resources.
func (c *Core) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Record is the closed set of appointment variants: *Master and *Override.
type Record interface {
	ID() string
	Modified() time.Time
	record()
}

// Master is the root appointment of a series (or a plain one-off event when
// its pattern has no recurrence type). Its pattern generates all
// occurrences; the two exception lists hold the day slots removed from or
// overridden in the series.
type Master struct {
	Core
	Pattern recurrence.Pattern
	// DeleteExceptions are day slots removed from the series with no
	// override record. Disjoint from ChangeExceptions at all times.
	DeleteExceptions []time.Time
	// ChangeExceptions are day slots that have a distinct Override record,
	// in 1:1 correspondence with the stored overrides.
	ChangeExceptions []time.Time
}

func (*Master) record() {}

// Recurring reports whether the master generates a series.
func (m *Master) Recurring() bool { return m.Pattern.Recurring() }

// Exceptions bundles both exception lists for expansion filtering.
func (m *Master) Exceptions() recurrence.ExceptionDates {
	return recurrence.ExceptionDates{
		Delete: m.DeleteExceptions,
		Change: m.ChangeExceptions,
	}
}

// HasDeleteException reports whether the day slot is delete-excepted.
func (m *Master) HasDeleteException(day time.Time) bool {
	return containsDay(m.DeleteExceptions, day)
}

// HasChangeException reports whether the day slot has an override.
func (m *Master) HasChangeException(day time.Time) bool {
	return containsDay(m.ChangeExceptions, day)
}

// AddDeleteException records a day slot as removed from the series. Adding a
// day that is change-excepted breaks the disjointness invariant and fails.
func (m *Master) AddDeleteException(day time.Time) error {
	day = recurrence.NormalizeDay(day)
	if containsDay(m.ChangeExceptions, day) {
		return &recurrence.ValidationError{
			Field:  "delete_exceptions",
			Reason: "day is already a change exception; delete its override instead",
		}
	}
	if containsDay(m.DeleteExceptions, day) {
		return nil
	}
	m.DeleteExceptions = append(m.DeleteExceptions, day)
	return nil
}

// AddChangeException records a day slot as overridden.
func (m *Master) AddChangeException(day time.Time) error {
	day = recurrence.NormalizeDay(day)
	if containsDay(m.DeleteExceptions, day) {
		return &recurrence.ValidationError{
			Field:  "change_exceptions",
			Reason: "day is already a delete exception",
		}
	}
	if containsDay(m.ChangeExceptions, day) {
		return nil
	}
	m.ChangeExceptions = append(m.ChangeExceptions, day)
	return nil
}

// MoveChangeToDelete turns an overridden day slot into a deleted one, used
// when the override record itself is removed.
func (m *Master) MoveChangeToDelete(day time.Time) {
	day = recurrence.NormalizeDay(day)
	m.ChangeExceptions = RemoveDay(m.ChangeExceptions, day)
	if !containsDay(m.DeleteExceptions, day) {
		m.DeleteExceptions = append(m.DeleteExceptions, day)
	}
}

// Clone returns a deep copy of the master.
func (m *Master) Clone() *Master {
	out := *m
	out.Core.Participants = append([]Participant(nil), m.Participants...)
	out.DeleteExceptions = append([]time.Time(nil), m.DeleteExceptions...)
	out.ChangeExceptions = append([]time.Time(nil), m.ChangeExceptions...)
	return &out
}

// Override is a single overridden occurrence stored as its own record. Its
// MasterID points at the series master; Position and DatePosition identify
// which occurrence it replaces. Position, once set, never changes.
type Override struct {
	Core
	MasterID string
	// Position is the 1-based series position of the overridden occurrence.
	Position int
	// DatePosition is the day slot of the overridden occurrence, the
	// alternate key to Position.
	DatePosition time.Time
}

func (*Override) record() {}

// RemoveDay returns the list without the given day slot, preserving order.
func RemoveDay(list []time.Time, day time.Time) []time.Time {
	day = recurrence.NormalizeDay(day)
	out := make([]time.Time, 0, len(list))
	for _, d := range list {
		if !recurrence.NormalizeDay(d).Equal(day) {
			out = append(out, d)
		}
	}
	return out
}

// HasDuplicateDays reports whether any day slot appears twice in the list.
// A duplicate means two editors created an exception for the same day.
func HasDuplicateDays(list []time.Time) bool {
	seen := make(map[time.Time]struct{}, len(list))
	for _, d := range list {
		key := recurrence.NormalizeDay(d)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

func containsDay(list []time.Time, day time.Time) bool {
	day = recurrence.NormalizeDay(day)
	for _, d := range list {
		if recurrence.NormalizeDay(d).Equal(day) {
			return true
		}
	}
	return false
}
