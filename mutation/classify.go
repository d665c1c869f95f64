// Package mutation classifies and applies changes against recurring series:
// single-occurrence edits and deletes, series-wide deletes and pattern
// changes, keeping masters and their override records consistent.
package mutation

import (
	"errors"
	"time"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
)

// Action is the classification outcome for a mutation request. Actions are
// computed per request from the incoming change-set and the stored record;
// they are never persisted.
type Action int

const (
	// NoAction: the stored object is not part of a recurring series, or the
	// request changes nothing the series layer cares about.
	NoAction Action = iota
	// CreateException: the request targets an occurrence of a master that
	// has no exception yet; an override record is created.
	CreateException
	// DeleteExistingException: the request deletes an occurrence that
	// already has an override record.
	DeleteExistingException
	// VirtualDelete: the request deletes an occurrence with no override;
	// only a delete-exception day is recorded.
	VirtualDelete
	// ExceptionDelete: the stored record is itself an override and the
	// request deletes it.
	ExceptionDelete
	// FullDelete: the request deletes the entire series.
	FullDelete
	// ChangePatternType: the request changes the series pattern itself;
	// every existing override is removed before the new pattern applies.
	ChangePatternType
)

// String provides a human-readable representation of the Action.
func (a Action) String() string {
	switch a {
	case CreateException:
		return "create-exception"
	case DeleteExistingException:
		return "delete-existing-exception"
	case VirtualDelete:
		return "virtual-delete"
	case ExceptionDelete:
		return "exception-delete"
	case FullDelete:
		return "full-delete"
	case ChangePatternType:
		return "change-pattern-type"
	default:
		return "no-action"
	}
}

var (
	// ErrForeignDate is a validation failure: the targeted day is not
	// produced by expanding the series' own pattern.
	ErrForeignDate = errors.New("foreign exception date: day not produced by the series pattern")
	// ErrPositionImmutable is a validation failure: the recurrence position
	// of an existing exception can never be changed.
	ErrPositionImmutable = errors.New("recurrence position of an exception cannot be changed")
)

// FieldSet carries the fields explicitly present in an incoming change-set.
// Nil pointers mean "unchanged".
type FieldSet struct {
	Title        *string
	Start        *time.Time
	End          *time.Time
	FullDay      *bool
	Transparency *appointment.Transparency
	Participants []appointment.Participant
}

func (f FieldSet) applyTo(c *appointment.Core) {
	if f.Title != nil {
		c.Title = *f.Title
	}
	if f.Start != nil {
		c.Start = *f.Start
	}
	if f.End != nil {
		c.End = *f.End
	}
	if f.FullDay != nil {
		c.FullDay = *f.FullDay
	}
	if f.Transparency != nil {
		c.Transparency = *f.Transparency
	}
	if f.Participants != nil {
		c.Participants = append([]appointment.Participant(nil), f.Participants...)
	}
}

// Request is one mutation against a stored master or override.
type Request struct {
	// ObjectID identifies the stored record the request was issued against.
	ObjectID string
	// Delete marks the request as a deletion.
	Delete bool
	// Position targets a single occurrence by 1-based series position.
	Position int
	// DatePosition targets a single occurrence by its day slot.
	DatePosition time.Time
	// DeleteExceptions are day slots the request wants removed from the
	// series.
	DeleteExceptions []time.Time
	// Pattern, when non-nil, replaces the series pattern.
	Pattern *recurrence.Pattern
	// Fields are the overridden fields for exception creation or update.
	Fields FieldSet
	// LastModified is the caller's view of the record's last-modified
	// timestamp; a stale view is rejected, never silently overwritten.
	LastModified time.Time
}

// TargetsSingleOccurrence reports whether the request scopes a single
// occurrence rather than the whole series.
func (r Request) TargetsSingleOccurrence() bool {
	return r.Position > 0 || !r.DatePosition.IsZero()
}

// Classify determines which action applies to the request given the stored
// record. It inspects only the request and the record; date/position
// resolution that needs an expansion happens in the Applier, which may
// narrow VirtualDelete to DeleteExistingException or widen it to FullDelete.
func Classify(req Request, stored appointment.Record) (Action, error) {
	switch s := stored.(type) {
	case *appointment.Override:
		if req.Position > 0 && req.Position != s.Position {
			return NoAction, ErrPositionImmutable
		}
		if !req.DatePosition.IsZero() && !recurrence.SameDay(req.DatePosition, s.DatePosition) {
			return NoAction, ErrPositionImmutable
		}
		if req.Delete {
			return ExceptionDelete, nil
		}
		return NoAction, nil

	case *appointment.Master:
		if !s.Recurring() {
			return NoAction, nil
		}
		if req.Pattern != nil && patternShapeChanged(&s.Pattern, req.Pattern) {
			return ChangePatternType, nil
		}
		for _, d := range req.DeleteExceptions {
			if s.HasChangeException(d) {
				return DeleteExistingException, nil
			}
		}
		if req.Delete {
			if !req.TargetsSingleOccurrence() && len(req.DeleteExceptions) == 0 {
				return FullDelete, nil
			}
			if !req.DatePosition.IsZero() && s.HasChangeException(req.DatePosition) {
				return DeleteExistingException, nil
			}
			return VirtualDelete, nil
		}
		if req.TargetsSingleOccurrence() {
			// Whether an override already exists for the day is decided by
			// the Applier against fresh store state; a duplicate surfaces
			// there as a concurrency failure.
			return CreateException, nil
		}
		return NoAction, nil
	}
	return NoAction, nil
}

// patternShapeChanged reports whether the incoming pattern changes the
// series shape. Positions computed under the old shape are meaningless under
// the new one.
func patternShapeChanged(stored, incoming *recurrence.Pattern) bool {
	return stored.Type != incoming.Type ||
		stored.Interval != incoming.Interval ||
		stored.Days != incoming.Days ||
		stored.DayInMonth != incoming.DayInMonth ||
		stored.Month != incoming.Month
}
