// Package storage declares the collaborator interfaces the engine consumes:
// persistence for masters and overrides, busy-time probing, the acting
// session, and the notification sink. The engine never implements these
// itself; hosts supply them (reference backends live in the memory and
// gormstore subpackages).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/samber/mo"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
)

// Storage connects the engine with the host's persistence layer. All calls
// are synchronous; timeout and retry policy are the host's concern. Please
// use the error values provided.
type Storage interface {
	// Load retrieves a master or override record by id.
	Load(ctx context.Context, id string) (appointment.Record, error)
	// Master retrieves a series master by id.
	Master(ctx context.Context, id string) (*appointment.Master, error)
	// OverrideByDate finds the override record of a master occupying the
	// given day slot, if one exists.
	OverrideByDate(ctx context.Context, masterID string, day time.Time) (mo.Option[*appointment.Override], error)
	// Overrides retrieves all override records of a master.
	Overrides(ctx context.Context, masterID string) ([]*appointment.Override, error)
	// InsertOverride persists a new override record. Implementations assign
	// ObjectID when it is empty.
	InsertOverride(ctx context.Context, o *appointment.Override) error
	// DeleteOverride removes an override record.
	DeleteOverride(ctx context.Context, id string) error
	// DeleteMaster removes a series master.
	DeleteMaster(ctx context.Context, id string) error
	// UpdateMasterExceptionLists replaces both exception lists of a master
	// and bumps its last-modified timestamp.
	UpdateMasterExceptionLists(ctx context.Context, masterID string, deleteDays, changeDays []time.Time, modified time.Time) error
	// UpdateMasterPattern installs a new recurrence pattern on a master and
	// bumps its last-modified timestamp.
	UpdateMasterPattern(ctx context.Context, masterID string, p recurrence.Pattern, modified time.Time) error
	// Tx executes fn as one atomic unit of work: either every operation fn
	// issues becomes visible, or none do.
	Tx(ctx context.Context, fn func(ctx context.Context, s Storage) error) error
}

// BusyInterval is one slice of committed time returned by a busy-time probe.
type BusyInterval struct {
	ObjectID     string
	OwnerID      string
	Title        string
	Start        time.Time
	End          time.Time
	FullDay      bool
	Transparency appointment.Transparency
	// Status is the probed participant's confirmation state for this
	// appointment.
	Status appointment.Status
	// Timezone is the IANA zone full-day intervals are aligned in.
	Timezone string
}

// BusyTimeProvider answers busy-time probes for users and resources.
type BusyTimeProvider interface {
	// ProbeBusyTime returns the busy intervals of the given participant and
	// resource ids intersecting [start, end).
	ProbeBusyTime(ctx context.Context, ids []string, start, end time.Time) ([]BusyInterval, error)
}

// Session supplies the acting user's identity, zone and visibility
// predicate. The predicate only filters what busy-time detail the conflict
// detector may disclose; it grants no other rights.
type Session interface {
	UserID() string
	Location() *time.Location
	// CanReadDetails reports whether appointments owned by ownerID may be
	// disclosed in full rather than as anonymized busy time.
	CanReadDetails(ownerID string) bool
}

// NotificationKind tags an event delivered to the notification sink.
type NotificationKind int

const (
	NotifyCreated NotificationKind = iota
	NotifyModified
	NotifyDeleted
)

// String provides a human-readable representation of the NotificationKind.
func (k NotificationKind) String() string {
	switch k {
	case NotifyCreated:
		return "created"
	case NotifyModified:
		return "modified"
	case NotifyDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Notifier receives one event per override created or deleted and one for
// the master on series-level changes. Delivery is best-effort: failures are
// logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, rec appointment.Record) error
}

var (
	// ErrNotFound is returned when a referenced master or override doesn't
	// exist. The engine never fabricates a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentModification is returned when a mutation's view of a
	// record is stale or a concurrent editor already created the same
	// exception. Callers should offer a reload/retry flow.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrStorageUnavailable is returned when the backend is unavailable.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
