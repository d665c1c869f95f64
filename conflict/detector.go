package conflict

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
)

// MaxConflicts caps the number of conflicts reported for one candidate.
const MaxConflicts = 999

// Conflict is one existing appointment overlapping the candidate. When the
// session may not read the owner's details the entry is anonymized: Hidden
// is set and Title is empty. The interval and the owner id stay visible
// even then. The blocked window is what the scheduling caller needs to
// propose an alternative slot, and the owner id is the handle for asking
// that person to move; both are already exposed through free/busy probing,
// so withholding them here would hide nothing.
type Conflict struct {
	ObjectID string
	OwnerID  string
	Title    string
	Start    time.Time
	End      time.Time
	Hidden   bool
}

// Scope bounds and parameterizes one conflict search.
type Scope struct {
	// Session filters what busy-time detail may be disclosed and supplies
	// the zone full-day candidates are aligned in.
	Session storage.Session
	// RangeStart and RangeEnd bound the probed window for recurring
	// candidates; zero values probe the full series.
	RangeStart time.Time
	RangeEnd   time.Time
	// Suppress skips conflict checking entirely.
	Suppress bool
}

// Detector probes busy time for conflicts. It is read-only and takes no
// locks; a race with a concurrent commit is tolerated as best-effort and
// re-validated by the optimistic check on insert.
type Detector struct {
	busy     storage.BusyTimeProvider
	expander *recurrence.Expander
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a detector. A nil logger discards log output.
func NewDetector(busy storage.BusyTimeProvider, expander *recurrence.Expander, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{
		busy:     busy,
		expander: expander,
		logger:   logger,
		now:      time.Now,
	}
}

// FindConflicts reports the existing appointments whose busy time overlaps
// the candidate. Recurring candidates are probed once per occurrence;
// results are unioned, de-duplicated and truncated at MaxConflicts.
func (d *Detector) FindConflicts(ctx context.Context, candidate *appointment.Master, scope Scope) ([]Conflict, error) {
	if scope.Suppress || candidate.Transparency == appointment.Transparent {
		return nil, nil
	}
	ids := candidate.ParticipantIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	loc := sessionLocation(scope.Session)
	now := d.now()

	var windows [][2]time.Time
	if candidate.Recurring() {
		res, err := d.expander.Expand(&candidate.Pattern, candidate.Exceptions(), recurrence.Options{
			RangeStart: scope.RangeStart,
			RangeEnd:   scope.RangeEnd,
		})
		if err != nil {
			return nil, fmt.Errorf("expanding candidate series: %w", err)
		}
		for _, occ := range res.All() {
			start, end := alignInterval(occ.Start, occ.End, candidate.FullDay, loc)
			if !end.After(now) {
				continue
			}
			windows = append(windows, [2]time.Time{start, end})
		}
	} else {
		start, end := alignInterval(candidate.Start, candidate.End, candidate.FullDay, loc)
		if !end.After(now) {
			return nil, nil
		}
		windows = append(windows, [2]time.Time{start, end})
	}

	seen := make(map[string]struct{})
	var conflicts []Conflict
	for _, w := range windows {
		busy, err := d.busy.ProbeBusyTime(ctx, ids, w[0], w[1])
		if err != nil {
			return nil, fmt.Errorf("probing busy time: %w", err)
		}
		for _, b := range busy {
			if !d.relevant(candidate, b, w[0], w[1], now) {
				continue
			}
			if _, dup := seen[b.ObjectID]; dup {
				continue
			}
			seen[b.ObjectID] = struct{}{}
			conflicts = append(conflicts, d.disclose(scope.Session, b))
			if len(conflicts) >= MaxConflicts {
				d.logger.Warn("conflict list truncated",
					"candidate", candidate.ObjectID, "max", MaxConflicts)
				return conflicts, nil
			}
		}
	}
	return conflicts, nil
}

// relevant applies the exclusion rules to one probed busy interval.
func (d *Detector) relevant(candidate *appointment.Master, b storage.BusyInterval, wStart, wEnd time.Time, now time.Time) bool {
	// The record being edited never conflicts with itself.
	if b.ObjectID == candidate.ObjectID && candidate.ObjectID != "" {
		return false
	}
	if !b.End.After(now) {
		return false
	}
	if b.Status == appointment.StatusDeclined {
		return false
	}
	if b.Transparency == appointment.Transparent {
		return false
	}
	bStart, bEnd := b.Start, b.End
	if b.FullDay {
		bStart, bEnd = alignInterval(bStart, bEnd, true, busyLocation(b))
	}
	return Overlaps(wStart, wEnd, bStart, bEnd)
}

// disclose builds the reported conflict, anonymizing detail the session may
// not read.
func (d *Detector) disclose(session storage.Session, b storage.BusyInterval) Conflict {
	c := Conflict{
		ObjectID: b.ObjectID,
		OwnerID:  b.OwnerID,
		Start:    b.Start,
		End:      b.End,
	}
	if session != nil && session.CanReadDetails(b.OwnerID) {
		c.Title = b.Title
	} else {
		c.Hidden = true
	}
	return c
}

// alignInterval widens a full-day interval to the full local calendar days
// it covers, normalized back to UTC, so an all-day event occupies the whole
// local day regardless of the querying zone.
func alignInterval(start, end time.Time, fullDay bool, loc *time.Location) (time.Time, time.Time) {
	if !fullDay {
		return start, end
	}
	if loc == nil {
		loc = time.UTC
	}
	// Full-day records are stored day-aligned in UTC; their dates name the
	// local days they occupy.
	su := start.UTC()
	eu := end.UTC()
	alignedStart := time.Date(su.Year(), su.Month(), su.Day(), 0, 0, 0, 0, loc)
	alignedEnd := time.Date(eu.Year(), eu.Month(), eu.Day(), 0, 0, 0, 0, loc)
	if !alignedEnd.After(alignedStart) {
		alignedEnd = alignedStart.AddDate(0, 0, 1)
	}
	return alignedStart.UTC(), alignedEnd.UTC()
}

func sessionLocation(s storage.Session) *time.Location {
	if s == nil {
		return time.UTC
	}
	return s.Location()
}

func busyLocation(b storage.BusyInterval) *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
