// Package memory provides an in-memory storage backend for testing and
// examples.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
)

// Store implements storage.Storage and storage.BusyTimeProvider using
// in-memory maps.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	masters   map[string]*appointment.Master
	overrides map[string]*appointment.Override

	expander *recurrence.Expander
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		masters:   make(map[string]*appointment.Master),
		overrides: make(map[string]*appointment.Override),
		expander:  recurrence.NewExpanderWithConfig(recurrence.NoCacheExpanderConfig, nil),
	}
}

// PutMaster stores a master record, assigning an id when it has none.
// Returns the id.
func (s *Store) PutMaster(m *appointment.Master) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ObjectID == "" {
		m.ObjectID = uuid.NewString()
	}
	s.masters[m.ObjectID] = m.Clone()
	return m.ObjectID
}

func (s *Store) Load(_ context.Context, id string) (appointment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.masters[id]; ok {
		return m.Clone(), nil
	}
	if o, ok := s.overrides[id]; ok {
		return cloneOverride(o), nil
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

func (s *Store) Master(_ context.Context, id string) (*appointment.Master, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.masters[id]
	if !ok {
		return nil, fmt.Errorf("%w: master %s", storage.ErrNotFound, id)
	}
	return m.Clone(), nil
}

func (s *Store) OverrideByDate(_ context.Context, masterID string, day time.Time) (mo.Option[*appointment.Override], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := recurrence.NormalizeDay(day)
	for _, o := range s.overrides {
		if o.MasterID == masterID && recurrence.NormalizeDay(o.DatePosition).Equal(want) {
			return mo.Some(cloneOverride(o)), nil
		}
	}
	return mo.None[*appointment.Override](), nil
}

func (s *Store) Overrides(_ context.Context, masterID string) ([]*appointment.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*appointment.Override
	for _, o := range s.overrides {
		if o.MasterID == masterID {
			out = append(out, cloneOverride(o))
		}
	}
	return out, nil
}

func (s *Store) InsertOverride(_ context.Context, o *appointment.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := recurrence.NormalizeDay(o.DatePosition)
	for _, existing := range s.overrides {
		if existing.MasterID == o.MasterID && recurrence.NormalizeDay(existing.DatePosition).Equal(want) {
			return fmt.Errorf("%w: override for %s already exists", storage.ErrConcurrentModification, want.Format("2006-01-02"))
		}
	}
	if o.ObjectID == "" {
		o.ObjectID = uuid.NewString()
	}
	s.overrides[o.ObjectID] = cloneOverride(o)
	return nil
}

func (s *Store) DeleteOverride(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[id]; !ok {
		return fmt.Errorf("%w: override %s", storage.ErrNotFound, id)
	}
	delete(s.overrides, id)
	return nil
}

func (s *Store) DeleteMaster(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.masters[id]; !ok {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, id)
	}
	delete(s.masters, id)
	return nil
}

func (s *Store) UpdateMasterExceptionLists(_ context.Context, masterID string, deleteDays, changeDays []time.Time, modified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.masters[masterID]
	if !ok {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, masterID)
	}
	m.DeleteExceptions = append([]time.Time(nil), deleteDays...)
	m.ChangeExceptions = append([]time.Time(nil), changeDays...)
	m.LastModified = modified
	return nil
}

func (s *Store) UpdateMasterPattern(_ context.Context, masterID string, p recurrence.Pattern, modified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.masters[masterID]
	if !ok {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, masterID)
	}
	m.Pattern = p
	m.LastModified = modified
	return nil
}

// Tx serializes units of work against the store. The backend keeps no
// journal, so a failing fn may leave earlier operations applied; production
// hosts supply a real transaction boundary.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, st storage.Storage) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx, s)
}

// ProbeBusyTime derives busy intervals from the stored records: recurring
// masters are expanded per occurrence, overrides and one-off masters
// contribute their own interval.
func (s *Store) ProbeBusyTime(_ context.Context, ids []string, start, end time.Time) ([]storage.BusyInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var out []storage.BusyInterval
	for _, m := range s.masters {
		p, ok := matchParticipant(m.Participants, want)
		if !ok {
			continue
		}
		if !m.Recurring() {
			if m.Start.Before(end) && m.End.After(start) {
				out = append(out, busyFrom(&m.Core, p))
			}
			continue
		}
		res, err := s.expander.Expand(&m.Pattern, m.Exceptions(), recurrence.Options{
			RangeStart: start,
			RangeEnd:   end,
		})
		if err != nil {
			return nil, fmt.Errorf("expanding master %s: %w", m.ObjectID, err)
		}
		for _, occ := range res.All() {
			b := busyFrom(&m.Core, p)
			b.Start, b.End = occ.Start, occ.End
			out = append(out, b)
		}
	}
	for _, o := range s.overrides {
		p, ok := matchParticipant(o.Participants, want)
		if !ok {
			continue
		}
		if o.Start.Before(end) && o.End.After(start) {
			out = append(out, busyFrom(&o.Core, p))
		}
	}
	return out, nil
}

func matchParticipant(parts []appointment.Participant, want map[string]struct{}) (appointment.Participant, bool) {
	for _, p := range parts {
		if _, ok := want[p.ID]; ok {
			return p, true
		}
	}
	return appointment.Participant{}, false
}

func busyFrom(c *appointment.Core, p appointment.Participant) storage.BusyInterval {
	return storage.BusyInterval{
		ObjectID:     c.ObjectID,
		OwnerID:      c.Owner,
		Title:        c.Title,
		Start:        c.Start,
		End:          c.End,
		FullDay:      c.FullDay,
		Transparency: c.Transparency,
		Status:       p.Status,
		Timezone:     c.Timezone,
	}
}

func cloneOverride(o *appointment.Override) *appointment.Override {
	out := *o
	out.Participants = append([]appointment.Participant(nil), o.Participants...)
	return &out
}
