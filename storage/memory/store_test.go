package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleMaster() *appointment.Master {
	return &appointment.Master{
		Core: appointment.Core{
			Owner: "alice",
			Title: "standup",
			Participants: []appointment.Participant{
				{ID: "alice", Kind: appointment.KindUser, Status: appointment.StatusAccepted},
			},
			LastModified: day(2025, time.March, 1),
		},
		Pattern: recurrence.Pattern{
			Type: recurrence.TypeWeekly, Interval: 1,
			Days:      recurrence.BitMonday,
			Start:     day(2025, time.March, 3),
			TimeOfDay: 10 * time.Hour,
			Diff:      time.Hour,
			Count:     4,
		},
	}
}

func TestStore_LoadRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := s.PutMaster(sampleMaster())
	require.NotEmpty(t, id)

	rec, err := s.Load(ctx, id)
	require.NoError(t, err)
	m, ok := rec.(*appointment.Master)
	require.True(t, ok)
	assert.Equal(t, "standup", m.Title)
	assert.True(t, m.Recurring())

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Master(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_LoadReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := s.PutMaster(sampleMaster())

	m1, err := s.Master(ctx, id)
	require.NoError(t, err)
	m1.Title = "tampered"
	m1.Participants[0].ID = "mallory"

	m2, err := s.Master(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "standup", m2.Title)
	assert.Equal(t, "alice", m2.Participants[0].ID)
}

func TestStore_Overrides(t *testing.T) {
	s := New()
	ctx := context.Background()
	masterID := s.PutMaster(sampleMaster())

	o := &appointment.Override{
		Core:         appointment.Core{Owner: "alice", Title: "moved"},
		MasterID:     masterID,
		Position:     2,
		DatePosition: day(2025, time.March, 10),
	}
	require.NoError(t, s.InsertOverride(ctx, o))
	require.NotEmpty(t, o.ObjectID)

	got, err := s.OverrideByDate(ctx, masterID, day(2025, time.March, 10))
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	assert.Equal(t, "moved", got.MustGet().Title)

	none, err := s.OverrideByDate(ctx, masterID, day(2025, time.March, 17))
	require.NoError(t, err)
	assert.True(t, none.IsAbsent())

	all, err := s.Overrides(ctx, masterID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// A second override on the same day is a concurrent edit.
	dup := &appointment.Override{
		MasterID:     masterID,
		DatePosition: day(2025, time.March, 10),
	}
	assert.ErrorIs(t, s.InsertOverride(ctx, dup), storage.ErrConcurrentModification)

	require.NoError(t, s.DeleteOverride(ctx, o.ObjectID))
	assert.ErrorIs(t, s.DeleteOverride(ctx, o.ObjectID), storage.ErrNotFound)
}

func TestStore_UpdateMaster(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := s.PutMaster(sampleMaster())
	modified := day(2025, time.March, 15)

	err := s.UpdateMasterExceptionLists(ctx, id,
		[]time.Time{day(2025, time.March, 10)}, nil, modified)
	require.NoError(t, err)

	m, err := s.Master(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.HasDeleteException(day(2025, time.March, 10)))
	assert.Equal(t, modified, m.LastModified)

	newPattern := recurrence.Pattern{
		Type: recurrence.TypeDaily, Interval: 1,
		Start: day(2025, time.March, 3), Count: 5,
	}
	require.NoError(t, s.UpdateMasterPattern(ctx, id, newPattern, modified))
	m, err = s.Master(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recurrence.TypeDaily, m.Pattern.Type)

	assert.ErrorIs(t, s.UpdateMasterPattern(ctx, "missing", newPattern, modified), storage.ErrNotFound)

	require.NoError(t, s.DeleteMaster(ctx, id))
	assert.ErrorIs(t, s.DeleteMaster(ctx, id), storage.ErrNotFound)
}

func TestStore_ProbeBusyTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutMaster(sampleMaster())

	// Probe the second Monday's slot.
	busy, err := s.ProbeBusyTime(ctx, []string{"alice"},
		time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC), busy[0].Start)
	assert.Equal(t, time.Date(2025, time.March, 10, 11, 0, 0, 0, time.UTC), busy[0].End)
	assert.Equal(t, appointment.StatusAccepted, busy[0].Status)

	// Unknown participant sees nothing.
	busy, err = s.ProbeBusyTime(ctx, []string{"bob"},
		day(2025, time.March, 3), day(2025, time.April, 1))
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestStore_ProbeBusyTimeHonorsExceptions(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := sampleMaster()
	require.NoError(t, m.AddDeleteException(day(2025, time.March, 10)))
	s.PutMaster(m)

	busy, err := s.ProbeBusyTime(ctx, []string{"alice"},
		day(2025, time.March, 10), day(2025, time.March, 11))
	require.NoError(t, err)
	assert.Empty(t, busy, "a delete-excepted occurrence contributes no busy time")
}
