package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testStore(t *testing.T) *Store {
	t.Helper()
	// A named shared-cache database keeps the pooled connections on the
	// same in-memory instance while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func sampleMaster() *appointment.Master {
	return &appointment.Master{
		Core: appointment.Core{
			Owner: "alice",
			Title: "standup",
			Participants: []appointment.Participant{
				{ID: "alice", Kind: appointment.KindUser, Status: appointment.StatusAccepted},
				{ID: "room-1", Kind: appointment.KindResource},
			},
			Timezone:     "Asia/Tokyo",
			LastModified: day(2025, time.March, 1),
		},
		Pattern: recurrence.Pattern{
			Type: recurrence.TypeWeekly, Interval: 1,
			Days:      recurrence.BitMonday,
			Start:     day(2025, time.March, 3),
			TimeOfDay: 10 * time.Hour,
			Diff:      time.Hour,
			Count:     4,
			Timezone:  "Asia/Tokyo",
		},
		DeleteExceptions: []time.Time{day(2025, time.March, 17)},
	}
}

func TestStore_MasterRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	src := sampleMaster()
	id, err := s.PutMaster(ctx, src)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m, err := s.Master(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, src.Title, m.Title)
	assert.Equal(t, src.Participants, m.Participants)
	assert.Equal(t, src.Timezone, m.Timezone)
	assert.Equal(t, src.LastModified, m.LastModified)

	assert.Equal(t, recurrence.TypeWeekly, m.Pattern.Type)
	assert.Equal(t, recurrence.BitMonday, m.Pattern.Days)
	assert.Equal(t, 10*time.Hour, m.Pattern.TimeOfDay)
	assert.Equal(t, time.Hour, m.Pattern.Diff)
	assert.Equal(t, "Asia/Tokyo", m.Pattern.Timezone)
	assert.True(t, m.Pattern.Start.Equal(src.Pattern.Start))
	assert.Equal(t, 4, m.Pattern.Count)
	assert.True(t, m.HasDeleteException(day(2025, time.March, 17)))

	rec, err := s.Load(ctx, id)
	require.NoError(t, err)
	_, ok := rec.(*appointment.Master)
	assert.True(t, ok)

	_, err = s.Master(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_NonRecurringMaster(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.PutMaster(ctx, &appointment.Master{
		Core: appointment.Core{
			Owner: "alice",
			Title: "dentist",
			Start: time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	m, err := s.Master(ctx, id)
	require.NoError(t, err)
	assert.False(t, m.Recurring())
}

func TestStore_OverrideRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	masterID, err := s.PutMaster(ctx, sampleMaster())
	require.NoError(t, err)

	o := &appointment.Override{
		Core: appointment.Core{
			Owner: "alice",
			Title: "standup (moved)",
			Start: time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC),
			Participants: []appointment.Participant{
				{ID: "alice", Status: appointment.StatusAccepted},
			},
			LastModified: day(2025, time.March, 5),
		},
		MasterID:     masterID,
		Position:     2,
		DatePosition: day(2025, time.March, 10),
	}
	require.NoError(t, s.InsertOverride(ctx, o))
	require.NotEmpty(t, o.ObjectID)

	got, err := s.OverrideByDate(ctx, masterID, day(2025, time.March, 10))
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	loaded := got.MustGet()
	assert.Equal(t, o.Title, loaded.Title)
	assert.Equal(t, 2, loaded.Position)
	assert.True(t, loaded.DatePosition.Equal(day(2025, time.March, 10)))

	none, err := s.OverrideByDate(ctx, masterID, day(2025, time.March, 24))
	require.NoError(t, err)
	assert.True(t, none.IsAbsent())

	dup := &appointment.Override{MasterID: masterID, DatePosition: day(2025, time.March, 10)}
	assert.ErrorIs(t, s.InsertOverride(ctx, dup), storage.ErrConcurrentModification)

	all, err := s.Overrides(ctx, masterID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteOverride(ctx, o.ObjectID))
	assert.ErrorIs(t, s.DeleteOverride(ctx, o.ObjectID), storage.ErrNotFound)
}

func TestStore_UpdateMaster(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id, err := s.PutMaster(ctx, sampleMaster())
	require.NoError(t, err)
	modified := day(2025, time.March, 20)

	err = s.UpdateMasterExceptionLists(ctx, id,
		[]time.Time{day(2025, time.March, 10)},
		[]time.Time{day(2025, time.March, 24)},
		modified)
	require.NoError(t, err)

	m, err := s.Master(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.HasDeleteException(day(2025, time.March, 10)))
	assert.True(t, m.HasChangeException(day(2025, time.March, 24)))
	assert.False(t, m.HasDeleteException(day(2025, time.March, 17)), "lists are replaced, not merged")
	assert.Equal(t, modified, m.LastModified)

	newPattern := recurrence.Pattern{
		Type: recurrence.TypeDaily, Interval: 2,
		Start:     day(2025, time.March, 3),
		TimeOfDay: 9 * time.Hour,
		Count:     5,
	}
	require.NoError(t, s.UpdateMasterPattern(ctx, id, newPattern, modified))
	m, err = s.Master(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recurrence.TypeDaily, m.Pattern.Type)
	assert.Equal(t, 2, m.Pattern.Interval)
	assert.Equal(t, 9*time.Hour, m.Pattern.TimeOfDay)

	assert.ErrorIs(t, s.UpdateMasterExceptionLists(ctx, "missing", nil, nil, modified), storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMaster(ctx, "missing"), storage.ErrNotFound)
	require.NoError(t, s.DeleteMaster(ctx, id))
}

func TestStore_TxRollsBack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	masterID, err := s.PutMaster(ctx, sampleMaster())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Tx(ctx, func(ctx context.Context, st storage.Storage) error {
		o := &appointment.Override{MasterID: masterID, DatePosition: day(2025, time.March, 10)}
		if err := st.InsertOverride(ctx, o); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.OverrideByDate(ctx, masterID, day(2025, time.March, 10))
	require.NoError(t, err)
	assert.True(t, got.IsAbsent(), "the failed transaction left nothing behind")
}

func TestStore_ProbeBusyTime(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, err := s.PutMaster(ctx, sampleMaster())
	require.NoError(t, err)

	busy, err := s.ProbeBusyTime(ctx, []string{"alice"},
		time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC), busy[0].Start)
	assert.Equal(t, "Asia/Tokyo", busy[0].Timezone)

	// The resource id matches too.
	busy, err = s.ProbeBusyTime(ctx, []string{"room-1"},
		time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, busy, 1)

	busy, err = s.ProbeBusyTime(ctx, []string{"nobody"},
		day(2025, time.March, 3), day(2025, time.April, 1))
	require.NoError(t, err)
	assert.Empty(t, busy)
}
