package mutation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weeklyMaster() *appointment.Master {
	return &appointment.Master{
		Core: appointment.Core{ObjectID: "master-1", Owner: "alice"},
		Pattern: recurrence.Pattern{
			Type: recurrence.TypeWeekly, Interval: 1,
			Days:  recurrence.BitMonday,
			Start: day(2025, time.March, 3),
			Count: 10,
		},
	}
}

func TestClassify_Master(t *testing.T) {
	overridden := weeklyMaster()
	require.NoError(t, overridden.AddChangeException(day(2025, time.March, 10)))

	newPattern := weeklyMaster().Pattern
	newPattern.Type = recurrence.TypeDaily
	newPattern.Days = 0

	samePattern := weeklyMaster().Pattern
	samePattern.Count = 20

	tests := []struct {
		name   string
		req    Request
		stored *appointment.Master
		want   Action
	}{
		{
			name:   "non-recurring master",
			req:    Request{ObjectID: "master-1", Delete: true},
			stored: &appointment.Master{Core: appointment.Core{ObjectID: "master-1"}},
			want:   NoAction,
		},
		{
			name:   "series-wide edit",
			req:    Request{ObjectID: "master-1"},
			stored: weeklyMaster(),
			want:   NoAction,
		},
		{
			name:   "single occurrence edit",
			req:    Request{ObjectID: "master-1", DatePosition: day(2025, time.March, 10)},
			stored: weeklyMaster(),
			want:   CreateException,
		},
		{
			name:   "edit of an already overridden day defers to the applier",
			req:    Request{ObjectID: "master-1", DatePosition: day(2025, time.March, 10)},
			stored: overridden,
			want:   CreateException,
		},
		{
			name:   "delete whole series",
			req:    Request{ObjectID: "master-1", Delete: true},
			stored: weeklyMaster(),
			want:   FullDelete,
		},
		{
			name:   "delete plain occurrence",
			req:    Request{ObjectID: "master-1", Delete: true, DatePosition: day(2025, time.March, 10)},
			stored: weeklyMaster(),
			want:   VirtualDelete,
		},
		{
			name:   "delete overridden occurrence",
			req:    Request{ObjectID: "master-1", Delete: true, DatePosition: day(2025, time.March, 10)},
			stored: overridden,
			want:   DeleteExistingException,
		},
		{
			name:   "incoming exception day already overridden",
			req:    Request{ObjectID: "master-1", DeleteExceptions: []time.Time{day(2025, time.March, 10)}},
			stored: overridden,
			want:   DeleteExistingException,
		},
		{
			name:   "pattern shape change",
			req:    Request{ObjectID: "master-1", Pattern: &newPattern},
			stored: weeklyMaster(),
			want:   ChangePatternType,
		},
		{
			name:   "pattern with same shape",
			req:    Request{ObjectID: "master-1", Pattern: &samePattern},
			stored: weeklyMaster(),
			want:   NoAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.req, tt.stored)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Override(t *testing.T) {
	stored := &appointment.Override{
		Core:         appointment.Core{ObjectID: "override-1"},
		MasterID:     "master-1",
		Position:     2,
		DatePosition: day(2025, time.March, 10),
	}

	got, err := Classify(Request{ObjectID: "override-1", Delete: true}, stored)
	require.NoError(t, err)
	assert.Equal(t, ExceptionDelete, got)

	got, err = Classify(Request{ObjectID: "override-1"}, stored)
	require.NoError(t, err)
	assert.Equal(t, NoAction, got)

	_, err = Classify(Request{ObjectID: "override-1", Position: 3}, stored)
	assert.ErrorIs(t, err, ErrPositionImmutable)

	_, err = Classify(Request{ObjectID: "override-1", DatePosition: day(2025, time.March, 17)}, stored)
	assert.ErrorIs(t, err, ErrPositionImmutable)

	// Matching position or day slot is fine.
	got, err = Classify(Request{ObjectID: "override-1", Position: 2, Delete: true}, stored)
	require.NoError(t, err)
	assert.Equal(t, ExceptionDelete, got)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "no-action", NoAction.String())
	assert.Equal(t, "create-exception", CreateException.String())
	assert.Equal(t, "full-delete", FullDelete.String())
}
