package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
	"github.com/rkellner/libgroupcal/storage/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type detectorFixture struct {
	store    *memory.Store
	detector *Detector
	session  *storage.StaticSession
}

func newDetectorFixture(t *testing.T, now time.Time) *detectorFixture {
	t.Helper()
	store := memory.New()
	expander := recurrence.NewExpanderWithConfig(recurrence.NoCacheExpanderConfig, nil)
	d := NewDetector(store, expander, nil)
	d.now = func() time.Time { return now }
	return &detectorFixture{
		store:    store,
		detector: d,
		session:  &storage.StaticSession{User: "carol", ReadAll: true},
	}
}

// weeklyStandup is a weekly Monday 10:00-11:00 series starting 2025-03-03.
func weeklyStandup(participants ...appointment.Participant) *appointment.Master {
	return &appointment.Master{
		Core: appointment.Core{
			Owner:        "alice",
			Title:        "standup",
			Participants: participants,
		},
		Pattern: recurrence.Pattern{
			Type: recurrence.TypeWeekly, Interval: 1,
			Days:      recurrence.BitMonday,
			Start:     day(2025, time.March, 3),
			TimeOfDay: 10 * time.Hour,
			Diff:      time.Hour,
			Count:     10,
		},
	}
}

func oneOff(owner string, start, end time.Time, participants ...appointment.Participant) *appointment.Master {
	return &appointment.Master{
		Core: appointment.Core{
			Owner:        owner,
			Title:        "meeting",
			Start:        start,
			End:          end,
			Participants: participants,
		},
	}
}

func TestFindConflicts_OverlappingOccurrence(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	alice := appointment.Participant{ID: "alice", Kind: appointment.KindUser, Status: appointment.StatusAccepted}
	existingID := f.store.PutMaster(weeklyStandup(alice))

	candidate := oneOff("carol",
		time.Date(2025, time.March, 10, 10, 30, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 11, 30, 0, 0, time.UTC),
		alice)

	conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, existingID, conflicts[0].ObjectID)
	assert.Equal(t, "standup", conflicts[0].Title)
	assert.False(t, conflicts[0].Hidden)
}

func TestFindConflicts_TouchingIsFree(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}
	f.store.PutMaster(weeklyStandup(alice))

	// Starts exactly when the standup ends.
	candidate := oneOff("carol",
		time.Date(2025, time.March, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC),
		alice)

	conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestFindConflicts_RecurringCandidateDeduplicates(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}
	existingID := f.store.PutMaster(weeklyStandup(alice))

	candidate := weeklyStandup(alice)
	candidate.Pattern.TimeOfDay = 10*time.Hour + 30*time.Minute
	candidate.Pattern.Count = 3

	conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
	require.NoError(t, err)
	require.Len(t, conflicts, 1, "the same series is reported once across occurrences")
	assert.Equal(t, existingID, conflicts[0].ObjectID)
}

func TestFindConflicts_Exclusions(t *testing.T) {
	now := day(2025, time.March, 1)
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}
	window := func() (time.Time, time.Time) {
		return time.Date(2025, time.March, 10, 10, 30, 0, 0, time.UTC),
			time.Date(2025, time.March, 10, 11, 30, 0, 0, time.UTC)
	}

	t.Run("suppressed scope", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		f.store.PutMaster(weeklyStandup(alice))
		s, e := window()
		conflicts, err := f.detector.FindConflicts(context.Background(), oneOff("carol", s, e, alice), Scope{Session: f.session, Suppress: true})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("transparent candidate", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		f.store.PutMaster(weeklyStandup(alice))
		s, e := window()
		candidate := oneOff("carol", s, e, alice)
		candidate.Transparency = appointment.Transparent
		conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("no participants", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		f.store.PutMaster(weeklyStandup(alice))
		s, e := window()
		conflicts, err := f.detector.FindConflicts(context.Background(), oneOff("carol", s, e), Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("transparent existing", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		existing := weeklyStandup(alice)
		existing.Transparency = appointment.Transparent
		f.store.PutMaster(existing)
		s, e := window()
		conflicts, err := f.detector.FindConflicts(context.Background(), oneOff("carol", s, e, alice), Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("declined existing", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		declined := alice
		declined.Status = appointment.StatusDeclined
		f.store.PutMaster(weeklyStandup(declined))
		s, e := window()
		conflicts, err := f.detector.FindConflicts(context.Background(), oneOff("carol", s, e, alice), Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("candidate is the stored record", func(t *testing.T) {
		f := newDetectorFixture(t, now)
		candidate := weeklyStandup(alice)
		f.store.PutMaster(candidate)
		conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts, "a record never conflicts with itself")
	})

	t.Run("candidate entirely in the past", func(t *testing.T) {
		f := newDetectorFixture(t, day(2025, time.April, 1))
		f.store.PutMaster(weeklyStandup(alice))
		s, e := window()
		conflicts, err := f.detector.FindConflicts(context.Background(), oneOff("carol", s, e, alice), Scope{Session: f.session})
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})
}

func TestFindConflicts_Anonymizes(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	f.session = &storage.StaticSession{User: "carol"}
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}
	f.store.PutMaster(weeklyStandup(alice))

	candidate := oneOff("carol",
		time.Date(2025, time.March, 10, 10, 30, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 11, 30, 0, 0, time.UTC),
		alice)

	conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.True(t, conflicts[0].Hidden)
	assert.Empty(t, conflicts[0].Title)
	assert.Equal(t, "alice", conflicts[0].OwnerID)
}

func TestFindConflicts_FullDayAlignment(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}

	// All-day on the local day 2025-03-10 in Tokyo, which runs from
	// 2025-03-09T15:00Z to 2025-03-10T15:00Z.
	allDay := oneOff("alice", day(2025, time.March, 10), day(2025, time.March, 11), alice)
	allDay.FullDay = true
	allDay.Timezone = "Asia/Tokyo"
	f.store.PutMaster(allDay)

	inside := oneOff("carol",
		time.Date(2025, time.March, 9, 23, 30, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 0, 30, 0, 0, time.UTC),
		alice)
	conflicts, err := f.detector.FindConflicts(context.Background(), inside, Scope{Session: f.session})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	after := oneOff("carol",
		time.Date(2025, time.March, 10, 20, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 21, 0, 0, 0, time.UTC),
		alice)
	conflicts, err = f.detector.FindConflicts(context.Background(), after, Scope{Session: f.session})
	require.NoError(t, err)
	assert.Empty(t, conflicts, "the Tokyo day ends at 15:00 UTC")
}

func TestFindConflicts_RangeBoundsRecurringCandidate(t *testing.T) {
	f := newDetectorFixture(t, day(2025, time.March, 1))
	alice := appointment.Participant{ID: "alice", Status: appointment.StatusAccepted}
	// A one-off colliding only with the third occurrence.
	f.store.PutMaster(oneOff("alice",
		time.Date(2025, time.March, 17, 10, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 17, 11, 0, 0, 0, time.UTC),
		alice))

	candidate := weeklyStandup(alice)
	candidate.ObjectID = "candidate"

	conflicts, err := f.detector.FindConflicts(context.Background(), candidate, Scope{
		Session:    f.session,
		RangeStart: day(2025, time.March, 3),
		RangeEnd:   day(2025, time.March, 15),
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts, "the colliding occurrence is outside the probed range")

	conflicts, err = f.detector.FindConflicts(context.Background(), candidate, Scope{Session: f.session})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}
