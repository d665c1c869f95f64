package storage

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Load(ctx context.Context, id string) (appointment.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(appointment.Record), args.Error(1)
}

func (m *MockStorage) Master(ctx context.Context, id string) (*appointment.Master, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appointment.Master), args.Error(1)
}

func (m *MockStorage) OverrideByDate(ctx context.Context, masterID string, day time.Time) (mo.Option[*appointment.Override], error) {
	args := m.Called(ctx, masterID, day)
	return args.Get(0).(mo.Option[*appointment.Override]), args.Error(1)
}

func (m *MockStorage) Overrides(ctx context.Context, masterID string) ([]*appointment.Override, error) {
	args := m.Called(ctx, masterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*appointment.Override), args.Error(1)
}

func (m *MockStorage) InsertOverride(ctx context.Context, o *appointment.Override) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockStorage) DeleteOverride(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStorage) DeleteMaster(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStorage) UpdateMasterExceptionLists(ctx context.Context, masterID string, deleteDays, changeDays []time.Time, modified time.Time) error {
	args := m.Called(ctx, masterID, deleteDays, changeDays, modified)
	return args.Error(0)
}

func (m *MockStorage) UpdateMasterPattern(ctx context.Context, masterID string, p recurrence.Pattern, modified time.Time) error {
	args := m.Called(ctx, masterID, p, modified)
	return args.Error(0)
}

func (m *MockStorage) Tx(ctx context.Context, fn func(ctx context.Context, s Storage) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx, m)
}

// MockBusyTimeProvider implements the BusyTimeProvider interface for testing
type MockBusyTimeProvider struct {
	mock.Mock
}

func (m *MockBusyTimeProvider) ProbeBusyTime(ctx context.Context, ids []string, start, end time.Time) ([]BusyInterval, error) {
	args := m.Called(ctx, ids, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]BusyInterval), args.Error(1)
}

// MockNotifier implements the Notifier interface for testing
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, kind NotificationKind, rec appointment.Record) error {
	args := m.Called(ctx, kind, rec)
	return args.Error(0)
}

// StaticSession is a fixed-value Session for tests and examples.
type StaticSession struct {
	User     string
	Loc      *time.Location
	ReadAll  bool
	Readable map[string]bool
}

func (s *StaticSession) UserID() string { return s.User }

func (s *StaticSession) Location() *time.Location {
	if s.Loc == nil {
		return time.UTC
	}
	return s.Loc
}

func (s *StaticSession) CanReadDetails(ownerID string) bool {
	if s.ReadAll {
		return true
	}
	return s.Readable[ownerID]
}
