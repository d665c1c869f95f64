// Package gormstore provides a SQL storage backend built on GORM. It keeps
// masters and overrides in two tables, serializes recurrence patterns with
// the token codec, and maps the engine's unit-of-work boundary onto database
// transactions.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"gorm.io/gorm"

	"github.com/rkellner/libgroupcal/appointment"
	"github.com/rkellner/libgroupcal/recurrence"
	"github.com/rkellner/libgroupcal/storage"
)

type masterRow struct {
	ID               string `gorm:"primaryKey"`
	Owner            string
	Title            string
	StartMS          int64
	EndMS            int64
	FullDay          bool
	Transparent      bool
	Timezone         string
	Participants     string
	Pattern          string
	TimeOfDayMS      int64
	DiffMS           int64
	DayOffset        int
	DeleteExceptions string
	ChangeExceptions string
	ModifiedMS       int64
}

func (masterRow) TableName() string { return "appointment_masters" }

type overrideRow struct {
	ID             string `gorm:"primaryKey"`
	MasterID       string `gorm:"index"`
	Position       int
	DatePositionMS int64
	Owner          string
	Title          string
	StartMS        int64
	EndMS          int64
	FullDay        bool
	Transparent    bool
	Timezone       string
	Participants   string
	ModifiedMS     int64
}

func (overrideRow) TableName() string { return "appointment_overrides" }

// Store implements storage.Storage and storage.BusyTimeProvider using GORM.
type Store struct {
	db       *gorm.DB
	codec    *recurrence.Codec
	expander *recurrence.Expander
}

// New creates a store on the given database handle and migrates its tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&masterRow{}, &overrideRow{}); err != nil {
		return nil, fmt.Errorf("migrating appointment tables: %w", err)
	}
	return &Store{
		db:       db,
		codec:    recurrence.NewCodec(nil),
		expander: recurrence.NewExpanderWithConfig(recurrence.NoCacheExpanderConfig, nil),
	}, nil
}

func (s *Store) Load(ctx context.Context, id string) (appointment.Record, error) {
	if m, err := s.Master(ctx, id); err == nil {
		return m, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	var row overrideRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading record %s: %w", id, err)
	}
	return overrideFromRow(&row), nil
}

func (s *Store) Master(ctx context.Context, id string) (*appointment.Master, error) {
	var row masterRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: master %s", storage.ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading master %s: %w", id, err)
	}
	return s.masterFromRow(&row)
}

func (s *Store) OverrideByDate(ctx context.Context, masterID string, day time.Time) (mo.Option[*appointment.Override], error) {
	none := mo.None[*appointment.Override]()
	var row overrideRow
	ms := recurrence.NormalizeDay(day).UnixMilli()
	err := s.db.WithContext(ctx).
		First(&row, "master_id = ? AND date_position_ms = ?", masterID, ms).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return none, nil
		}
		return none, fmt.Errorf("looking up override: %w", err)
	}
	return mo.Some(overrideFromRow(&row)), nil
}

func (s *Store) Overrides(ctx context.Context, masterID string) ([]*appointment.Override, error) {
	var rows []overrideRow
	if err := s.db.WithContext(ctx).Find(&rows, "master_id = ?", masterID).Error; err != nil {
		return nil, fmt.Errorf("listing overrides of %s: %w", masterID, err)
	}
	out := make([]*appointment.Override, 0, len(rows))
	for i := range rows {
		out = append(out, overrideFromRow(&rows[i]))
	}
	return out, nil
}

// PutMaster inserts or replaces a master record. Returns the id.
func (s *Store) PutMaster(ctx context.Context, m *appointment.Master) (string, error) {
	if m.ObjectID == "" {
		m.ObjectID = newID()
	}
	row, err := s.masterToRow(m)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return "", fmt.Errorf("saving master %s: %w", m.ObjectID, err)
	}
	return m.ObjectID, nil
}

func (s *Store) InsertOverride(ctx context.Context, o *appointment.Override) error {
	ms := recurrence.NormalizeDay(o.DatePosition).UnixMilli()
	var count int64
	err := s.db.WithContext(ctx).Model(&overrideRow{}).
		Where("master_id = ? AND date_position_ms = ?", o.MasterID, ms).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("checking for existing override: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: override for %s already exists",
			storage.ErrConcurrentModification, recurrence.NormalizeDay(o.DatePosition).Format("2006-01-02"))
	}
	if o.ObjectID == "" {
		o.ObjectID = newID()
	}
	if err := s.db.WithContext(ctx).Create(overrideToRow(o)).Error; err != nil {
		return fmt.Errorf("inserting override %s: %w", o.ObjectID, err)
	}
	return nil
}

func (s *Store) DeleteOverride(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&overrideRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting override %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: override %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) DeleteMaster(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&masterRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting master %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *Store) UpdateMasterExceptionLists(ctx context.Context, masterID string, deleteDays, changeDays []time.Time, modified time.Time) error {
	res := s.db.WithContext(ctx).Model(&masterRow{}).Where("id = ?", masterID).
		Updates(map[string]interface{}{
			"delete_exceptions": joinDays(deleteDays),
			"change_exceptions": joinDays(changeDays),
			"modified_ms":       modified.UnixMilli(),
		})
	if res.Error != nil {
		return fmt.Errorf("updating exception lists of %s: %w", masterID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, masterID)
	}
	return nil
}

func (s *Store) UpdateMasterPattern(ctx context.Context, masterID string, p recurrence.Pattern, modified time.Time) error {
	token, err := s.codec.Encode(&p)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&masterRow{}).Where("id = ?", masterID).
		Updates(map[string]interface{}{
			"pattern":        token,
			"time_of_day_ms": int64(p.TimeOfDay / time.Millisecond),
			"diff_ms":        int64(p.Diff / time.Millisecond),
			"day_offset":     p.DayOffset,
			"timezone":       p.Timezone,
			"modified_ms":    modified.UnixMilli(),
		})
	if res.Error != nil {
		return fmt.Errorf("updating pattern of %s: %w", masterID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: master %s", storage.ErrNotFound, masterID)
	}
	return nil
}

// Tx runs fn inside a database transaction.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, st storage.Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Store{db: tx, codec: s.codec, expander: s.expander})
	})
}

// ProbeBusyTime derives busy intervals from the stored rows. Recurring
// masters are expanded in-process; interval filtering for them happens
// through the expansion window rather than the SQL predicate.
func (s *Store) ProbeBusyTime(ctx context.Context, ids []string, start, end time.Time) ([]storage.BusyInterval, error) {
	var out []storage.BusyInterval

	var masters []masterRow
	if err := s.db.WithContext(ctx).Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("scanning masters: %w", err)
	}
	for i := range masters {
		m, err := s.masterFromRow(&masters[i])
		if err != nil {
			return nil, err
		}
		p, ok := matchParticipant(m.Participants, ids)
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

	var overrides []overrideRow
	err := s.db.WithContext(ctx).
		Find(&overrides, "start_ms < ? AND end_ms > ?", end.UnixMilli(), start.UnixMilli()).Error
	if err != nil {
		return nil, fmt.Errorf("scanning overrides: %w", err)
	}
	for i := range overrides {
		o := overrideFromRow(&overrides[i])
		if p, ok := matchParticipant(o.Participants, ids); ok {
			out = append(out, busyFrom(&o.Core, p))
		}
	}
	return out, nil
}

func newID() string { return uuid.NewString() }

// Row conversion

func (s *Store) masterToRow(m *appointment.Master) (*masterRow, error) {
	token := ""
	if m.Recurring() {
		var err error
		token, err = s.codec.Encode(&m.Pattern)
		if err != nil {
			return nil, err
		}
	}
	return &masterRow{
		ID:               m.ObjectID,
		Owner:            m.Owner,
		Title:            m.Title,
		StartMS:          m.Start.UnixMilli(),
		EndMS:            m.End.UnixMilli(),
		FullDay:          m.FullDay,
		Transparent:      m.Transparency == appointment.Transparent,
		Timezone:         m.Timezone,
		Participants:     joinParticipants(m.Participants),
		Pattern:          token,
		TimeOfDayMS:      int64(m.Pattern.TimeOfDay / time.Millisecond),
		DiffMS:           int64(m.Pattern.Diff / time.Millisecond),
		DayOffset:        m.Pattern.DayOffset,
		DeleteExceptions: joinDays(m.DeleteExceptions),
		ChangeExceptions: joinDays(m.ChangeExceptions),
		ModifiedMS:       m.LastModified.UnixMilli(),
	}, nil
}

func (s *Store) masterFromRow(row *masterRow) (*appointment.Master, error) {
	m := &appointment.Master{
		Core:             coreFromColumns(row.ID, row.Owner, row.Title, row.StartMS, row.EndMS, row.FullDay, row.Transparent, row.Timezone, row.Participants, row.ModifiedMS),
		DeleteExceptions: splitDays(row.DeleteExceptions),
		ChangeExceptions: splitDays(row.ChangeExceptions),
	}
	if row.Pattern != "" {
		if err := s.codec.Decode(row.Pattern, &m.Pattern); err != nil {
			return nil, fmt.Errorf("decoding pattern of %s: %w", row.ID, err)
		}
		m.Pattern.TimeOfDay = time.Duration(row.TimeOfDayMS) * time.Millisecond
		m.Pattern.Diff = time.Duration(row.DiffMS) * time.Millisecond
		m.Pattern.DayOffset = row.DayOffset
		m.Pattern.Timezone = row.Timezone
	}
	return m, nil
}

func overrideToRow(o *appointment.Override) *overrideRow {
	return &overrideRow{
		ID:             o.ObjectID,
		MasterID:       o.MasterID,
		Position:       o.Position,
		DatePositionMS: recurrence.NormalizeDay(o.DatePosition).UnixMilli(),
		Owner:          o.Owner,
		Title:          o.Title,
		StartMS:        o.Start.UnixMilli(),
		EndMS:          o.End.UnixMilli(),
		FullDay:        o.FullDay,
		Transparent:    o.Transparency == appointment.Transparent,
		Timezone:       o.Timezone,
		Participants:   joinParticipants(o.Participants),
		ModifiedMS:     o.LastModified.UnixMilli(),
	}
}

func overrideFromRow(row *overrideRow) *appointment.Override {
	return &appointment.Override{
		Core:         coreFromColumns(row.ID, row.Owner, row.Title, row.StartMS, row.EndMS, row.FullDay, row.Transparent, row.Timezone, row.Participants, row.ModifiedMS),
		MasterID:     row.MasterID,
		Position:     row.Position,
		DatePosition: time.UnixMilli(row.DatePositionMS).UTC(),
	}
}

func coreFromColumns(id, owner, title string, startMS, endMS int64, fullDay, transparent bool, tz, participants string, modifiedMS int64) appointment.Core {
	transparency := appointment.Opaque
	if transparent {
		transparency = appointment.Transparent
	}
	return appointment.Core{
		ObjectID:     id,
		Owner:        owner,
		Title:        title,
		Start:        time.UnixMilli(startMS).UTC(),
		End:          time.UnixMilli(endMS).UTC(),
		FullDay:      fullDay,
		Transparency: transparency,
		Participants: splitParticipants(participants),
		Timezone:     tz,
		LastModified: time.UnixMilli(modifiedMS).UTC(),
	}
}

func joinDays(days []time.Time) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.FormatInt(recurrence.NormalizeDay(d).UnixMilli(), 10))
	}
	return strings.Join(parts, ",")
}

func splitDays(s string) []time.Time {
	if s == "" {
		return nil
	}
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		ms, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out
}

func joinParticipants(parts []appointment.Participant) string {
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		items = append(items, fmt.Sprintf("%s:%d:%d", p.ID, p.Kind, p.Status))
	}
	return strings.Join(items, ";")
}

func splitParticipants(s string) []appointment.Participant {
	if s == "" {
		return nil
	}
	var out []appointment.Participant
	for _, item := range strings.Split(s, ";") {
		fields := strings.Split(item, ":")
		if len(fields) != 3 {
			continue
		}
		kind, _ := strconv.Atoi(fields[1])
		status, _ := strconv.Atoi(fields[2])
		out = append(out, appointment.Participant{
			ID:     fields[0],
			Kind:   appointment.ParticipantKind(kind),
			Status: appointment.Status(status),
		})
	}
	return out
}

func matchParticipant(parts []appointment.Participant, ids []string) (appointment.Participant, bool) {
	for _, p := range parts {
		for _, id := range ids {
			if p.ID == id {
				return p, true
			}
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
