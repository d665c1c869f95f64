package mutation

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

// Applier executes classified mutation actions against the store, keeping
// the master's exception lists and its override records in 1:1
// correspondence. Storage operations run inside the store's transaction
// boundary in a fixed order (delete overrides, then update master state) so
// a mid-failure retry is idempotent up to the commit point.
type Applier struct {
	store    storage.Storage
	notifier storage.Notifier
	expander *recurrence.Expander
	logger   *slog.Logger
	now      func() time.Time
}

// NewApplier creates an applier. A nil logger discards log output.
func NewApplier(store storage.Storage, notifier storage.Notifier, expander *recurrence.Expander, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Applier{
		store:    store,
		notifier: notifier,
		expander: expander,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply loads the stored record, classifies the request and executes the
// resulting action. The returned action is the one actually performed: any
// delete that removes the last remaining occurrence comes back as
// FullDelete, whether it went through a delete-exception day or an
// override record.
func (a *Applier) Apply(ctx context.Context, req Request) (Action, error) {
	stored, err := a.store.Load(ctx, req.ObjectID)
	if err != nil {
		return NoAction, fmt.Errorf("loading record %s: %w", req.ObjectID, err)
	}
	if err := checkStale(req, stored); err != nil {
		return NoAction, err
	}

	action, err := Classify(req, stored)
	if err != nil {
		return NoAction, err
	}

	switch action {
	case NoAction:
		return NoAction, nil
	case CreateException:
		return action, a.createException(ctx, stored.(*appointment.Master), req)
	case DeleteExistingException, VirtualDelete:
		return a.deleteOccurrence(ctx, stored.(*appointment.Master), req)
	case ExceptionDelete:
		return a.deleteException(ctx, stored.(*appointment.Override))
	case FullDelete:
		return action, a.deleteSeries(ctx, stored.(*appointment.Master))
	case ChangePatternType:
		return action, a.changePatternType(ctx, stored.(*appointment.Master), req)
	}
	return NoAction, nil
}

// createException clones the master into a new override record for the
// targeted occurrence and appends its day slot to the master's
// change-exception list.
func (a *Applier) createException(ctx context.Context, master *appointment.Master, req Request) error {
	occ, err := a.resolveOccurrence(master, req)
	if err != nil {
		return err
	}

	if master.HasDeleteException(occ.Date) {
		return &recurrence.ValidationError{
			Field:  "recurrence_date_position",
			Reason: "occurrence was already deleted from the series",
		}
	}
	if master.HasChangeException(occ.Date) {
		return fmt.Errorf("%w: occurrence %s already has an override", storage.ErrConcurrentModification, occ.Date.Format("2006-01-02"))
	}
	existing, err := a.store.OverrideByDate(ctx, master.ObjectID, occ.Date)
	if err != nil {
		return fmt.Errorf("checking for existing override: %w", err)
	}
	if existing.IsPresent() {
		// Another editor created the same exception between our load and
		// now; surface it instead of corrupting the list.
		return fmt.Errorf("%w: override for %s created concurrently", storage.ErrConcurrentModification, occ.Date.Format("2006-01-02"))
	}

	now := a.now().UTC()
	core := appointment.Core{
		Owner:        master.Owner,
		Title:        master.Title,
		Start:        occ.Start,
		End:          occ.End,
		FullDay:      master.FullDay,
		Transparency: master.Transparency,
		Participants: append([]appointment.Participant(nil), master.Participants...),
		Timezone:     master.Timezone,
		LastModified: now,
	}
	req.Fields.applyTo(&core)
	override := &appointment.Override{
		Core:         core,
		MasterID:     master.ObjectID,
		Position:     occ.Position,
		DatePosition: occ.Date,
	}

	newChange := append(append([]time.Time(nil), master.ChangeExceptions...), occ.Date)
	if appointment.HasDuplicateDays(newChange) {
		return fmt.Errorf("%w: duplicate change-exception day %s", storage.ErrConcurrentModification, occ.Date.Format("2006-01-02"))
	}

	err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
		if err := s.InsertOverride(ctx, override); err != nil {
			return fmt.Errorf("inserting override: %w", err)
		}
		if err := s.UpdateMasterExceptionLists(ctx, master.ObjectID, master.DeleteExceptions, newChange, now); err != nil {
			return fmt.Errorf("updating master exception lists: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	master.ChangeExceptions = newChange
	master.LastModified = now
	a.notify(ctx, storage.NotifyCreated, override)
	return nil
}

// deleteOccurrence removes the requested occurrences from the series: the
// override record when one exists, otherwise a delete-exception day on the
// master. Deleting the last non-excepted occurrence cascades into a full
// series delete rather than leaving an empty recurring shell.
func (a *Applier) deleteOccurrence(ctx context.Context, master *appointment.Master, req Request) (Action, error) {
	days, err := a.resolveTargetDays(master, req)
	if err != nil {
		return NoAction, err
	}

	action := NoAction
	for _, day := range days {
		act, err := a.deleteDay(ctx, master, day)
		if err != nil {
			return NoAction, err
		}
		if act == FullDelete {
			// The series is gone; any further requested days are moot.
			return FullDelete, nil
		}
		action = act
	}
	return action, nil
}

// deleteDay removes one occurrence day from the series.
func (a *Applier) deleteDay(ctx context.Context, master *appointment.Master, day time.Time) (Action, error) {
	existing, err := a.store.OverrideByDate(ctx, master.ObjectID, day)
	if err != nil {
		return NoAction, fmt.Errorf("looking up override: %w", err)
	}
	now := a.now().UTC()

	if override, ok := existing.Get(); ok {
		newChange := appointment.RemoveDay(master.ChangeExceptions, day)
		newDelete := master.DeleteExceptions
		if !master.HasDeleteException(day) {
			newDelete = append(append([]time.Time(nil), master.DeleteExceptions...), recurrence.NormalizeDay(day))
		}
		full, err := a.cascadeIfExhausted(ctx, master, newDelete)
		if err != nil {
			return NoAction, err
		}
		if full {
			return FullDelete, nil
		}
		err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
			if err := s.DeleteOverride(ctx, override.ObjectID); err != nil {
				return fmt.Errorf("deleting override %s: %w", override.ObjectID, err)
			}
			if err := s.UpdateMasterExceptionLists(ctx, master.ObjectID, newDelete, newChange, now); err != nil {
				return fmt.Errorf("updating master exception lists: %w", err)
			}
			return nil
		})
		if err != nil {
			return NoAction, err
		}
		master.DeleteExceptions = newDelete
		master.ChangeExceptions = newChange
		master.LastModified = now
		a.notify(ctx, storage.NotifyDeleted, override)
		return DeleteExistingException, nil
	}

	// No override: record a delete-exception day.
	newDelete := append(append([]time.Time(nil), master.DeleteExceptions...), recurrence.NormalizeDay(day))
	if appointment.HasDuplicateDays(newDelete) {
		return NoAction, fmt.Errorf("%w: occurrence %s already deleted", storage.ErrConcurrentModification, day.Format("2006-01-02"))
	}

	full, err := a.cascadeIfExhausted(ctx, master, newDelete)
	if err != nil {
		return NoAction, err
	}
	if full {
		return FullDelete, nil
	}

	err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
		if err := s.UpdateMasterExceptionLists(ctx, master.ObjectID, newDelete, master.ChangeExceptions, now); err != nil {
			return fmt.Errorf("updating master exception lists: %w", err)
		}
		return nil
	})
	if err != nil {
		return NoAction, err
	}
	master.DeleteExceptions = newDelete
	master.LastModified = now
	a.notify(ctx, storage.NotifyModified, master)
	return VirtualDelete, nil
}

// cascadeIfExhausted drops the whole series when the prospective
// delete-exception list covers every occurrence the pattern can produce.
// The lists are disjoint, so remaining overrides keep the count below the
// total and block the cascade until the last of them goes.
func (a *Applier) cascadeIfExhausted(ctx context.Context, master *appointment.Master, newDelete []time.Time) (bool, error) {
	total, err := a.seriesLength(master)
	if err != nil {
		return false, err
	}
	if len(newDelete) < total {
		return false, nil
	}
	if err := a.deleteSeries(ctx, master); err != nil {
		return false, err
	}
	return true, nil
}

// deleteException removes an override record and converts its day slot from
// a change-exception into a delete-exception on the master. Removing the
// last remaining occurrence this way cascades into a full series delete.
func (a *Applier) deleteException(ctx context.Context, override *appointment.Override) (Action, error) {
	master, err := a.store.Master(ctx, override.MasterID)
	if err != nil {
		return NoAction, fmt.Errorf("loading master %s: %w", override.MasterID, err)
	}

	day := recurrence.NormalizeDay(override.DatePosition)
	newChange := appointment.RemoveDay(master.ChangeExceptions, day)
	newDelete := master.DeleteExceptions
	if !master.HasDeleteException(day) {
		newDelete = append(append([]time.Time(nil), master.DeleteExceptions...), day)
	}
	full, err := a.cascadeIfExhausted(ctx, master, newDelete)
	if err != nil {
		return NoAction, err
	}
	if full {
		return FullDelete, nil
	}
	now := a.now().UTC()

	err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
		if err := s.DeleteOverride(ctx, override.ObjectID); err != nil {
			return fmt.Errorf("deleting override %s: %w", override.ObjectID, err)
		}
		if err := s.UpdateMasterExceptionLists(ctx, master.ObjectID, newDelete, newChange, now); err != nil {
			return fmt.Errorf("updating master exception lists: %w", err)
		}
		return nil
	})
	if err != nil {
		return NoAction, err
	}
	a.notify(ctx, storage.NotifyDeleted, override)
	return ExceptionDelete, nil
}

// deleteSeries removes every override record, then the master. Each removed
// override triggers its own deletion notification.
func (a *Applier) deleteSeries(ctx context.Context, master *appointment.Master) error {
	overrides, err := a.store.Overrides(ctx, master.ObjectID)
	if err != nil {
		return fmt.Errorf("listing overrides: %w", err)
	}

	err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
		for _, o := range overrides {
			if err := s.DeleteOverride(ctx, o.ObjectID); err != nil {
				return fmt.Errorf("deleting override %s: %w", o.ObjectID, err)
			}
		}
		if err := s.DeleteMaster(ctx, master.ObjectID); err != nil {
			return fmt.Errorf("deleting master %s: %w", master.ObjectID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, o := range overrides {
		a.notify(ctx, storage.NotifyDeleted, o)
	}
	a.notify(ctx, storage.NotifyDeleted, master)
	return nil
}

// changePatternType installs a new series pattern. Every existing override
// is deleted first: positions computed under the old pattern mean nothing
// under the new one.
func (a *Applier) changePatternType(ctx context.Context, master *appointment.Master, req Request) error {
	pattern := *req.Pattern
	if err := pattern.Validate(); err != nil {
		return err
	}

	overrides, err := a.store.Overrides(ctx, master.ObjectID)
	if err != nil {
		return fmt.Errorf("listing overrides: %w", err)
	}
	now := a.now().UTC()

	err = a.store.Tx(ctx, func(ctx context.Context, s storage.Storage) error {
		for _, o := range overrides {
			if err := s.DeleteOverride(ctx, o.ObjectID); err != nil {
				return fmt.Errorf("deleting override %s: %w", o.ObjectID, err)
			}
		}
		if err := s.UpdateMasterExceptionLists(ctx, master.ObjectID, nil, nil, now); err != nil {
			return fmt.Errorf("clearing master exception lists: %w", err)
		}
		if err := s.UpdateMasterPattern(ctx, master.ObjectID, pattern, now); err != nil {
			return fmt.Errorf("installing new pattern: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	master.Pattern = pattern
	master.DeleteExceptions = nil
	master.ChangeExceptions = nil
	master.LastModified = now
	for _, o := range overrides {
		a.notify(ctx, storage.NotifyDeleted, o)
	}
	a.notify(ctx, storage.NotifyModified, master)
	return nil
}

// resolveOccurrence maps the request's position or day slot onto an
// occurrence of the master's own expansion. A day the pattern never
// produces is rejected as foreign.
func (a *Applier) resolveOccurrence(master *appointment.Master, req Request) (recurrence.Occurrence, error) {
	res, err := a.expander.Expand(&master.Pattern, recurrence.ExceptionDates{}, recurrence.Options{IgnoreExceptions: true})
	if err != nil {
		return recurrence.Occurrence{}, err
	}
	if req.Position > 0 {
		occ, ok := res.ByPosition(req.Position)
		if !ok {
			return recurrence.Occurrence{}, fmt.Errorf("%w: position %d", ErrForeignDate, req.Position)
		}
		return occ, nil
	}
	occ, ok := res.ByDate(req.DatePosition).Get()
	if !ok {
		return recurrence.Occurrence{}, fmt.Errorf("%w: %s", ErrForeignDate, req.DatePosition.Format("2006-01-02"))
	}
	return occ, nil
}

// resolveTargetDays maps a delete request onto the day slots it removes:
// the scoped occurrence, or every incoming delete-exception day. All days
// are validated against the series before any of them is applied.
func (a *Applier) resolveTargetDays(master *appointment.Master, req Request) ([]time.Time, error) {
	if req.TargetsSingleOccurrence() {
		occ, err := a.resolveOccurrence(master, req)
		if err != nil {
			return nil, err
		}
		return []time.Time{occ.Date}, nil
	}
	days := make([]time.Time, 0, len(req.DeleteExceptions))
	for _, d := range req.DeleteExceptions {
		occ, err := a.resolveOccurrence(master, Request{DatePosition: d})
		if err != nil {
			return nil, err
		}
		days = append(days, occ.Date)
	}
	if len(days) == 0 {
		return nil, &recurrence.ValidationError{
			Field:  "recurrence_date_position",
			Reason: "delete request does not identify an occurrence",
		}
	}
	return days, nil
}

// seriesLength counts the occurrences the pattern produces, ignoring
// exceptions.
func (a *Applier) seriesLength(master *appointment.Master) (int, error) {
	res, err := a.expander.Expand(&master.Pattern, recurrence.ExceptionDates{}, recurrence.Options{IgnoreExceptions: true})
	if err != nil {
		return 0, err
	}
	return res.Len(), nil
}

func (a *Applier) notify(ctx context.Context, kind storage.NotificationKind, rec appointment.Record) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(ctx, kind, rec); err != nil {
		a.logger.Warn("notification delivery failed",
			"kind", kind.String(), "object", rec.ID(), "error", err)
	}
}

// checkStale rejects a request whose view of the record is older than the
// stored state.
func checkStale(req Request, stored appointment.Record) error {
	if req.LastModified.IsZero() {
		return nil
	}
	if req.LastModified.Before(stored.Modified()) {
		return fmt.Errorf("%w: record %s modified at %s, request based on %s",
			storage.ErrConcurrentModification, stored.ID(),
			stored.Modified().Format(time.RFC3339), req.LastModified.Format(time.RFC3339))
	}
	return nil
}
