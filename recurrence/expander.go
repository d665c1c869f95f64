package recurrence

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ExceptionDates carries a master's two exception lists, as day slots.
type ExceptionDates struct {
	// Delete holds days removed from the series with no override record.
	Delete []time.Time
	// Change holds days that have their own stored override record.
	Change []time.Time
}

// Contains reports whether the given day slot is covered by either list.
func (x ExceptionDates) Contains(day time.Time) bool {
	want := NormalizeDay(day)
	for _, d := range x.Delete {
		if NormalizeDay(d).Equal(want) {
			return true
		}
	}
	for _, d := range x.Change {
		if NormalizeDay(d).Equal(want) {
			return true
		}
	}
	return false
}

// Options controls a single expansion.
type Options struct {
	// RangeStart and RangeEnd bound the half-open window [RangeStart,
	// RangeEnd) occurrences must intersect. Zero values leave the window
	// open on that side.
	RangeStart time.Time
	RangeEnd   time.Time
	// Position, when positive, selects (at most) that single occurrence by
	// its 1-based series position; range and exception filters do not apply.
	Position int
	// Limit caps the number of returned occurrences. Zero or anything above
	// MaxOccurrences means MaxOccurrences.
	Limit int
	// IgnoreExceptions includes occurrences whose day slot is covered by an
	// exception list. Used to enumerate the full series before deciding
	// which days are exceptions.
	IgnoreExceptions bool
	// UntilOnly runs the series to its natural end and returns only the
	// final occurrence, from which a terminal date can be derived.
	UntilOnly bool
}

// Expander turns a pattern into concrete occurrences. Expansion is a pure
// function of pattern, exceptions and options; it performs no I/O and is
// safely repeatable.
type Expander struct {
	config ExpanderConfig
	cache  *Cache
	logger *slog.Logger
}

// NewExpander creates an expander with DefaultExpanderConfig.
func NewExpander() *Expander {
	return NewExpanderWithConfig(DefaultExpanderConfig, nil)
}

// NewExpanderWithConfig creates an expander with custom configuration. A nil
// logger discards log output.
func NewExpanderWithConfig(config ExpanderConfig, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var cache *Cache
	if config.CacheEnabled {
		cache = NewCache(config.CacheConfig)
	}
	return &Expander{config: config, cache: cache, logger: logger}
}

// Close releases the expansion cache, if any.
func (e *Expander) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Expand produces the occurrences of p selected by opts. Occurrence end =
// start + Diff + DayOffset whole days, which models sub-day and day-spanning
// events uniformly. Exceeding the internal operation budget fails with
// ErrPatternTooComplex rather than truncating silently.
func (e *Expander) Expand(p *Pattern, exc ExceptionDates, opts Options) (*Results, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if e.cache != nil {
		if res, ok := e.cache.Get(p, exc, opts); ok {
			return res, nil
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxOccurrences {
		limit = MaxOccurrences
	}
	st := &expansion{
		p:      p,
		exc:    exc,
		opts:   opts,
		res:    &Results{},
		limit:  limit,
		loc:    p.Location(),
		budget: e.config.MaxOperations,
	}

	var err error
	switch p.Type {
	case TypeDaily:
		err = st.daily()
	case TypeWeekly:
		err = st.weekly()
	case TypeMonthly:
		err = st.monthly()
	case TypeYearly:
		err = st.yearly()
	}
	if err != nil {
		return nil, err
	}
	if opts.UntilOnly && st.sawLast {
		st.res.Add(st.last)
	}

	if e.cache != nil {
		e.cache.Set(p, exc, opts, st.res)
	}
	return st.res, nil
}

// expansion holds the state of a single Expand call.
type expansion struct {
	p    *Pattern
	exc  ExceptionDates
	opts Options
	res  *Results

	limit  int
	loc    *time.Location
	budget int
	ops    int
	pos    int
	done   bool

	last    Occurrence
	sawLast bool
}

// step consumes one unit of the operation budget.
func (s *expansion) step() error {
	s.ops++
	if s.ops > s.budget {
		return fmt.Errorf("%w: exceeded %d internal operations", ErrPatternTooComplex, s.budget)
	}
	return nil
}

// visit assigns the next series position to the occurrence on the given UTC
// day and applies the terminal conditions and output filters. It reports
// whether the expansion should continue.
func (s *expansion) visit(day time.Time) bool {
	p := s.p
	s.pos++
	if s.pos > MaxOccurrences {
		s.done = true
		return false
	}
	if p.Count > 0 && s.pos > p.Count {
		s.done = true
		return false
	}
	if !p.Until.IsZero() && day.After(NormalizeDay(p.Until)) {
		s.done = true
		return false
	}

	start := day.Add(p.TimeOfDay)
	end := start.Add(p.Diff + time.Duration(p.DayOffset)*dayLength)
	occ := Occurrence{
		Start:    start,
		End:      end,
		Position: s.pos,
		// The day slot follows the series' own zone: an offset that pushes
		// the local clock past the UTC day boundary shifts the slot.
		Date: LocalDay(start, s.loc),
	}

	if s.opts.UntilOnly {
		s.last = occ
		s.sawLast = true
		return true
	}
	if s.opts.Position > 0 {
		if s.pos == s.opts.Position {
			s.res.Add(occ)
			s.done = true
			return false
		}
		return true
	}
	if !s.opts.RangeEnd.IsZero() && !start.Before(s.opts.RangeEnd) {
		s.done = true
		return false
	}
	if !s.opts.RangeStart.IsZero() && !end.After(s.opts.RangeStart) {
		return true
	}
	if !s.opts.IgnoreExceptions && s.exc.Contains(occ.Date) {
		return true
	}
	s.res.Add(occ)
	if s.res.Len() >= s.limit {
		s.done = true
		return false
	}
	return true
}

func (s *expansion) daily() error {
	day := NormalizeDay(s.p.Start)
	for !s.done {
		if err := s.step(); err != nil {
			return err
		}
		if !s.visit(day) {
			return nil
		}
		day = day.AddDate(0, 0, s.p.Interval)
	}
	return nil
}

func (s *expansion) weekly() error {
	p := s.p
	anchor := NormalizeDay(p.Start)
	// Rewind to the Sunday opening the anchor's week so the weekday bits are
	// walked in mask order.
	week := anchor.AddDate(0, 0, -int(anchor.Weekday()))
	for !s.done {
		for i := 0; i < 7 && !s.done; i++ {
			if err := s.step(); err != nil {
				return err
			}
			day := week.AddDate(0, 0, i)
			if day.Before(anchor) || !maskMatches(p.Days, day.Weekday()) {
				continue
			}
			if !s.visit(day) {
				return nil
			}
		}
		week = week.AddDate(0, 0, 7*p.Interval)
	}
	return nil
}

func (s *expansion) monthly() error {
	p := s.p
	anchor := NormalizeDay(p.Start)
	year, month := anchor.Year(), int(anchor.Month())-1
	for !s.done {
		if err := s.step(); err != nil {
			return err
		}
		day, ok, err := s.dayInMonth(year, month)
		if err != nil {
			return err
		}
		if ok && !day.Before(anchor) {
			if !s.visit(day) {
				return nil
			}
		}
		month += p.Interval
		year += month / 12
		month %= 12
	}
	return nil
}

func (s *expansion) yearly() error {
	p := s.p
	anchor := NormalizeDay(p.Start)
	month := int(p.month()) - 1
	year := anchor.Year()
	for !s.done {
		if err := s.step(); err != nil {
			return err
		}
		day, ok, err := s.dayInMonth(year, month)
		if err != nil {
			return err
		}
		if ok && !day.Before(anchor) {
			if !s.visit(day) {
				return nil
			}
		}
		year += p.Interval
	}
	return nil
}

// dayInMonth resolves the pattern's day within the given month: either the
// absolute day of month (clamped to the month's length, so day 31 lands on
// the last day of shorter months) or the n-th day matching the weekday mask,
// where week 5 selects the last match.
func (s *expansion) dayInMonth(year, month int) (time.Time, bool, error) {
	p := s.p
	first := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC)
	ndays := first.AddDate(0, 1, -1).Day()

	if p.Days == 0 {
		d := p.DayInMonth
		if d > ndays {
			d = ndays
		}
		return first.AddDate(0, 0, d-1), true, nil
	}

	n := 0
	var lastMatch time.Time
	found := false
	for i := 0; i < ndays; i++ {
		if err := s.step(); err != nil {
			return time.Time{}, false, err
		}
		day := first.AddDate(0, 0, i)
		if !maskMatches(p.Days, day.Weekday()) {
			continue
		}
		n++
		lastMatch = day
		found = true
		if p.DayInMonth <= 4 && n == p.DayInMonth {
			return day, true, nil
		}
	}
	if p.DayInMonth == 5 {
		return lastMatch, found, nil
	}
	// The month has fewer matching days than requested.
	return time.Time{}, false, nil
}
