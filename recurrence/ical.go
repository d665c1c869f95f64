package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// rruleWeekdayMask converts rrule weekdays to the serialized weekday bitmask.
func rruleWeekdayMask(days []rrule.Weekday) int {
	mask := 0
	for _, wd := range days {
		// rrule counts days from Monday; the mask counts from Sunday.
		switch wd.Day() {
		case 0:
			mask |= BitMonday
		case 1:
			mask |= BitTuesday
		case 2:
			mask |= BitWednesday
		case 3:
			mask |= BitThursday
		case 4:
			mask |= BitFriday
		case 5:
			mask |= BitSaturday
		case 6:
			mask |= BitSunday
		}
	}
	return mask
}

// maskRRuleWeekdays converts the weekday bitmask to rrule weekdays, applying
// the week-of-month ordinal when given (0 = none, 5 = last).
func maskRRuleWeekdays(mask, week int) []rrule.Weekday {
	order := []struct {
		bit int
		wd  rrule.Weekday
	}{
		{BitSunday, rrule.SU},
		{BitMonday, rrule.MO},
		{BitTuesday, rrule.TU},
		{BitWednesday, rrule.WE},
		{BitThursday, rrule.TH},
		{BitFriday, rrule.FR},
		{BitSaturday, rrule.SA},
	}
	var out []rrule.Weekday
	for _, o := range order {
		if mask&o.bit == 0 {
			continue
		}
		switch {
		case week == 0:
			out = append(out, o.wd)
		case week == 5:
			out = append(out, o.wd.Nth(-1))
		default:
			out = append(out, o.wd.Nth(week))
		}
	}
	return out
}

// PatternFromComponent extracts a pattern and its exception dates from a
// VEVENT component. Only the daily/weekly/monthly/yearly shapes the codec
// models are accepted.
func PatternFromComponent(comp *ical.Component) (*Pattern, ExceptionDates, error) {
	var exc ExceptionDates

	dtstart, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
	if err != nil {
		return nil, exc, &ValidationError{Field: "start", Reason: "component has no DTSTART"}
	}
	dtstart = dtstart.UTC()

	p := &Pattern{
		Type:      TypeNone,
		Interval:  1,
		Start:     NormalizeDay(dtstart),
		TimeOfDay: dtstart.Sub(NormalizeDay(dtstart)),
	}
	if dtend, err := comp.Props.DateTime(ical.PropDateTimeEnd, nil); err == nil {
		length := dtend.Sub(dtstart)
		if length > 0 {
			p.DayOffset = int(length / dayLength)
			p.Diff = length % dayLength
		}
	}

	rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil || rruleProp.Value == "" {
		return p, exc, nil
	}
	opt, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		return nil, exc, &ValidationError{Field: "rrule", Reason: fmt.Sprintf("cannot parse %q: %v", rruleProp.Value, err)}
	}

	switch opt.Freq {
	case rrule.DAILY:
		p.Type = TypeDaily
	case rrule.WEEKLY:
		p.Type = TypeWeekly
	case rrule.MONTHLY:
		p.Type = TypeMonthly
	case rrule.YEARLY:
		p.Type = TypeYearly
	default:
		return nil, exc, &ValidationError{Field: "rrule", Reason: fmt.Sprintf("unsupported frequency in %q", rruleProp.Value)}
	}
	if opt.Interval > 0 {
		p.Interval = opt.Interval
	}
	p.Count = opt.Count
	if !opt.Until.IsZero() {
		p.Until = NormalizeDay(opt.Until)
	}
	if len(opt.Byweekday) > 0 {
		p.Days = rruleWeekdayMask(opt.Byweekday)
		if n := opt.Byweekday[0].N(); n != 0 {
			if n < 0 {
				p.DayInMonth = 5
			} else {
				p.DayInMonth = n
			}
		}
	}
	if len(opt.Bymonthday) > 0 {
		p.DayInMonth = opt.Bymonthday[0]
	}
	if len(opt.Bymonth) > 0 {
		p.Month = opt.Bymonth[0] - 1
	} else if p.Type == TypeYearly {
		p.Month = int(p.Start.Month()) - 1
	}
	if p.Type == TypeWeekly && p.Days == 0 {
		p.Days = weekdayBit(p.Start.Weekday())
	}
	if p.Type == TypeMonthly && p.Days == 0 && p.DayInMonth == 0 {
		p.DayInMonth = p.Start.Day()
	}

	if exdateProp := comp.Props.Get(ical.PropExceptionDates); exdateProp != nil {
		exc.Delete = parseExceptionDates(exdateProp.Value)
	}
	if recurrenceID := comp.Props.Get("RECURRENCE-ID"); recurrenceID != nil && recurrenceID.Value != "" {
		if d, err := parseICalDate(recurrenceID.Value); err == nil {
			exc.Change = append(exc.Change, NormalizeDay(d))
		}
	}

	return p, exc, nil
}

// ApplyToComponent writes the pattern and its delete-exception dates onto a
// VEVENT component as RRULE and EXDATE properties.
func ApplyToComponent(p *Pattern, exc ExceptionDates, comp *ical.Component) error {
	if err := p.Validate(); err != nil {
		return err
	}

	opt := rrule.ROption{
		Interval: p.Interval,
		Dtstart:  p.Start.Add(p.TimeOfDay),
		Count:    p.Count,
		Until:    p.Until,
	}
	switch p.Type {
	case TypeDaily:
		opt.Freq = rrule.DAILY
	case TypeWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Byweekday = maskRRuleWeekdays(p.Days, 0)
	case TypeMonthly:
		opt.Freq = rrule.MONTHLY
		if p.Days == 0 {
			opt.Bymonthday = []int{p.DayInMonth}
		} else {
			opt.Byweekday = maskRRuleWeekdays(p.Days, p.DayInMonth)
		}
	case TypeYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(p.month())}
		if p.Days == 0 {
			opt.Bymonthday = []int{p.DayInMonth}
		} else {
			opt.Byweekday = maskRRuleWeekdays(p.Days, p.DayInMonth)
		}
	}
	if _, err := rrule.NewRRule(opt); err != nil {
		return &ValidationError{Field: "rrule", Reason: err.Error()}
	}
	comp.Props.SetRecurrenceRule(&opt)

	if len(exc.Delete) > 0 {
		vals := make([]string, 0, len(exc.Delete))
		for _, d := range exc.Delete {
			vals = append(vals, NormalizeDay(d).Format("20060102"))
		}
		prop := ical.NewProp(ical.PropExceptionDates)
		prop.Params.Set(ical.ParamValue, "DATE")
		prop.Value = strings.Join(vals, ",")
		comp.Props.Set(prop)
	}
	return nil
}

// parseExceptionDates parses an EXDATE property value into day slots. Both
// date-time and date-only values normalize onto the same day slot.
func parseExceptionDates(value string) []time.Time {
	if value == "" {
		return nil
	}
	var exdates []time.Time
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if d, err := parseICalDate(s); err == nil {
			exdates = append(exdates, NormalizeDay(d))
		}
	}
	return exdates
}

// parseICalDate parses an iCalendar date-time or date value as UTC.
func parseICalDate(value string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405Z", value); err == nil {
		return t, nil
	}
	return time.Parse("20060102", value)
}
