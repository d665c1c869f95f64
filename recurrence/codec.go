package recurrence

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Token tags of the serialized pattern format. A pattern is stored as an
// ASCII stream of repeated `<tag>|<value>|` groups; absence of a tag leaves
// the field at its unset state.
const (
	tagType       = 't'
	tagInterval   = 'i'
	tagDays       = 'a'
	tagDayInMonth = 'b'
	tagMonth      = 'c'
	tagUntil      = 'e' // epoch milliseconds
	tagStart      = 's' // epoch milliseconds
	tagCount      = 'o'
)

// Codec serializes recurrence patterns to and from the compact token string
// stored on appointments. Decoding clamps out-of-range interval/count values
// and substitutes structurally required defaults; both corrections are
// logged as warnings, never silent.
type Codec struct {
	logger *slog.Logger
}

// NewCodec creates a codec. A nil logger discards log output.
func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Codec{logger: logger}
}

// Encode validates the pattern and builds its token string. Out-of-range
// interval and count are clamped first; any other violation is a validation
// failure naming the field.
func (c *Codec) Encode(p *Pattern) (string, error) {
	c.clampLimits(p)
	if err := p.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	write := func(tag byte, v int64) {
		b.WriteByte(tag)
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(v, 10))
		b.WriteByte('|')
	}

	write(tagType, int64(p.Type))
	write(tagInterval, int64(p.Interval))
	if p.Days != 0 {
		write(tagDays, int64(p.Days))
	}
	if p.DayInMonth != 0 {
		write(tagDayInMonth, int64(p.DayInMonth))
	}
	if p.Type == TypeYearly {
		write(tagMonth, int64(p.Month))
	}
	if !p.Until.IsZero() {
		write(tagUntil, p.Until.UnixMilli())
	}
	write(tagStart, NormalizeDay(p.Start).UnixMilli())
	if p.Count > 0 {
		write(tagCount, int64(p.Count))
	}
	return b.String(), nil
}

// Decode parses a token string into p. An unknown tag character fails with
// ErrUnknownToken; known numeric tags that do not parse fail validation.
// Auto-correction then clamps interval/count and fills a still-missing
// weekday or month with a safe default derived from the start anchor.
func (c *Codec) Decode(token string, p *Pattern) error {
	if token == "" {
		return nil
	}
	parts := strings.Split(token, "|")
	if n := len(parts); parts[n-1] == "" {
		parts = parts[:n-1]
	}
	if len(parts)%2 != 0 {
		return &ValidationError{Field: "pattern", Reason: fmt.Sprintf("malformed token stream %q", token)}
	}

	seen := make(map[byte]bool)
	for i := 0; i+1 < len(parts); i += 2 {
		tag := parts[i]
		if len(tag) != 1 {
			return fmt.Errorf("%w: %q", ErrUnknownToken, tag)
		}
		n, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			return &ValidationError{Field: tag, Reason: fmt.Sprintf("value %q is not numeric", parts[i+1])}
		}
		switch tag[0] {
		case tagType:
			p.Type = Type(n)
		case tagInterval:
			p.Interval = int(n)
		case tagDays:
			p.Days = int(n)
		case tagDayInMonth:
			p.DayInMonth = int(n)
		case tagMonth:
			p.Month = int(n)
		case tagUntil:
			p.Until = time.UnixMilli(n).UTC()
		case tagStart:
			p.Start = time.UnixMilli(n).UTC()
		case tagCount:
			p.Count = int(n)
		default:
			return fmt.Errorf("%w: %q", ErrUnknownToken, tag)
		}
		seen[tag[0]] = true
	}

	c.clampLimits(p)
	c.fillDefaults(p, seen)
	return nil
}

// CreatePatternString derives the token string purely from discrete fields.
// When only an occurrence count bounds the series, the terminal date is
// computed by running the expander once so both terminal conditions are
// persisted.
func (c *Codec) CreatePatternString(p *Pattern, e *Expander) (string, error) {
	if p.Until.IsZero() && p.Count > 0 {
		res, err := e.Expand(p, ExceptionDates{}, Options{UntilOnly: true})
		if err != nil {
			return "", err
		}
		p.Until = res.Until()
	}
	return c.Encode(p)
}

// clampLimits forces interval and occurrence count into [1, MaxOccurrences].
func (c *Codec) clampLimits(p *Pattern) {
	if p.Interval > MaxOccurrences {
		c.logger.Warn("clamping recurrence interval",
			"interval", p.Interval, "max", MaxOccurrences)
		p.Interval = MaxOccurrences
	}
	if p.Recurring() && p.Interval < 1 {
		c.logger.Warn("raising recurrence interval to minimum", "interval", p.Interval)
		p.Interval = 1
	}
	if p.Count > MaxOccurrences {
		c.logger.Warn("clamping occurrence count",
			"count", p.Count, "max", MaxOccurrences)
		p.Count = MaxOccurrences
	}
}

// fillDefaults substitutes structurally required fields a decoded token
// stream left unset.
func (c *Codec) fillDefaults(p *Pattern, seen map[byte]bool) {
	if p.Type == TypeWeekly && p.Days == 0 && !p.Start.IsZero() {
		p.Days = weekdayBit(p.Start.Weekday())
		c.logger.Warn("substituting default weekday from start anchor",
			"weekday", p.Start.Weekday().String(), "mask", p.Days)
	}
	if p.Type == TypeYearly && !seen[tagMonth] && !p.Start.IsZero() {
		p.Month = int(p.Start.Month()) - 1
		c.logger.Warn("substituting default month from start anchor",
			"month", p.Start.Month().String())
	}
}
