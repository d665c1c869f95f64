package recurrence

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownToken is returned when a serialized pattern contains a tag
	// character the codec does not know.
	ErrUnknownToken = errors.New("unknown pattern token")
	// ErrPatternTooComplex is returned when an expansion exceeds its
	// internal operation budget.
	ErrPatternTooComplex = errors.New("pattern too complex")
	// ErrUnmappedWeekdayMask is returned when a weekday bitmask contains
	// bits outside the known weekday and pseudo-day values.
	ErrUnmappedWeekdayMask = errors.New("unmapped weekday mask")
)

// ValidationError describes a missing or out-of-range pattern field. It is
// always surfaced to the caller; the codec never repairs such fields
// silently.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid recurrence pattern: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a pattern validation failure, as
// opposed to a concurrency or resource-limit failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
