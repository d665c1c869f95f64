package recurrence

import (
	"fmt"
	"time"
)

// weekdayBit maps a calendar weekday to its serialized-format bit.
func weekdayBit(wd time.Weekday) int {
	return 1 << uint(wd)
}

// maskMatches reports whether the weekday's bit is set in the mask. The
// pseudo-day values are plain unions of weekday bits, so a bit test covers
// them as well.
func maskMatches(mask int, wd time.Weekday) bool {
	return mask&weekdayBit(wd) != 0
}

// validateMask rejects masks with bits outside the seven weekday bits. An
// unmapped mask is an error, never silently ignored.
func validateMask(mask int) error {
	if mask <= 0 || mask > BitAnyDay {
		return fmt.Errorf("%w: %d", ErrUnmappedWeekdayMask, mask)
	}
	return nil
}
