package recurrence

import (
	"time"
)

// ActiveDays computes a free/busy day grid: element i is true when the local
// calendar day gridStart+i carries an occurrence of the pattern. Days are
// rendered in the pattern's own zone, so an occurrence whose zone offset
// pushes its local clock past the UTC day boundary marks the shifted slot,
// not the UTC one.
func ActiveDays(e *Expander, p *Pattern, exc ExceptionDates, gridStart time.Time, days int) ([]bool, error) {
	if days <= 0 {
		return nil, nil
	}
	loc := p.Location()
	first := LocalDay(gridStart, loc)

	// Widen the expansion window by one day on each side; the local-day
	// slot of an occurrence can differ from its UTC day.
	res, err := e.Expand(p, exc, Options{
		RangeStart: first.Add(-dayLength),
		RangeEnd:   first.Add(time.Duration(days+1) * dayLength),
	})
	if err != nil {
		return nil, err
	}

	grid := make([]bool, days)
	for _, o := range res.All() {
		idx := int(o.Date.Sub(first) / dayLength)
		if idx >= 0 && idx < days {
			grid[idx] = true
		}
	}
	return grid, nil
}
