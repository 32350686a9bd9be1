package billing

import (
	"strings"
	"time"
)

// DateRange is a half-open interval [Start, End): the start is included, the
// end is excluded.
type DateRange struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Presets returns the named date ranges offered by the report, evaluated
// against now. The first entry is the default.
func Presets(now time.Time) []DateRange {
	loc := now.Location()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc)
	return []DateRange{
		{Name: "This Month", Start: monthStart, End: now},
		{Name: "Last Month", Start: monthStart.AddDate(0, -1, 0), End: monthStart},
		{Name: "This Year", Start: yearStart, End: now},
		{Name: "Last Year", Start: yearStart.AddDate(-1, 0, 0), End: yearStart},
	}
}

// RangeNamed looks up a preset by name, case-insensitively. Unrecognized
// names (including "") fall back to the first preset rather than erroring.
func RangeNamed(name string, now time.Time) DateRange {
	presets := Presets(now)
	for _, preset := range presets {
		if strings.EqualFold(preset.Name, name) {
			return preset
		}
	}
	return presets[0]
}
