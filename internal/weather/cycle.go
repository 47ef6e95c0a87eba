package weather

import (
	"fmt"
	"time"
)

// Cadence describes how often a model is initialised. Each UTC day has
// cycles at midnight plus Offset plus multiples of Every.
type Cadence struct {
	Every  time.Duration `yaml:"every"`
	Offset time.Duration `yaml:"offset"`
}

var (
	// HourlyCadence is the HRRR cadence.
	HourlyCadence = Cadence{Every: time.Hour}
	// SixHourlyCadence is the GFS cadence: 00, 06, 12 and 18Z.
	SixHourlyCadence = Cadence{Every: 6 * time.Hour}
	// DailyCadence pins the cycle to 00Z of the requested date (ECMWF).
	DailyCadence = Cadence{Every: 24 * time.Hour}
)

// Resolve returns the latest cycle at or before requested that is also not
// after now. It never shifts to an older cycle when data is missing; that
// surfaces later as an acquisition failure.
func (c Cadence) Resolve(requested, now time.Time) (time.Time, error) {
	if err := c.Validate(); err != nil {
		return time.Time{}, err
	}

	t := requested.UTC()
	if n := now.UTC(); t.After(n) {
		t = n
	}
	// Cycles restart at every midnight, so cadences that do not divide 24h
	// keep the same hours from one day to the next.
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	first := day.Add(c.Offset)
	if t.Before(first) {
		first = first.AddDate(0, 0, -1)
	}
	return first.Add(t.Sub(first) / c.Every * c.Every), nil
}

// Validate checks that the cadence yields at least one whole-minute cycle
// per day.
func (c Cadence) Validate() error {
	if c.Every <= 0 || c.Every > 24*time.Hour {
		return fmt.Errorf("cadence interval must be within (0, 24h], got %s", c.Every)
	}
	if c.Offset < 0 || c.Offset >= c.Every {
		return fmt.Errorf("cadence offset %s must be within [0, %s)", c.Offset, c.Every)
	}
	if c.Every%time.Minute != 0 || c.Offset%time.Minute != 0 {
		return fmt.Errorf("cadence %s+%s must be in whole minutes", c.Every, c.Offset)
	}
	return nil
}
