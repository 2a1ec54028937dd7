package netcdf

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

var referenceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-1-2 15:4:5",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2",
}

// parseTimeUnits interprets a CF "<unit> since <reference>" string and
// returns a converter from offsets to instants. Only the standard
// (proleptic Gregorian) calendar is supported.
func parseTimeUnits(units string) (func(float64) time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return nil, fmt.Errorf("%w: time units %q", ErrUnsupported, units)
	}

	var seconds float64
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "days", "day", "d":
		seconds = 86400
	case "hours", "hour", "h":
		seconds = 3600
	case "minutes", "minute", "min":
		seconds = 60
	case "seconds", "second", "s":
		seconds = 1
	default:
		return nil, fmt.Errorf("%w: time unit %q", ErrUnsupported, unit)
	}

	ref = strings.TrimSuffix(strings.TrimSpace(ref), " UTC")
	for _, layout := range referenceLayouts {
		base, err := time.Parse(layout, ref)
		if err != nil {
			continue
		}
		return func(v float64) time.Time {
			return base.Add(time.Duration(math.Round(v*seconds)) * time.Second)
		}, nil
	}
	return nil, fmt.Errorf("%w: reference time %q", ErrUnsupported, ref)
}

func daysSinceEpoch(t time.Time) float64 {
	return t.Sub(epoch).Hours() / 24
}

func fromDays(d float64) time.Time {
	return epoch.Add(time.Duration(math.Round(d*86400)) * time.Second)
}
