package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DailyPeriods builds one period per day covering [first, last], inclusive.
func DailyPeriods(first, last time.Time) []Period {
	first = truncateDay(first)
	last = truncateDay(last)
	var periods []Period
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		periods = append(periods, Period{Start: d, End: d.AddDate(0, 0, 1), Year: d.Year()})
	}
	return periods
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type groupKey struct {
	bucket Bucket
	year   int
}

type group struct {
	key   groupKey
	steps []int
}

// Aggregate sums a daily field into annual or seasonal totals.
//
// Annual mode yields one period per calendar year. Seasonal mode labels
// every day with its (bucket, season year), sums each group and keeps only
// the target-season groups. Masked days are left out of a sum; a cell is
// masked in the output only when all of its days were masked. Days missing
// from the input are not detected, so a period built from partial coverage
// is reported like any other.
func Aggregate(daily *Field, season SeasonDefinition) (*Field, error) {
	if err := daily.Validate(); err != nil {
		return nil, err
	}

	var groups []*group
	index := make(map[groupKey]*group)
	for t, p := range daily.Time {
		day := p.Start.UTC()
		key := groupKey{bucket: BucketTarget, year: day.Year()}
		if !season.IsAnnual() {
			key = groupKey{bucket: season.Bucket(day.Month()), year: season.SeasonYear(day)}
		}
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.steps = append(g.steps, t)
	}

	kept := groups[:0:0]
	for _, g := range groups {
		if g.key.bucket == BucketTarget {
			kept = append(kept, g)
		}
	}

	periods := make([]Period, len(kept))
	for n, g := range kept {
		first, last := daily.Time[g.steps[0]], daily.Time[g.steps[len(g.steps)-1]]
		periods[n] = Period{Start: first.Start, End: last.End, Year: g.key.year, Season: season.Token}
	}

	out := daily.like(periods, daily.Lat.Clone(), daily.Lon.Clone())
	for n, g := range kept {
		sum, valid := sumSteps(daily, g.steps)
		writePlane(out, n, sum, valid, 1)
	}
	return out, nil
}

// sumSteps adds the unmasked values of the given time steps cell by cell and
// counts how many steps contributed to each cell.
func sumSteps(f *Field, steps []int) ([]float64, []int) {
	_, ny, nx := f.Shape()
	plane := ny * nx
	sum := make([]float64, plane)
	valid := make([]int, plane)
	buf := make([]float64, plane)
	for _, t := range steps {
		vals := f.Values.Elements[t*plane : (t+1)*plane]
		mask := f.Mask[t*plane : (t+1)*plane]
		for k := range buf {
			if mask[k] {
				buf[k] = 0
				continue
			}
			buf[k] = vals[k]
			valid[k]++
		}
		floats.Add(sum, buf)
	}
	return sum, valid
}

// writePlane stores sum/divisor at time step t, masking cells nothing
// contributed to. A zero divisor divides by each cell's contributor count.
func writePlane(out *Field, t int, sum []float64, valid []int, divisor float64) {
	nx := out.Lon.Len()
	for k := range sum {
		j, i := k/nx, k%nx
		if valid[k] == 0 {
			out.SetMasked(t, j, i)
			continue
		}
		d := divisor
		if d == 0 {
			d = float64(valid[k])
		}
		out.Set(t, j, i, sum[k]/d)
	}
}

// Concatenate joins period-series fragments into one series ordered by time.
// Fragments without periods are ignored. Overlapping or repeated periods and
// fragments on different grids are rejected.
func Concatenate(parts ...*Field) (*Field, error) {
	var live []*Field
	for _, p := range parts {
		if p != nil && len(p.Time) > 0 {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoPeriods
	}
	slices.SortStableFunc(live, func(a, b *Field) int {
		return a.Time[0].Start.Compare(b.Time[0].Start)
	})

	head := live[0]
	var periods []Period
	for n, p := range live {
		if !p.Lat.Equal(head.Lat, 1e-9) || !p.Lon.Equal(head.Lon, 1e-9) {
			return nil, fmt.Errorf("%w: fragment %d", ErrGridMismatch, n)
		}
		if p.Time[0].Season != head.Time[0].Season {
			return nil, fmt.Errorf("%w: fragment %d is %q, expected %q",
				ErrOverlappingPeriods, n, p.Time[0].Season, head.Time[0].Season)
		}
		periods = append(periods, p.Time...)
	}
	if err := validateTimeAxis(periods); err != nil {
		return nil, err
	}

	out := head.like(periods, head.Lat.Clone(), head.Lon.Clone())
	offset := 0
	for _, p := range live {
		copy(out.Values.Elements[offset:], p.Values.Elements)
		copy(out.Mask[offset:], p.Mask)
		offset += len(p.Values.Elements)
	}
	return out, nil
}

// Mean averages a period series over time, giving every unmasked period the
// same weight. The result has a single period spanning the whole series. A
// cell is masked only when every period is masked there.
func Mean(series *Field) (*Field, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	nt := len(series.Time)
	if nt == 0 {
		return nil, ErrNoPeriods
	}

	first, last := series.Time[0], series.Time[nt-1]
	span := Period{Start: first.Start, End: last.End, Year: first.Year, Season: first.Season}
	out := series.like([]Period{span}, series.Lat.Clone(), series.Lon.Clone())
	steps := make([]int, nt)
	for t := range steps {
		steps[t] = t
	}
	sum, valid := sumSteps(series, steps)
	writePlane(out, 0, sum, valid, 0)
	return out, nil
}

// JoinSplitSeasons merges adjacent periods that carry the same season year
// and touch in time. A wrapped season such as "djf" aggregated one calendar
// year at a time arrives as a December fragment followed by a January to
// February fragment; joined, they form the complete season total.
func JoinSplitSeasons(series *Field) (*Field, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	var groups [][]int
	for t, p := range series.Time {
		if n := len(groups); n > 0 {
			last := series.Time[groups[n-1][len(groups[n-1])-1]]
			if p.Season != "" && p.Season == last.Season && p.Year == last.Year && p.Start.Equal(last.End) {
				groups[n-1] = append(groups[n-1], t)
				continue
			}
		}
		groups = append(groups, []int{t})
	}
	if len(groups) == len(series.Time) {
		return series, nil
	}

	periods := make([]Period, len(groups))
	for n, g := range groups {
		first, last := series.Time[g[0]], series.Time[g[len(g)-1]]
		periods[n] = Period{Start: first.Start, End: last.End, Year: first.Year, Season: first.Season}
	}
	out := series.like(periods, series.Lat.Clone(), series.Lon.Clone())
	out.Attributes = maps.Clone(series.Attributes)
	for n, g := range groups {
		sum, valid := sumSteps(series, g)
		writePlane(out, n, sum, valid, 1)
	}
	return out, nil
}
