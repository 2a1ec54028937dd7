package domain

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// RawField is one period read as it came off disk, before normalization.
type RawField struct {
	Variable     string
	StandardName string
	Units        string

	// Days holds the start instant of each daily step.
	Days []time.Time
	Lat  Axis
	Lon  Axis

	// Values has shape [len(Days), Lat.Len(), Lon.Len()].
	Values *sparse.DenseArray
	// Mask is optional; nil means validity is encoded by FillValue or NaN.
	Mask []bool

	FillValue    float64
	HasFillValue bool
	CRS          string
	Attributes   map[string]string
}

// VariableSpec declares how a source encodes the requested variable.
type VariableSpec struct {
	// Name is the canonical short name written to outputs, e.g. "pr".
	Name string
	// NativeName is the variable name inside the source files.
	NativeName string
	// Scale converts native values into kg m-2 day-1.
	Scale float64
	// FillValue is the sentinel used when the source file does not declare
	// one. Outputs keep the source's sentinel so masked cells stay recognizable.
	FillValue float64
}

// Normalize turns a raw read into a canonical daily Field: attributes are
// stripped, standard name and units are set, values are scaled, fill
// sentinels and NaNs become masked cells, a missing CRS is inherited from
// targetCRS, and missing coordinate bounds are guessed.
func Normalize(raw RawField, v VariableSpec, targetCRS string) (*Field, error) {
	nt, ny, nx := len(raw.Days), raw.Lat.Len(), raw.Lon.Len()
	if raw.Values == nil || len(raw.Values.Elements) != nt*ny*nx {
		return nil, fmt.Errorf("%w: raw %s has %d values for [%d %d %d]", ErrShapeMismatch, raw.Variable, lenOf(raw.Values), nt, ny, nx)
	}
	if raw.Mask != nil && len(raw.Mask) != len(raw.Values.Elements) {
		return nil, fmt.Errorf("%w: raw mask has %d cells, values %d", ErrShapeMismatch, len(raw.Mask), len(raw.Values.Elements))
	}

	crs := raw.CRS
	if crs == "" {
		crs = targetCRS
	}
	if crs == "" {
		return nil, fmt.Errorf("%s: %w", raw.Variable, ErrMissingCRS)
	}
	if _, err := proj.Parse(crs); err != nil {
		return nil, fmt.Errorf("parse crs %q: %w", crs, err)
	}

	fill := v.FillValue
	if raw.HasFillValue {
		fill = raw.FillValue
	}
	scale := v.Scale
	if scale == 0 {
		scale = 1
	}

	periods := make([]Period, nt)
	for t, d := range raw.Days {
		day := truncateDay(d)
		periods[t] = Period{Start: day, End: day.AddDate(0, 0, 1), Year: day.Year()}
	}

	out := NewField(periods, raw.Lat.Clone(), raw.Lon.Clone())
	out.Variable = v.Name
	out.StandardName = StandardName
	out.Units = DailyUnits
	out.FillValue = fill
	out.CRS = crs

	for k, val := range raw.Values.Elements {
		if raw.invalid(k) {
			out.Values.Elements[k] = fill
			out.Mask[k] = true
			continue
		}
		out.Values.Elements[k] = val * scale
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return EnsureBounds(out)
}

func lenOf(a *sparse.DenseArray) int {
	if a == nil {
		return 0
	}
	return len(a.Elements)
}

// Clone returns a deep copy of the raw read.
func (r RawField) Clone() RawField {
	out := r
	out.Days = append([]time.Time(nil), r.Days...)
	out.Lat = r.Lat.Clone()
	out.Lon = r.Lon.Clone()
	if r.Values != nil {
		out.Values = sparse.ZerosDense(r.Values.Shape...)
		copy(out.Values.Elements, r.Values.Elements)
	}
	if r.Mask != nil {
		out.Mask = append([]bool(nil), r.Mask...)
	}
	out.Attributes = maps.Clone(r.Attributes)
	return out
}

// invalid reports whether flattened cell k carries no observation.
func (r RawField) invalid(k int) bool {
	v := r.Values.Elements[k]
	return math.IsNaN(v) || (r.HasFillValue && v == r.FillValue) || (r.Mask != nil && r.Mask[k])
}

// SelectDays keeps the daily steps for which keep returns true. It is used
// to cut one period out of a source stored as a single multi-year file.
func (r RawField) SelectDays(keep func(time.Time) bool) RawField {
	ny, nx := r.Lat.Len(), r.Lon.Len()
	plane := ny * nx
	var days []time.Time
	var steps []int
	for t, d := range r.Days {
		if keep(d) {
			days = append(days, d)
			steps = append(steps, t)
		}
	}

	out := r
	out.Days = days
	out.Lat = r.Lat.Clone()
	out.Lon = r.Lon.Clone()
	out.Values = sparse.ZerosDense(len(days), ny, nx)
	out.Attributes = maps.Clone(r.Attributes)
	if r.Mask != nil {
		out.Mask = make([]bool, len(out.Values.Elements))
	}
	for n, t := range steps {
		copy(out.Values.Elements[n*plane:(n+1)*plane], r.Values.Elements[t*plane:(t+1)*plane])
		if r.Mask != nil {
			copy(out.Mask[n*plane:(n+1)*plane], r.Mask[t*plane:(t+1)*plane])
		}
	}
	return out
}

// MeanRaw averages ensemble members day by day. Members must share days and
// grid. A cell is masked only where every member is invalid; elsewhere it is
// the mean of the valid members. The result encodes validity in Mask.
func MeanRaw(members []RawField) (RawField, error) {
	if len(members) == 0 {
		return RawField{}, ErrNoPeriods
	}
	head := members[0]
	n := len(head.Days) * head.Lat.Len() * head.Lon.Len()
	for m, r := range members {
		if r.Values == nil || len(r.Values.Elements) != n || len(r.Days) != len(head.Days) {
			return RawField{}, fmt.Errorf("%w: member %d has %d values, want %d", ErrShapeMismatch, m, lenOf(r.Values), n)
		}
		if !r.Lat.Equal(head.Lat, 1e-9) || !r.Lon.Equal(head.Lon, 1e-9) {
			return RawField{}, fmt.Errorf("%w: member %d", ErrGridMismatch, m)
		}
		for t := range r.Days {
			if !truncateDay(r.Days[t]).Equal(truncateDay(head.Days[t])) {
				return RawField{}, fmt.Errorf("%w: member %d day %d", ErrOverlappingPeriods, m, t)
			}
		}
	}

	out := head.Clone()
	out.HasFillValue = false
	out.Mask = make([]bool, n)
	for k := 0; k < n; k++ {
		sum, count := 0.0, 0
		for _, r := range members {
			if r.invalid(k) {
				continue
			}
			sum += r.Values.Elements[k]
			count++
		}
		if count == 0 {
			out.Values.Elements[k] = 0
			out.Mask[k] = true
			continue
		}
		out.Values.Elements[k] = sum / float64(count)
	}
	return out, nil
}
