package domain

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/ctessum/sparse"
)

const (
	// StandardName is the CF standard name every normalized field carries.
	StandardName = "precipitation_amount"
	// DailyUnits are the canonical units of normalized daily fields. Period
	// series keep the same unit string; each value is the total over its period.
	DailyUnits = "kg m-2 day-1"

	// DefaultCRS is a plain geographic longitude/latitude system.
	DefaultCRS = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"
)

// Axis is a 1-D spatial coordinate with optional cell-edge bounds.
type Axis struct {
	Points []float64
	Bounds [][2]float64
}

// Len returns the number of cells along the axis.
func (a Axis) Len() int { return len(a.Points) }

// HasBounds reports whether every cell carries (lower, upper) edges.
func (a Axis) HasBounds() bool {
	return len(a.Points) > 0 && len(a.Bounds) == len(a.Points)
}

// Clone returns a deep copy of the axis.
func (a Axis) Clone() Axis {
	out := Axis{Points: append([]float64(nil), a.Points...)}
	if a.Bounds != nil {
		out.Bounds = append([][2]float64(nil), a.Bounds...)
	}
	return out
}

// Equal compares cell centers within tol.
func (a Axis) Equal(b Axis, tol float64) bool {
	if len(a.Points) != len(b.Points) {
		return false
	}
	for i := range a.Points {
		if math.Abs(a.Points[i]-b.Points[i]) > tol {
			return false
		}
	}
	return true
}

// Period is one step of a field's time axis. Daily fields hold one period
// per day; derived series hold one per aggregation window. End is exclusive.
type Period struct {
	Start time.Time
	End   time.Time
	// Year is the calendar or season year the period is labeled with.
	Year int
	// Season is the season token for seasonal totals, "annual" for yearly
	// totals, and empty for daily steps.
	Season string
}

// Midpoint is the representative instant of the period.
func (p Period) Midpoint() time.Time {
	return p.Start.Add(p.End.Sub(p.Start) / 2)
}

// Field is a gridded precipitation field indexed by (time, latitude, longitude).
//
// Values has shape [len(Time), Lat.Len(), Lon.Len()] and Mask is aligned with
// Values.Elements; true marks a cell with no valid observation. Masked cells
// hold FillValue. A time-collapsed field keeps a single period spanning the
// collapsed range.
type Field struct {
	Variable     string
	StandardName string
	Units        string

	Time []Period
	Lat  Axis
	Lon  Axis

	Values *sparse.DenseArray
	Mask   []bool

	FillValue float64
	CRS       string

	// Attributes holds free-text metadata from the source. Normalization
	// clears it so period fragments can be joined.
	Attributes map[string]string
}

// NewField allocates a field with zeroed values and no masked cells.
func NewField(periods []Period, lat, lon Axis) *Field {
	values := sparse.ZerosDense(len(periods), lat.Len(), lon.Len())
	return &Field{
		Time:   periods,
		Lat:    lat,
		Lon:    lon,
		Values: values,
		Mask:   make([]bool, len(values.Elements)),
	}
}

// Shape returns (nt, ny, nx).
func (f *Field) Shape() (nt, ny, nx int) {
	return len(f.Time), f.Lat.Len(), f.Lon.Len()
}

// Index flattens a (t, j, i) position.
func (f *Field) Index(t, j, i int) int {
	ny, nx := f.Lat.Len(), f.Lon.Len()
	return (t*ny+j)*nx + i
}

// At returns the value and mask at (t, j, i).
func (f *Field) At(t, j, i int) (float64, bool) {
	k := f.Index(t, j, i)
	return f.Values.Elements[k], f.Mask[k]
}

// Set stores a valid value at (t, j, i).
func (f *Field) Set(t, j, i int, v float64) {
	k := f.Index(t, j, i)
	f.Values.Elements[k] = v
	f.Mask[k] = false
}

// SetMasked marks (t, j, i) invalid and stores the fill value.
func (f *Field) SetMasked(t, j, i int) {
	k := f.Index(t, j, i)
	f.Values.Elements[k] = f.FillValue
	f.Mask[k] = true
}

// Validate checks the shape invariants shared by every pipeline stage.
func (f *Field) Validate() error {
	nt, ny, nx := f.Shape()
	if f.Values == nil {
		return fmt.Errorf("%w: values not allocated", ErrShapeMismatch)
	}
	if len(f.Values.Shape) != 3 || f.Values.Shape[0] != nt || f.Values.Shape[1] != ny || f.Values.Shape[2] != nx {
		return fmt.Errorf("%w: values %v, coordinates [%d %d %d]", ErrShapeMismatch, f.Values.Shape, nt, ny, nx)
	}
	if len(f.Mask) != len(f.Values.Elements) {
		return fmt.Errorf("%w: mask has %d cells, values %d", ErrShapeMismatch, len(f.Mask), len(f.Values.Elements))
	}
	if f.Lat.Bounds != nil && len(f.Lat.Bounds) != ny {
		return fmt.Errorf("%w: %d latitude bounds for %d cells", ErrShapeMismatch, len(f.Lat.Bounds), ny)
	}
	if f.Lon.Bounds != nil && len(f.Lon.Bounds) != nx {
		return fmt.Errorf("%w: %d longitude bounds for %d cells", ErrShapeMismatch, len(f.Lon.Bounds), nx)
	}
	return validateTimeAxis(f.Time)
}

func validateTimeAxis(periods []Period) error {
	for k := range periods {
		if !periods[k].End.After(periods[k].Start) {
			return fmt.Errorf("%w: period %d has end %s not after start %s",
				ErrOverlappingPeriods, k, periods[k].End.Format(time.DateOnly), periods[k].Start.Format(time.DateOnly))
		}
		if k > 0 && periods[k].Start.Before(periods[k-1].End) {
			return fmt.Errorf("%w: period %d starts %s before previous end %s",
				ErrOverlappingPeriods, k, periods[k].Start.Format(time.DateOnly), periods[k-1].End.Format(time.DateOnly))
		}
	}
	return nil
}

// Clone returns a deep copy so stages never share mutable state.
func (f *Field) Clone() *Field {
	out := *f
	out.Time = append([]Period(nil), f.Time...)
	out.Lat = f.Lat.Clone()
	out.Lon = f.Lon.Clone()
	out.Values = sparse.ZerosDense(f.Values.Shape...)
	copy(out.Values.Elements, f.Values.Elements)
	out.Mask = append([]bool(nil), f.Mask...)
	out.Attributes = maps.Clone(f.Attributes)
	return &out
}

// like returns an empty field carrying f's metadata on the given axes.
func (f *Field) like(periods []Period, lat, lon Axis) *Field {
	out := NewField(periods, lat, lon)
	out.Variable = f.Variable
	out.StandardName = f.StandardName
	out.Units = f.Units
	out.FillValue = f.FillValue
	out.CRS = f.CRS
	return out
}

// MaskedCount returns the number of masked cells.
func (f *Field) MaskedCount() int {
	n := 0
	for _, m := range f.Mask {
		if m {
			n++
		}
	}
	return n
}
