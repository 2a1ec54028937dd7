package domain

import (
	"fmt"
	"math"
)

// spacingTolerance is the relative deviation from the mean cell width that
// still counts as uniform spacing.
const spacingTolerance = 1e-3

// GuessBounds derives midpoint-symmetric cell edges from cell centers. The
// first and last cells are extended by half the neighbouring spacing. At
// least two monotonic, uniformly spaced points are required.
func (a *Axis) GuessBounds() error {
	n := len(a.Points)
	if n < 2 {
		return fmt.Errorf("%w: need at least 2 points, have %d", ErrIrregularSpacing, n)
	}
	mean := (a.Points[n-1] - a.Points[0]) / float64(n-1)
	if mean == 0 {
		return fmt.Errorf("%w: zero extent", ErrIrregularSpacing)
	}
	for k := 1; k < n; k++ {
		d := a.Points[k] - a.Points[k-1]
		if math.Abs(d-mean) > spacingTolerance*math.Abs(mean) {
			return fmt.Errorf("%w: step %d is %g, mean %g", ErrIrregularSpacing, k, d, mean)
		}
	}

	bounds := make([][2]float64, n)
	for k := 0; k < n; k++ {
		var lo, hi float64
		if k == 0 {
			lo = a.Points[0] - (a.Points[1]-a.Points[0])/2
		} else {
			lo = (a.Points[k-1] + a.Points[k]) / 2
		}
		if k == n-1 {
			hi = a.Points[n-1] + (a.Points[n-1]-a.Points[n-2])/2
		} else {
			hi = (a.Points[k] + a.Points[k+1]) / 2
		}
		bounds[k] = [2]float64{lo, hi}
	}
	a.Bounds = bounds
	return nil
}

// EnsureBounds returns f with bounds on both spatial axes, guessing any that
// are missing. f itself is not modified.
func EnsureBounds(f *Field) (*Field, error) {
	if f.Lat.HasBounds() && f.Lon.HasBounds() {
		return f, nil
	}
	out := f.Clone()
	if !out.Lat.HasBounds() {
		if err := out.Lat.GuessBounds(); err != nil {
			return nil, fmt.Errorf("latitude: %w", err)
		}
	}
	if !out.Lon.HasBounds() {
		if err := out.Lon.GuessBounds(); err != nil {
			return nil, fmt.Errorf("longitude: %w", err)
		}
	}
	return out, nil
}

// ordered returns the lower and upper edge of a cell regardless of axis direction.
func ordered(b [2]float64) (float64, float64) {
	if b[0] > b[1] {
		return b[1], b[0]
	}
	return b[0], b[1]
}

// CellEdges returns (lower, upper) edges of cell k, lowest first.
func (a Axis) CellEdges(k int) (float64, float64) {
	return ordered(a.Bounds[k])
}

// MaxCellWidth returns the widest cell along a bounded axis.
func (a Axis) MaxCellWidth() float64 {
	widest := 0.0
	for k := range a.Bounds {
		lo, hi := ordered(a.Bounds[k])
		widest = math.Max(widest, hi-lo)
	}
	return widest
}
