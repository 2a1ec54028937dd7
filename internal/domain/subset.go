package domain

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/ctessum/sparse"
)

// DefaultMargin pads a region so that a later coarsening regrid still sees
// every source cell feeding the boundary target cells.
const DefaultMargin = 2.0

// Region is a (lon_min, lon_max, lat_min, lat_max) box in degrees.
type Region struct {
	Name   string
	LonMin float64
	LonMax float64
	LatMin float64
	LatMax float64
}

// Validate rejects inverted boxes.
func (r Region) Validate() error {
	if r.LonMin > r.LonMax || r.LatMin > r.LatMax {
		return fmt.Errorf("region %q: min exceeds max (lon %g..%g, lat %g..%g)", r.Name, r.LonMin, r.LonMax, r.LatMin, r.LatMax)
	}
	return nil
}

// MarginFor returns the subset margin for a target grid: the default margin
// or the coarsest target cell, whichever is larger.
func MarginFor(target *Field) float64 {
	if target == nil {
		return DefaultMargin
	}
	return math.Max(DefaultMargin, math.Max(target.Lat.MaxCellWidth(), target.Lon.MaxCellWidth()))
}

// Subset returns the part of f whose cell centers fall inside the region
// padded by margin on every side, inclusive. Bounds are carried along.
func Subset(f *Field, r Region, margin float64) (*Field, error) {
	lats := selectRange(f.Lat.Points, r.LatMin-margin, r.LatMax+margin)
	lons := selectRange(f.Lon.Points, r.LonMin-margin, r.LonMax+margin)
	if len(lats) == 0 || len(lons) == 0 {
		return nil, fmt.Errorf("%w: region %q lon %g..%g lat %g..%g (margin %g)",
			ErrEmptyIntersection, r.Name, r.LonMin, r.LonMax, r.LatMin, r.LatMax, margin)
	}

	out := f.like(append([]Period(nil), f.Time...), pickAxis(f.Lat, lats), pickAxis(f.Lon, lons))

	for t := range f.Time {
		for jj, j := range lats {
			for ii, i := range lons {
				v, masked := f.At(t, j, i)
				k := out.Index(t, jj, ii)
				out.Values.Elements[k] = v
				out.Mask[k] = masked
			}
		}
	}
	out.Attributes = maps.Clone(f.Attributes)
	return out, nil
}

func selectRange(points []float64, lo, hi float64) []int {
	var idx []int
	for k, p := range points {
		if p >= lo && p <= hi {
			idx = append(idx, k)
		}
	}
	return idx
}

func pickAxis(a Axis, idx []int) Axis {
	out := Axis{Points: make([]float64, len(idx))}
	if a.HasBounds() {
		out.Bounds = make([][2]float64, len(idx))
	}
	for n, k := range idx {
		out.Points[n] = a.Points[k]
		if out.Bounds != nil {
			out.Bounds[n] = a.Bounds[k]
		}
	}
	return out
}

// SubsetRaw applies the same padded-box selection to a raw read, so sources
// can be cut down before normalization touches every value.
func SubsetRaw(raw RawField, r Region, margin float64) (RawField, error) {
	lats := selectRange(raw.Lat.Points, r.LatMin-margin, r.LatMax+margin)
	lons := selectRange(raw.Lon.Points, r.LonMin-margin, r.LonMax+margin)
	if len(lats) == 0 || len(lons) == 0 {
		return RawField{}, fmt.Errorf("%w: region %q lon %g..%g lat %g..%g (margin %g)",
			ErrEmptyIntersection, r.Name, r.LonMin, r.LonMax, r.LatMin, r.LatMax, margin)
	}
	nt, ny, nx := len(raw.Days), raw.Lat.Len(), raw.Lon.Len()
	if raw.Values == nil || len(raw.Values.Elements) != nt*ny*nx {
		return RawField{}, fmt.Errorf("%w: raw %s has %d values for [%d %d %d]", ErrShapeMismatch, raw.Variable, lenOf(raw.Values), nt, ny, nx)
	}

	out := raw
	out.Days = append([]time.Time(nil), raw.Days...)
	out.Lat = pickAxis(raw.Lat, lats)
	out.Lon = pickAxis(raw.Lon, lons)
	out.Values = sparse.ZerosDense(nt, len(lats), len(lons))
	out.Attributes = maps.Clone(raw.Attributes)
	if raw.Mask != nil {
		out.Mask = make([]bool, len(out.Values.Elements))
	}
	for t := 0; t < nt; t++ {
		for jj, j := range lats {
			for ii, i := range lons {
				src := (t*ny+j)*nx + i
				dst := (t*len(lats)+jj)*len(lons) + ii
				out.Values.Elements[dst] = raw.Values.Elements[src]
				if raw.Mask != nil {
					out.Mask[dst] = raw.Mask[src]
				}
			}
		}
	}
	return out, nil
}
