// Package regrid remaps fields onto a target grid with area-weighted
// (conservative) averaging.
package regrid

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

const deg2rad = math.Pi / 180

// Regridder computes, for every target cell, the average of the overlapping
// source cells weighted by their overlap area on the sphere.
type Regridder struct {
	// MDTol is the masked-area fraction a target cell tolerates. A cell is
	// masked when the masked share of its overlapped source area exceeds
	// MDTol, and always when no valid source area overlaps it. 0 masks any
	// cell touched by masked data; 1 masks only cells without valid data.
	MDTol float64

	// MaskedAsZero treats masked source cells as valid zeros. This is the
	// zero-filled path whose output needs domain.Reconcile afterwards.
	MaskedAsZero bool
}

// New validates the tolerance and returns a Regridder.
func New(mdtol float64, maskedAsZero bool) (*Regridder, error) {
	if mdtol < 0 || mdtol > 1 || math.IsNaN(mdtol) {
		return nil, fmt.Errorf("mdtol %g outside [0, 1]", mdtol)
	}
	return &Regridder{MDTol: mdtol, MaskedAsZero: maskedAsZero}, nil
}

// overlap is one source cell's contribution to a target cell.
type overlap struct {
	j, i   int
	weight float64
}

// sourceCell is an R-tree entry for one source cell.
type sourceCell struct {
	geom.Polygonal
	j, i int
}

// Regrid remaps src onto target's grid. The output keeps src's time axis
// and metadata and takes the target's coordinates and coordinate system.
// Missing bounds on either field are guessed on copies; a source without a
// coordinate system inherits the target's.
func (r *Regridder) Regrid(src, target *domain.Field) (*domain.Field, error) {
	if r.MDTol < 0 || r.MDTol > 1 {
		return nil, fmt.Errorf("mdtol %g outside [0, 1]", r.MDTol)
	}
	if target.CRS == "" {
		return nil, fmt.Errorf("target: %w", domain.ErrMissingCRS)
	}
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if src.CRS != "" && canonicalCRS(src.CRS) != canonicalCRS(target.CRS) {
		return nil, fmt.Errorf("%w: source %q, target %q", domain.ErrCRSMismatch, src.CRS, target.CRS)
	}

	src, err := domain.EnsureBounds(src)
	if err != nil {
		return nil, fmt.Errorf("source bounds: %w", err)
	}
	target, err = domain.EnsureBounds(target)
	if err != nil {
		return nil, fmt.Errorf("target bounds: %w", err)
	}

	weights := overlaps(src, target)

	out := domain.NewField(append([]domain.Period(nil), src.Time...), target.Lat.Clone(), target.Lon.Clone())
	out.Variable = src.Variable
	out.StandardName = src.StandardName
	out.Units = src.Units
	out.FillValue = src.FillValue
	out.CRS = target.CRS

	tnx := target.Lon.Len()
	for t := range src.Time {
		for c, ws := range weights {
			tj, ti := c/tnx, c%tnx
			sum, validArea, maskedArea := 0.0, 0.0, 0.0
			for _, o := range ws {
				v, masked := src.At(t, o.j, o.i)
				if masked {
					if !r.MaskedAsZero {
						maskedArea += o.weight
						continue
					}
					v = 0
				}
				sum += v * o.weight
				validArea += o.weight
			}
			if validArea == 0 || maskedArea/(validArea+maskedArea) > r.MDTol {
				out.SetMasked(t, tj, ti)
				continue
			}
			out.Set(t, tj, ti, sum/validArea)
		}
	}
	return out, nil
}

// overlaps lists, per flattened target cell, the source cells it overlaps
// and the spherical area of each overlap.
func overlaps(src, target *domain.Field) [][]overlap {
	tree := rtree.NewTree(25, 50)
	for j := 0; j < src.Lat.Len(); j++ {
		y0, y1 := src.Lat.CellEdges(j)
		for i := 0; i < src.Lon.Len(); i++ {
			x0, x1 := src.Lon.CellEdges(i)
			tree.Insert(&sourceCell{
				Polygonal: &geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}},
				j:         j,
				i:         i,
			})
		}
	}

	tny, tnx := target.Lat.Len(), target.Lon.Len()
	out := make([][]overlap, tny*tnx)
	for j := 0; j < tny; j++ {
		y0, y1 := target.Lat.CellEdges(j)
		for i := 0; i < tnx; i++ {
			x0, x1 := target.Lon.CellEdges(i)
			box := &geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}}
			var ws []overlap
			for _, s := range tree.SearchIntersect(box) {
				cell := s.(*sourceCell)
				if w := overlapArea(box, cell.Bounds()); w > 0 {
					ws = append(ws, overlap{j: cell.j, i: cell.i, weight: w})
				}
			}
			out[j*tnx+i] = ws
		}
	}
	return out
}

// overlapArea returns the area on the unit sphere shared by two lon/lat
// boxes, or 0 when they only touch.
func overlapArea(a, b *geom.Bounds) float64 {
	x0, x1 := math.Max(a.Min.X, b.Min.X), math.Min(a.Max.X, b.Max.X)
	y0, y1 := math.Max(a.Min.Y, b.Min.Y), math.Min(a.Max.Y, b.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return (x1 - x0) * deg2rad * (math.Sin(y1*deg2rad) - math.Sin(y0*deg2rad))
}

// canonicalCRS normalizes a proj4 string so equivalent definitions with
// reordered or repeated whitespace compare equal.
func canonicalCRS(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	var kept []string
	for _, f := range fields {
		if f == "+no_defs" || seen[f] {
			continue
		}
		seen[f] = true
		kept = append(kept, f)
	}
	slices.Sort(kept)
	return strings.Join(kept, " ")
}
