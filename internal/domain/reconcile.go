package domain

import (
	"fmt"
	"math"
)

// ReconcileReference carries the trusted dataset's missing-data convention.
type ReconcileReference struct {
	// Dataset names the reference, for logs only.
	Dataset string
	// FillValue is the sentinel the reference stores in masked cells.
	FillValue float64
	// Tolerance widens the zero test to |v| <= Tolerance. Zero means exact
	// equality with 0.0.
	Tolerance float64
}

// ReconcileStats reports what a reconcile pass changed.
type ReconcileStats struct {
	Cells     int
	Reclassed int
	WasMasked int
	NowMasked int
}

// Reconcile restores the mask on a field that went through a zero-filled
// regrid: every unmasked cell whose value is zero (within ref.Tolerance) is
// set to ref.FillValue and masked. The input is not modified.
//
// Genuine zero rainfall cannot be told apart from a zero-filled hole at this
// point, so such cells are masked too. Masking a real dry cell is the
// accepted error; reporting a hole as zero rainfall is not.
//
// Running Reconcile on its own output changes nothing because reclassified
// cells hold the fill value, which must lie outside the tolerance band.
func Reconcile(f *Field, ref ReconcileReference) (*Field, ReconcileStats, error) {
	if ref.Tolerance < 0 {
		return nil, ReconcileStats{}, fmt.Errorf("negative zero tolerance %g", ref.Tolerance)
	}
	if math.Abs(ref.FillValue) <= ref.Tolerance || math.IsNaN(ref.FillValue) {
		return nil, ReconcileStats{}, fmt.Errorf("%w: fill %g, tolerance %g", ErrFillValueInTolerance, ref.FillValue, ref.Tolerance)
	}
	if err := f.Validate(); err != nil {
		return nil, ReconcileStats{}, err
	}

	out := f.Clone()
	stats := ReconcileStats{Cells: len(out.Mask), WasMasked: f.MaskedCount()}
	for k, v := range out.Values.Elements {
		if out.Mask[k] {
			// Cells masked before the pass take the reference sentinel too,
			// so the repaired field uses one convention throughout.
			out.Values.Elements[k] = ref.FillValue
			continue
		}
		if math.Abs(v) <= ref.Tolerance {
			out.Values.Elements[k] = ref.FillValue
			out.Mask[k] = true
			stats.Reclassed++
		}
	}
	out.FillValue = ref.FillValue
	stats.NowMasked = out.MaskedCount()
	return out, stats, nil
}
