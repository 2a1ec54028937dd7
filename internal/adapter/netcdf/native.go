package netcdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// NativeLayout describes a source's on-disk conventions. It is used to
// produce fixture files that ReadRaw must accept.
type NativeLayout struct {
	Variable  string
	LatName   string
	LonName   string
	Units     string
	Reference time.Time
	FillValue float32
	// CRS is written as a global attribute when set.
	CRS        string
	Attributes map[string]string
}

// WriteNative writes raw as a single-precision daily file in the given
// layout. Masked cells are stored as the layout's fill value.
func (s *Store) WriteNative(ctx context.Context, path string, raw domain.RawField, layout NativeLayout) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nt, ny, nx := len(raw.Days), raw.Lat.Len(), raw.Lon.Len()
	if raw.Values == nil || len(raw.Values.Elements) != nt*ny*nx {
		return fmt.Errorf("write %s: %w", path, domain.ErrShapeMismatch)
	}

	h := cdf.NewHeader([]string{dimTime, layout.LatName, layout.LonName}, []int{nt, ny, nx})
	names := make([]string, 0, len(layout.Attributes))
	for k := range layout.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		h.AddAttribute("", k, layout.Attributes[k])
	}
	if layout.CRS != "" {
		h.AddAttribute("", attrCRS, layout.CRS)
	}
	h.AddVariable(dimTime, []string{dimTime}, []float64{0})
	h.AddAttribute(dimTime, "units", "days since "+layout.Reference.UTC().Format("2006-1-2 15:04:05"))
	h.AddVariable(layout.LatName, []string{layout.LatName}, []float32{0})
	h.AddAttribute(layout.LatName, "units", "degrees_north")
	h.AddVariable(layout.LonName, []string{layout.LonName}, []float32{0})
	h.AddAttribute(layout.LonName, "units", "degrees_east")
	h.AddVariable(layout.Variable, []string{dimTime, layout.LatName, layout.LonName}, []float32{0})
	h.AddAttribute(layout.Variable, "units", layout.Units)
	h.AddAttribute(layout.Variable, "_FillValue", []float32{layout.FillValue})
	h.Define()

	offsets := make([]float64, nt)
	for t, d := range raw.Days {
		offsets[t] = d.Sub(layout.Reference).Hours() / 24
	}
	values := make([]float32, len(raw.Values.Elements))
	for k, v := range raw.Values.Elements {
		if raw.Mask != nil && raw.Mask[k] {
			values[k] = layout.FillValue
			continue
		}
		values[k] = float32(v)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	nc, err := cdf.Create(file, h)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	writes := []struct {
		name string
		data any
	}{
		{dimTime, offsets},
		{layout.LatName, float32s(raw.Lat.Points)},
		{layout.LonName, float32s(raw.Lon.Points)},
		{layout.Variable, values},
	}
	for _, w := range writes {
		end := nc.Header.Lengths(w.name)
		if _, err := nc.Writer(w.name, make([]int, len(end)), end).Write(w.data); err != nil {
			return fmt.Errorf("write %s: variable %s: %w", path, w.name, err)
		}
	}
	return file.Close()
}

func float32s(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
