// Package netcdf persists precipitation fields as netCDF classic files and
// reads native daily source files in the same format.
package netcdf

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

const (
	dimTime = "time"
	dimLat  = "lat"
	dimLon  = "lon"
	dimBnds = "bnds"

	varTimeBnds   = "time_bnds"
	varLatBnds    = "lat_bnds"
	varLonBnds    = "lon_bnds"
	varSeasonYear = "season_year"

	attrCRS    = "proj4"
	attrSeason = "season"

	epochUnits = "days since 1970-01-01 00:00:00"
)

// ErrUnsupported is returned for files whose layout the store cannot map
// onto a (time, lat, lon) field.
var ErrUnsupported = errors.New("unsupported netCDF layout")

// Store reads and writes fields on the local filesystem.
type Store struct{}

// NewStore returns a filesystem-backed store.
func NewStore() *Store { return &Store{} }

// WriteField persists f at path. The file is written next to its final name
// and renamed into place, so readers never observe a partial product.
func (s *Store) WriteField(ctx context.Context, path string, f *domain.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	nt, ny, nx := f.Shape()
	if nt == 0 {
		return fmt.Errorf("write %s: %w", path, domain.ErrNoPeriods)
	}
	if !f.Lat.HasBounds() || !f.Lon.HasBounds() {
		return fmt.Errorf("write %s: %w", path, domain.ErrMissingBounds)
	}

	h := cdf.NewHeader([]string{dimTime, dimLat, dimLon, dimBnds}, []int{nt, ny, nx, 2})
	h.AddAttribute("", "Conventions", "CF-1.7")
	if f.CRS != "" {
		h.AddAttribute("", attrCRS, f.CRS)
	}
	if season := f.Time[0].Season; season != "" {
		h.AddAttribute("", attrSeason, season)
	}

	h.AddVariable(dimTime, []string{dimTime}, []float64{0})
	h.AddAttribute(dimTime, "units", epochUnits)
	h.AddAttribute(dimTime, "calendar", "standard")
	h.AddAttribute(dimTime, "bounds", varTimeBnds)
	h.AddVariable(varTimeBnds, []string{dimTime, dimBnds}, []float64{0})
	h.AddVariable(varSeasonYear, []string{dimTime}, []int32{0})

	h.AddVariable(dimLat, []string{dimLat}, []float64{0})
	h.AddAttribute(dimLat, "standard_name", "latitude")
	h.AddAttribute(dimLat, "units", "degrees_north")
	h.AddAttribute(dimLat, "bounds", varLatBnds)
	h.AddVariable(varLatBnds, []string{dimLat, dimBnds}, []float64{0})

	h.AddVariable(dimLon, []string{dimLon}, []float64{0})
	h.AddAttribute(dimLon, "standard_name", "longitude")
	h.AddAttribute(dimLon, "units", "degrees_east")
	h.AddAttribute(dimLon, "bounds", varLonBnds)
	h.AddVariable(varLonBnds, []string{dimLon, dimBnds}, []float64{0})

	h.AddVariable(f.Variable, []string{dimTime, dimLat, dimLon}, []float64{0})
	if f.StandardName != "" {
		h.AddAttribute(f.Variable, "standard_name", f.StandardName)
	}
	h.AddAttribute(f.Variable, "units", f.Units)
	h.AddAttribute(f.Variable, "_FillValue", []float64{f.FillValue})
	h.Define()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := writeBody(file, h, f); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func writeBody(file *os.File, h *cdf.Header, f *domain.Field) error {
	nc, err := cdf.Create(file, h)
	if err != nil {
		return err
	}

	times := make([]float64, len(f.Time))
	timeBnds := make([]float64, 0, 2*len(f.Time))
	years := make([]int32, len(f.Time))
	for t, p := range f.Time {
		times[t] = daysSinceEpoch(p.Midpoint())
		timeBnds = append(timeBnds, daysSinceEpoch(p.Start), daysSinceEpoch(p.End))
		years[t] = int32(p.Year)
	}

	values := make([]float64, len(f.Values.Elements))
	for k, v := range f.Values.Elements {
		if f.Mask[k] {
			v = f.FillValue
		}
		values[k] = v
	}

	writes := []struct {
		name string
		data any
	}{
		{dimTime, times},
		{varTimeBnds, timeBnds},
		{varSeasonYear, years},
		{dimLat, f.Lat.Points},
		{varLatBnds, flattenBounds(f.Lat.Bounds)},
		{dimLon, f.Lon.Points},
		{varLonBnds, flattenBounds(f.Lon.Bounds)},
		{f.Variable, values},
	}
	for _, w := range writes {
		end := nc.Header.Lengths(w.name)
		if _, err := nc.Writer(w.name, make([]int, len(end)), end).Write(w.data); err != nil {
			return fmt.Errorf("variable %s: %w", w.name, err)
		}
	}
	return nil
}

// ReadField loads a product written by WriteField.
func (s *Store) ReadField(ctx context.Context, path string) (*domain.Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	nc, err := cdf.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	name, err := dataVariable(nc.Header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	bnds, err := readFloats(nc, varTimeBnds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	years, err := readFloats(nc, varSeasonYear)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	season := stringAttr(nc.Header, "", attrSeason)
	periods := make([]domain.Period, len(years))
	for t := range periods {
		periods[t] = domain.Period{
			Start:  fromDays(bnds[2*t]),
			End:    fromDays(bnds[2*t+1]),
			Year:   int(years[t]),
			Season: season,
		}
	}

	lat, err := readAxis(nc, dimLat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	lon, err := readAxis(nc, dimLon)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f := domain.NewField(periods, lat, lon)
	f.Variable = name
	f.StandardName = stringAttr(nc.Header, name, "standard_name")
	f.Units = stringAttr(nc.Header, name, "units")
	f.CRS = stringAttr(nc.Header, "", attrCRS)

	values, err := readFloats(nc, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(values) != len(f.Values.Elements) {
		return nil, fmt.Errorf("%s: %w: %d values for shape %v", path, domain.ErrShapeMismatch, len(values), f.Values.Shape)
	}
	fill, hasFill := fillValue(nc.Header, name)
	f.FillValue = fill
	for k, v := range values {
		f.Values.Elements[k] = v
		f.Mask[k] = hasFill && v == fill || math.IsNaN(v)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ReadRaw loads one native daily variable. Coordinates are found through the
// variable's dimension names; packed integers are unpacked with
// scale_factor and add_offset. Cells equal to _FillValue or missing_value
// are flagged in the returned mask.
func (s *Store) ReadRaw(ctx context.Context, path, variable string) (domain.RawField, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawField{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return domain.RawField{}, err
	}
	defer file.Close()
	nc, err := cdf.Open(file)
	if err != nil {
		return domain.RawField{}, fmt.Errorf("open %s: %w", path, err)
	}

	dims := nc.Header.Dimensions(variable)
	if len(dims) != 3 {
		return domain.RawField{}, fmt.Errorf("%s: %w: variable %q has dimensions %v", path, ErrUnsupported, variable, dims)
	}

	timeVals, err := readFloats(nc, dims[0])
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s: %w", path, err)
	}
	toTime, err := parseTimeUnits(stringAttr(nc.Header, dims[0], "units"))
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s: %w", path, err)
	}
	days := make([]time.Time, len(timeVals))
	for t, v := range timeVals {
		days[t] = toTime(v)
	}

	lat, err := readAxis(nc, dims[1])
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s: %w", path, err)
	}
	lon, err := readAxis(nc, dims[2])
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s: %w", path, err)
	}

	packed, err := readFloats(nc, variable)
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(packed) != len(days)*lat.Len()*lon.Len() {
		return domain.RawField{}, fmt.Errorf("%s: %w: %d values", path, domain.ErrShapeMismatch, len(packed))
	}

	raw := domain.RawField{
		Variable:     variable,
		StandardName: stringAttr(nc.Header, variable, "standard_name"),
		Units:        stringAttr(nc.Header, variable, "units"),
		Days:         days,
		Lat:          lat,
		Lon:          lon,
		Values:       sparse.ZerosDense(len(days), lat.Len(), lon.Len()),
		Mask:         make([]bool, len(packed)),
		CRS:          stringAttr(nc.Header, "", attrCRS),
		Attributes:   globalStrings(nc.Header),
	}
	fill, hasFill := fillValue(nc.Header, variable)
	scale, offset := 1.0, 0.0
	if v, ok := floatAttr(nc.Header, variable, "scale_factor"); ok {
		scale = v
	}
	if v, ok := floatAttr(nc.Header, variable, "add_offset"); ok {
		offset = v
	}
	for k, v := range packed {
		if hasFill && v == fill {
			raw.Mask[k] = true
			continue
		}
		raw.Values.Elements[k] = v*scale + offset
	}
	if hasFill {
		raw.FillValue = fill*scale + offset
		raw.HasFillValue = true
		for k, m := range raw.Mask {
			if m {
				raw.Values.Elements[k] = raw.FillValue
			}
		}
	}
	return raw, nil
}

// dataVariable returns the single (time, lat, lon) variable of a product.
func dataVariable(h *cdf.Header) (string, error) {
	for _, v := range h.Variables() {
		if slices.Equal(h.Dimensions(v), []string{dimTime, dimLat, dimLon}) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: no (time, lat, lon) variable", ErrUnsupported)
}

func readAxis(nc *cdf.File, name string) (domain.Axis, error) {
	points, err := readFloats(nc, name)
	if err != nil {
		return domain.Axis{}, err
	}
	a := domain.Axis{Points: points}
	if bname := stringAttr(nc.Header, name, "bounds"); bname != "" {
		flat, err := readFloats(nc, bname)
		if err != nil {
			return domain.Axis{}, err
		}
		if len(flat) != 2*len(points) {
			return domain.Axis{}, fmt.Errorf("%w: %s has %d values for %d cells", domain.ErrShapeMismatch, bname, len(flat), len(points))
		}
		a.Bounds = make([][2]float64, len(points))
		for k := range a.Bounds {
			a.Bounds[k] = [2]float64{flat[2*k], flat[2*k+1]}
		}
	}
	return a, nil
}

// readFloats reads a whole numeric variable as float64.
func readFloats(nc *cdf.File, name string) ([]float64, error) {
	if len(nc.Header.Lengths(name)) == 0 {
		return nil, fmt.Errorf("%w: missing variable %q", ErrUnsupported, name)
	}
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	out, ok := toFloats(buf)
	if !ok {
		return nil, fmt.Errorf("%w: variable %q has type %T", ErrUnsupported, name, buf)
	}
	return out, nil
}

func toFloats(v any) ([]float64, bool) {
	switch data := v.(type) {
	case []float64:
		return data, true
	case []float32:
		return convert(data), true
	case []int32:
		return convert(data), true
	case []int16:
		return convert(data), true
	case []int8:
		return convert(data), true
	default:
		return nil, false
	}
}

func convert[T float32 | int32 | int16 | int8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func stringAttr(h *cdf.Header, variable, name string) string {
	s, _ := h.GetAttribute(variable, name).(string)
	return s
}

func floatAttr(h *cdf.Header, variable, name string) (float64, bool) {
	vals, ok := toFloats(h.GetAttribute(variable, name))
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func fillValue(h *cdf.Header, variable string) (float64, bool) {
	if v, ok := floatAttr(h, variable, "_FillValue"); ok {
		return v, true
	}
	return floatAttr(h, variable, "missing_value")
}

func globalStrings(h *cdf.Header) map[string]string {
	out := make(map[string]string)
	for _, name := range h.Attributes("") {
		if s := stringAttr(h, "", name); s != "" {
			out[name] = s
		}
	}
	return out
}

func flattenBounds(b [][2]float64) []float64 {
	out := make([]float64, 0, 2*len(b))
	for _, e := range b {
		out = append(out, e[0], e[1])
	}
	return out
}
