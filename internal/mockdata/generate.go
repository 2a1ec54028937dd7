// Package mockdata writes synthetic native-grid inputs in the on-disk layout
// of every supported dataset, so the pipeline can run without the real
// archives.
package mockdata

import (
	"context"
	"fmt"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/precip-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
)

// NativeWriter writes one daily native file.
type NativeWriter interface {
	WriteNative(ctx context.Context, path string, raw domain.RawField, layout netcdf.NativeLayout) error
}

// Options controls what Generate writes.
type Options struct {
	Dir       string
	Region    domain.Region
	YearStart int
	YearEnd   int
	// Versions selects datasets, as in the pipeline configuration.
	Versions map[string]string
	// Members is the number of ensemble members written for DePreSys.
	Members int
	// Pad extends every grid beyond the region, in degrees.
	Pad float64
}

// seaWidth is the strip along the western edge of the region that
// land-only datasets leave masked.
const seaWidth = 1.0

type nativeSpec struct {
	resolution float64
	// offset shifts cell centers off the resolution lattice.
	offset    float64
	layout    netcdf.NativeLayout
	landOnly  bool
	perYear   bool
	fluxScale float64
}

var specs = map[string]nativeSpec{
	"chirps": {
		resolution: 0.25, offset: 0.125, landOnly: true, perYear: true,
		layout: netcdf.NativeLayout{
			Variable: "precip", LatName: "latitude", LonName: "longitude",
			Units: "mm/day", Reference: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), FillValue: -9999,
			Attributes: map[string]string{"title": "synthetic CHIRPS daily"},
		},
	},
	"eobs": {
		resolution: 0.25, offset: 0.125, landOnly: true,
		layout: netcdf.NativeLayout{
			Variable: "rr", LatName: "latitude", LonName: "longitude",
			Units: "mm", Reference: time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), FillValue: -9999,
			CRS: domain.DefaultCRS, Attributes: map[string]string{"title": "synthetic E-OBS ensemble mean"},
		},
	},
	"iberia01": {
		resolution: 0.1, offset: 0.05, landOnly: true,
		layout: netcdf.NativeLayout{
			Variable: "pr", LatName: "lat", LonName: "lon",
			Units: "mm", Reference: time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC), FillValue: 1e20,
			CRS: domain.DefaultCRS, Attributes: map[string]string{"title": "synthetic Iberia01"},
		},
	},
	"DePreSys": {
		resolution: 1, offset: 0.5, perYear: true, fluxScale: 86400,
		layout: netcdf.NativeLayout{
			Variable: "precipitation_flux", LatName: "latitude", LonName: "longitude",
			Units: "kg m-2 s-1", Reference: time.Date(1960, 11, 1, 0, 0, 0, 0, time.UTC), FillValue: 1e20,
			CRS: domain.DefaultCRS, Attributes: map[string]string{"source": "synthetic DePreSys hindcast"},
		},
	},
}

// Known lists the datasets Generate can write.
func Known() []string {
	return slices.Sorted(maps.Keys(specs))
}

// Generate writes the native inputs for every selected dataset and returns
// the written paths.
func Generate(ctx context.Context, w NativeWriter, opts Options) ([]string, error) {
	if opts.YearStart > opts.YearEnd {
		return nil, fmt.Errorf("year range %d-%d is empty", opts.YearStart, opts.YearEnd)
	}
	if err := opts.Region.Validate(); err != nil {
		return nil, err
	}
	if opts.Members < 1 {
		opts.Members = 1
	}

	var written []string
	for _, name := range slices.Sorted(maps.Keys(opts.Versions)) {
		spec, ok := specs[name]
		if !ok {
			return written, fmt.Errorf("no synthetic layout for dataset %q", name)
		}
		paths, err := generateDataset(ctx, w, opts, name, opts.Versions[name], spec)
		written = append(written, paths...)
		if err != nil {
			return written, fmt.Errorf("%s: %w", name, err)
		}
	}
	return written, nil
}

func generateDataset(ctx context.Context, w NativeWriter, opts Options, name, version string, spec nativeSpec) ([]string, error) {
	template := source.DefaultTemplates[name]
	lat := lattice(opts.Region.LatMin-opts.Pad, opts.Region.LatMax+opts.Pad, spec.resolution, spec.offset)
	lon := lattice(opts.Region.LonMin-opts.Pad, opts.Region.LonMax+opts.Pad, spec.resolution, spec.offset)

	if !spec.perYear {
		raw := synthesize(days(opts.YearStart, opts.YearEnd), lat, lon, opts.Region, spec, 0)
		path := filepath.Join(opts.Dir, source.ExpandTemplate(template, version, opts.YearStart))
		return []string{path}, w.WriteNative(ctx, path, raw, spec.layout)
	}

	var written []string
	for year := opts.YearStart; year <= opts.YearEnd; year++ {
		members := 1
		if strings.Contains(template, "*") {
			members = opts.Members
		}
		for m := 1; m <= members; m++ {
			rel := source.ExpandTemplate(template, version, year)
			rel = strings.Replace(rel, "*", fmt.Sprintf("%di1p1", m), 1)
			path := filepath.Join(opts.Dir, rel)
			raw := synthesize(days(year, year), lat, lon, opts.Region, spec, m-1)
			if err := w.WriteNative(ctx, path, raw, spec.layout); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

// lattice returns cell centers k*step+offset that fall inside [lo, hi].
func lattice(lo, hi, step, offset float64) domain.Axis {
	first := math.Ceil((lo-offset)/step)*step + offset
	var a domain.Axis
	for v := first; v <= hi+1e-9; v += step {
		a.Points = append(a.Points, math.Round(v*1e6)/1e6)
	}
	return a
}

func days(first, last int) []time.Time {
	var out []time.Time
	end := time.Date(last+1, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := time.Date(first, 1, 1, 0, 0, 0, 0, time.UTC); d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// synthesize fills a daily field with a seasonal cycle and a north-south
// gradient. Every fourth cell-day is dry, so real zeros occur.
func synthesize(ds []time.Time, lat, lon domain.Axis, r domain.Region, spec nativeSpec, member int) domain.RawField {
	ny, nx := lat.Len(), lon.Len()
	values := sparse.ZerosDense(len(ds), ny, nx)
	var mask []bool
	if spec.landOnly {
		mask = make([]bool, len(values.Elements))
	}
	for t, d := range ds {
		phase := 2 * math.Pi * float64(d.YearDay()) / 365
		for j, y := range lat.Points {
			for i, x := range lon.Points {
				k := (t*ny+j)*nx + i
				if spec.landOnly && x < r.LonMin+seaWidth {
					mask[k] = true
					continue
				}
				v := 3 + 2*math.Sin(phase+x/5) + (y-r.LatMin)/4 + 0.1*float64(member)
				if (d.YearDay()+j+i)%4 == 0 {
					v = 0
				}
				if spec.fluxScale > 0 {
					v /= spec.fluxScale
				}
				values.Elements[k] = v
			}
		}
	}
	return domain.RawField{Days: ds, Lat: lat, Lon: lon, Values: values, Mask: mask}
}
