// Package source describes the native datasets the pipeline ingests. Each
// dataset is an Adapter: it knows its files, its variable encoding and
// whether its regridded output needs mask repair. The pipeline drives every
// dataset through the same interface.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// ErrUnknownDataset is returned by New for names without a registered adapter.
var ErrUnknownDataset = errors.New("unknown dataset")

// ErrNoData is returned by Load when a period read yields no daily steps.
var ErrNoData = errors.New("no data for period")

// Reader loads one native variable from a file.
type Reader interface {
	ReadRaw(ctx context.Context, path, variable string) (domain.RawField, error)
}

// Adapter is the per-dataset capability set.
type Adapter interface {
	Dataset() string
	Version() string
	Variable() domain.VariableSpec
	// Periods lists the reads covering [first, last], sorted by year. Years
	// outside the dataset's coverage are left out.
	Periods(first, last int) []domain.PeriodRef
	// Load reads one period. Errors here are per-period and do not fail
	// the dataset.
	Load(ctx context.Context, ref domain.PeriodRef) (domain.RawField, error)
	// NeedsMaskRepair reports whether regridding must zero-fill masked
	// cells and reconcile afterwards.
	NeedsMaskRepair() bool
	// MeanKind selects the file suffix of the dataset's time mean.
	MeanKind() domain.ProductKind
}

// Settings carries the per-run values an adapter needs.
type Settings struct {
	// Dir is the root directory templates are resolved against.
	Dir     string
	Version string
	// Template overrides the dataset's default file template. "{version}"
	// and "{year}" are substituted; "*" globs ensemble members.
	Template string
	// Variable is the canonical output variable name, e.g. "pr".
	Variable string
	Reader   Reader
}

type layout int

const (
	// One file per year.
	perYear layout = iota
	// One file holding the whole record.
	singleFile
	// One file per ensemble member per year, averaged on load.
	members
)

// dataset is the table-driven Adapter implementation shared by every source.
type dataset struct {
	name     string
	version  string
	spec     domain.VariableSpec
	dir      string
	template string
	layout   layout
	// lastYear is the last complete year of the record; 0 means open-ended.
	lastYear int
	repair   bool
	kind     domain.ProductKind
	reader   Reader
}

func (d *dataset) Dataset() string { return d.name }
func (d *dataset) Version() string { return d.version }
func (d *dataset) Variable() domain.VariableSpec { return d.spec }
func (d *dataset) NeedsMaskRepair() bool { return d.repair }
func (d *dataset) MeanKind() domain.ProductKind { return d.kind }

func (d *dataset) path(year int) string {
	return filepath.Join(d.dir, ExpandTemplate(d.template, d.version, year))
}

// ExpandTemplate substitutes version and year into a file template.
func ExpandTemplate(template, version string, year int) string {
	return strings.NewReplacer("{version}", version, "{year}", strconv.Itoa(year)).Replace(template)
}

func (d *dataset) Periods(first, last int) []domain.PeriodRef {
	if d.lastYear > 0 && last > d.lastYear {
		last = d.lastYear
	}
	var refs []domain.PeriodRef
	for year := first; year <= last; year++ {
		ref := domain.PeriodRef{Year: year}
		switch d.layout {
		case members:
			matches, _ := filepath.Glob(d.path(year))
			slices.Sort(matches)
			ref.Paths = matches
		default:
			ref.Paths = []string{d.path(year)}
		}
		refs = append(refs, ref)
	}
	return refs
}

func (d *dataset) Load(ctx context.Context, ref domain.PeriodRef) (domain.RawField, error) {
	if len(ref.Paths) == 0 {
		return domain.RawField{}, fmt.Errorf("%s %d: %w: no files match %s", d.name, ref.Year, ErrNoData, d.path(ref.Year))
	}
	inYear := func(t time.Time) bool { return t.UTC().Year() == ref.Year }

	var reads []domain.RawField
	for _, p := range ref.Paths {
		raw, err := d.reader.ReadRaw(ctx, p, d.spec.NativeName)
		if err != nil {
			return domain.RawField{}, fmt.Errorf("%s %d: %w", d.name, ref.Year, err)
		}
		raw = raw.SelectDays(inYear)
		if len(raw.Days) == 0 {
			return domain.RawField{}, fmt.Errorf("%s %d: %w in %s", d.name, ref.Year, ErrNoData, p)
		}
		reads = append(reads, raw)
	}
	if d.layout != members {
		return reads[0], nil
	}
	mean, err := domain.MeanRaw(reads)
	if err != nil {
		return domain.RawField{}, fmt.Errorf("%s %d ensemble mean: %w", d.name, ref.Year, err)
	}
	return mean, nil
}

// Factory builds an adapter from run settings.
type Factory func(Settings) Adapter

var registry = map[string]Factory{
	"chirps":   NewCHIRPS,
	"eobs":     NewEOBS,
	"iberia01": NewIberia01,
	"DePreSys": NewDePreSys,
}

// New returns the adapter registered for name.
func New(name string, s Settings) (Adapter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDataset, name, strings.Join(Known(), ", "))
	}
	return f(s), nil
}

// Known lists registered dataset names in sorted order.
func Known() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func templateOr(s Settings, def string) string {
	if s.Template != "" {
		return s.Template
	}
	return def
}

func variableOr(s Settings) string {
	if s.Variable != "" {
		return s.Variable
	}
	return "pr"
}
