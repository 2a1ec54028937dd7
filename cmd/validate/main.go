// Command validate performs integrity checks on the products of a pipeline
// run: the aggregated directory must hold one mean per dataset and season,
// every product must sit on the target grid, masks must agree with fill
// values, and repaired datasets must carry no zero-filled holes.
//
// Usage:
//
//	go run ./cmd/validate -dir data/agg_to_target
//
// Region, seasons, datasets and tolerances come from the ETL environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/precip-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/precip-grid-etl/internal/config"
	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
)

// gridTolerance bounds the difference between product and target cell
// centers, in degrees.
const gridTolerance = 1e-6

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// expectation is one product the run should have written.
type expectation struct {
	name   domain.ProductName
	repair bool
}

// product is a loaded product file.
type product struct {
	expectation
	field *domain.Field
}

// checks carries the run settings every phase compares against.
type checks struct {
	target    domain.ProductName
	reference domain.ProductName
	variable  string
	tolerance float64
}

func main() {
	dir := flag.String("dir", "", "aggregated product directory; defaults to AGGREGATED_DIR")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if *dir == "" {
		*dir = cfg.AggregatedDir
	}

	if code := run(context.Background(), cfg, *dir); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg *config.Config, dir string) int {
	fmt.Println("=== Precipitation Product Validation ===")
	fmt.Println()

	expected, err := expectations(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read %s: %v\n", dir, err)
		return 1
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	inventory := validateInventory(expected, names)

	store := netcdf.NewStore()
	var products []product
	for _, exp := range expected {
		path := filepath.Join(dir, exp.name.String())
		f, err := store.ReadField(ctx, path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				inventory.errorf("%s: %v", exp.name, err)
			}
			continue
		}
		products = append(products, product{expectation: exp, field: f})
	}

	c := checks{variable: cfg.Variable, tolerance: cfg.ZeroTolerance}
	for _, exp := range expected {
		if exp.name.Dataset == cfg.TargetDataset && c.target.Dataset == "" {
			c.target = exp.name
		}
		if exp.name.Dataset == cfg.ReferenceDataset && c.reference.Dataset == "" {
			c.reference = exp.name
		}
	}

	phases := []*phase{
		inventory,
		validateGrid(products, c),
		validateMetadata(products, c),
		validateMasks(products),
		validateRepair(products, c),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Products: %d expected, %d loaded, %d files in %s\n", len(expected), len(products), len(names), dir)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// expectations lists the product each configured dataset and season should
// have left in the aggregated directory.
func expectations(cfg *config.Config) ([]expectation, error) {
	seasons, err := cfg.SeasonDefinitions()
	if err != nil {
		return nil, err
	}
	var out []expectation
	for _, name := range cfg.Datasets() {
		a, err := source.New(name, source.Settings{Version: cfg.DatasetVersions[name], Variable: cfg.Variable})
		if err != nil {
			return nil, err
		}
		for _, s := range seasons {
			out = append(out, expectation{
				name: domain.ProductName{
					Dataset:  a.Dataset(),
					Version:  a.Version(),
					Variable: a.Variable().Name,
					Region:   cfg.RegionName,
					Season:   s.Token,
					Kind:     a.MeanKind(),
				},
				repair: a.NeedsMaskRepair(),
			})
		}
	}
	return out, nil
}

// ── Phase 1: Inventory ──
// Every expected product exists, and every file in the directory is a
// product name that parses back to itself.

func validateInventory(expected []expectation, files []string) *phase {
	p := &phase{name: "Phase 1: Product Inventory"}

	want := make(map[string]bool, len(expected))
	for _, e := range expected {
		want[e.name.String()] = true
	}
	for _, e := range expected {
		if !slices.Contains(files, e.name.String()) {
			p.errorf("missing product %s", e.name)
		}
	}
	for _, name := range files {
		parsed, err := domain.ParseProductName(name)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if parsed.String() != name {
			p.errorf("%s: name does not round-trip (got %s)", name, parsed)
		}
		if !want[name] {
			p.errorf("%s: not produced by the configured datasets and seasons", name)
		}
	}
	return p
}

// ── Phase 2: Grid ──
// Every product shares the target mean's cell centers, bounds and CRS.

func validateGrid(products []product, c checks) *phase {
	p := &phase{name: "Phase 2: Target Grid Alignment"}

	target := findProduct(products, c.target)
	if target == nil {
		p.errorf("target product %s not loaded", c.target)
		return p
	}
	for _, pr := range products {
		f := pr.field
		if !f.Lat.Equal(target.Lat, gridTolerance) {
			p.errorf("%s: latitude axis differs from target (%d vs %d cells)", pr.name, f.Lat.Len(), target.Lat.Len())
		}
		if !f.Lon.Equal(target.Lon, gridTolerance) {
			p.errorf("%s: longitude axis differs from target (%d vs %d cells)", pr.name, f.Lon.Len(), target.Lon.Len())
		}
		if !f.Lat.HasBounds() || !f.Lon.HasBounds() {
			p.errorf("%s: missing cell bounds", pr.name)
		}
		if f.CRS != target.CRS {
			p.errorf("%s: CRS %q, target has %q", pr.name, f.CRS, target.CRS)
		}
		if len(f.Time) != 1 {
			p.errorf("%s: %d time steps, want a single collapsed mean", pr.name, len(f.Time))
		}
	}
	return p
}

// ── Phase 3: Metadata ──

func validateMetadata(products []product, c checks) *phase {
	p := &phase{name: "Phase 3: Variable Metadata"}
	for _, pr := range products {
		f := pr.field
		if f.Variable != c.variable {
			p.errorf("%s: variable %q, want %q", pr.name, f.Variable, c.variable)
		}
		if f.StandardName != domain.StandardName {
			p.errorf("%s: standard_name %q, want %q", pr.name, f.StandardName, domain.StandardName)
		}
		if f.Units != domain.DailyUnits {
			p.errorf("%s: units %q, want %q", pr.name, f.Units, domain.DailyUnits)
		}
	}
	return p
}

// ── Phase 4: Masks ──
// Masked cells hold the fill value; valid cells hold finite, non-negative
// precipitation distinct from it.

func validateMasks(products []product) *phase {
	p := &phase{name: "Phase 4: Mask / Fill Consistency"}
	for _, pr := range products {
		f := pr.field
		if err := f.Validate(); err != nil {
			p.errorf("%s: %v", pr.name, err)
			continue
		}
		var badFill, badValue int
		for k, v := range f.Values.Elements {
			if f.Mask[k] {
				if v != f.FillValue {
					badFill++
				}
				continue
			}
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v == f.FillValue {
				badValue++
			}
		}
		if badFill > 0 {
			p.errorf("%s: %d masked cells do not hold fill value %g", pr.name, badFill, f.FillValue)
		}
		if badValue > 0 {
			p.errorf("%s: %d valid cells are negative, non-finite or equal to the fill value", pr.name, badValue)
		}
		if f.MaskedCount() == len(f.Mask) {
			p.errorf("%s: every cell is masked", pr.name)
		}
	}
	return p
}

// ── Phase 5: Mask repair ──
// Repaired products follow the reference fill convention and keep no cell
// that a zero-filled regrid could have produced.

func validateRepair(products []product, c checks) *phase {
	p := &phase{name: "Phase 5: Mask Repair"}

	ref := findProduct(products, c.reference)
	for _, pr := range products {
		if !pr.repair {
			continue
		}
		f := pr.field
		if ref == nil {
			p.errorf("%s: reference product %s not loaded", pr.name, c.reference)
		} else if f.FillValue != ref.FillValue {
			p.errorf("%s: fill value %g, reference %s uses %g", pr.name, f.FillValue, c.reference.Dataset, ref.FillValue)
		}
		zeros := 0
		for k, v := range f.Values.Elements {
			if !f.Mask[k] && math.Abs(v) <= c.tolerance {
				zeros++
			}
		}
		if zeros > 0 {
			p.errorf("%s: %d unmasked cells within %g of zero", pr.name, zeros, c.tolerance)
		}
	}
	return p
}

func findProduct(products []product, name domain.ProductName) *domain.Field {
	for _, pr := range products {
		if pr.name == name {
			return pr.field
		}
	}
	return nil
}
