package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

var (
	targetName = domain.ProductName{Dataset: "DePreSys", Version: "3", Variable: "pr", Region: "test", Season: "annual", Kind: domain.KindEnsembleMean}
	refName    = domain.ProductName{Dataset: "chirps", Version: "2.0", Variable: "pr", Region: "test", Season: "annual", Kind: domain.KindMean}
	repairName = domain.ProductName{Dataset: "iberia01", Version: "1.0", Variable: "pr", Region: "test", Season: "annual", Kind: domain.KindMean}
)

func meanField(value, fill float64) *domain.Field {
	lat := domain.Axis{Points: []float64{38.5, 39.5}, Bounds: [][2]float64{{38, 39}, {39, 40}}}
	lon := domain.Axis{Points: []float64{-3.5, -2.5}, Bounds: [][2]float64{{-4, -3}, {-3, -2}}}
	period := domain.Period{
		Start:  time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC),
		Year:   2001,
		Season: "annual",
	}
	f := domain.NewField([]domain.Period{period}, lat, lon)
	f.Variable = "pr"
	f.StandardName = domain.StandardName
	f.Units = domain.DailyUnits
	f.FillValue = fill
	f.CRS = domain.DefaultCRS
	for j := range 2 {
		for i := range 2 {
			f.Set(0, j, i, value)
		}
	}
	return f
}

func testChecks() checks {
	return checks{target: targetName, reference: refName, variable: "pr"}
}

func TestValidateInventory(t *testing.T) {
	expected := []expectation{{name: targetName}, {name: refName}}

	p := validateInventory(expected, []string{targetName.String(), refName.String()})
	assert.True(t, p.passed(), p.errors)

	p = validateInventory(expected, []string{targetName.String(), "chirps_v2.0_pr_test_annual_series.nc", "notes.txt"})
	require.Len(t, p.errors, 3)
	assert.Contains(t, p.errors[0], "missing product")
}

func TestValidateGrid(t *testing.T) {
	shifted := meanField(1, -9999)
	shifted.Lon.Points[1] = -2.4

	products := []product{
		{expectation: expectation{name: targetName}, field: meanField(2, 1e20)},
		{expectation: expectation{name: refName}, field: shifted},
	}
	p := validateGrid(products, testChecks())
	require.Len(t, p.errors, 1)
	assert.Contains(t, p.errors[0], "longitude")
}

func TestValidateGridMissingTarget(t *testing.T) {
	p := validateGrid(nil, testChecks())
	assert.False(t, p.passed())
}

func TestValidateMetadata(t *testing.T) {
	f := meanField(1, -9999)
	f.Units = "mm"
	p := validateMetadata([]product{{expectation: expectation{name: refName}, field: f}}, testChecks())
	require.Len(t, p.errors, 1)
	assert.Contains(t, p.errors[0], "units")
}

func TestValidateMasks(t *testing.T) {
	good := meanField(1, -9999)
	good.SetMasked(0, 0, 0)

	bad := meanField(1, -9999)
	bad.Mask[0] = true
	bad.Values.Elements[0] = 0
	bad.Values.Elements[1] = -1

	p := validateMasks([]product{
		{expectation: expectation{name: refName}, field: good},
		{expectation: expectation{name: repairName}, field: bad},
	})
	require.Len(t, p.errors, 2, p.errors)
	assert.Contains(t, p.errors[0], "fill value")
	assert.Contains(t, p.errors[1], "negative")
}

func TestValidateRepair(t *testing.T) {
	ref := meanField(1, -9999)

	repaired := meanField(1, -9999)
	repaired.SetMasked(0, 0, 0)

	leaky := meanField(1, 1e20)
	leaky.Set(0, 1, 1, 0)

	products := []product{
		{expectation: expectation{name: refName}, field: ref},
		{expectation: expectation{name: repairName, repair: true}, field: repaired},
	}
	p := validateRepair(products, testChecks())
	assert.True(t, p.passed(), p.errors)

	products[1].field = leaky
	p = validateRepair(products, testChecks())
	require.Len(t, p.errors, 2)
	assert.Contains(t, p.errors[0], "fill value")
	assert.Contains(t, p.errors[1], "1 unmasked cells")
}
