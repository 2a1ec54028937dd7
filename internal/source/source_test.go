package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// fakeReader serves two days per year for 2000-2002, valued by path.
type fakeReader struct {
	values map[string]float64
	reads  []string
}

func (f *fakeReader) ReadRaw(_ context.Context, path, variable string) (domain.RawField, error) {
	f.reads = append(f.reads, path+"|"+variable)
	v, ok := f.values[path]
	if !ok {
		return domain.RawField{}, os.ErrNotExist
	}
	var days []time.Time
	for y := 2000; y <= 2002; y++ {
		days = append(days, time.Date(y, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(y, 5, 2, 0, 0, 0, 0, time.UTC))
	}
	values := sparse.ZerosDense(len(days), 1, 1)
	for k := range values.Elements {
		values.Elements[k] = v
	}
	return domain.RawField{
		Variable: variable,
		Days:     days,
		Lat:      domain.Axis{Points: []float64{40}},
		Lon:      domain.Axis{Points: []float64{-3}},
		Values:   values,
	}, nil
}

func TestNewKnownDatasets(t *testing.T) {
	assert.Equal(t, []string{"DePreSys", "chirps", "eobs", "iberia01"}, Known())

	_, err := New("gpcc", Settings{})
	assert.ErrorIs(t, err, ErrUnknownDataset)

	tests := []struct {
		name   string
		native string
		repair bool
		kind   domain.ProductKind
	}{
		{"chirps", "precip", false, domain.KindMean},
		{"eobs", "rr", false, domain.KindMean},
		{"iberia01", "pr", true, domain.KindMean},
		{"DePreSys", "precipitation_flux", false, domain.KindEnsembleMean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.name, Settings{Version: "1"})
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.Dataset())
			assert.Equal(t, "1", a.Version())
			assert.Equal(t, "pr", a.Variable().Name)
			assert.Equal(t, tt.native, a.Variable().NativeName)
			assert.Equal(t, tt.repair, a.NeedsMaskRepair())
			assert.Equal(t, tt.kind, a.MeanKind())
		})
	}
}

func TestCHIRPSPeriodsStopAtLastCompleteYear(t *testing.T) {
	a := NewCHIRPS(Settings{Dir: "/data", Version: "2.0"})

	refs := a.Periods(2013, 2017)

	require.Len(t, refs, 3)
	assert.Equal(t, 2013, refs[0].Year)
	assert.Equal(t, 2015, refs[2].Year)
	assert.Equal(t, []string{"/data/chirps/chirps-v2.0.2013.days_p25.nc"}, refs[0].Paths)
}

func TestSingleFileLoadSelectsYear(t *testing.T) {
	reader := &fakeReader{values: map[string]float64{"/data/eobs/rr_ens_mean_0.25deg_reg_v21.0e.nc": 3}}
	a := NewEOBS(Settings{Dir: "/data", Version: "21", Reader: reader})

	refs := a.Periods(2001, 2003)
	require.Len(t, refs, 3)

	raw, err := a.Load(context.Background(), refs[0])
	require.NoError(t, err)
	require.Len(t, raw.Days, 2)
	assert.Equal(t, 2001, raw.Days[0].Year())
	assert.Equal(t, []float64{3, 3}, raw.Values.Elements)
	assert.Equal(t, "/data/eobs/rr_ens_mean_0.25deg_reg_v21.0e.nc|rr", reader.reads[0])

	_, err = a.Load(context.Background(), refs[2])
	assert.ErrorIs(t, err, ErrNoData, "2003 is outside the file")
}

func TestLoadMissingFile(t *testing.T) {
	a := NewCHIRPS(Settings{Dir: "/data", Version: "2.0", Reader: &fakeReader{}})

	_, err := a.Load(context.Background(), a.Periods(2001, 2001)[0])
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDePreSysAveragesMembers(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, m := range []string{"r1", "r2", "r3"} {
		p := filepath.Join(dir, "depresys3", "2001", "pr_day_"+m+".nc")
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		paths = append(paths, p)
	}
	reader := &fakeReader{values: map[string]float64{paths[0]: 1, paths[1]: 2, paths[2]: 6}}
	a := NewDePreSys(Settings{Dir: dir, Version: "3", Reader: reader})

	refs := a.Periods(2001, 2002)
	require.Len(t, refs, 2)
	assert.Equal(t, paths, refs[0].Paths)
	assert.Empty(t, refs[1].Paths)

	raw, err := a.Load(context.Background(), refs[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3}, raw.Values.Elements)
	assert.Equal(t, []bool{false, false}, raw.Mask)

	_, err = a.Load(context.Background(), refs[1])
	assert.ErrorIs(t, err, ErrNoData)
}

func TestTemplateOverride(t *testing.T) {
	a := NewIberia01(Settings{Dir: "/in", Version: "1.0", Template: "Iberia01_{year}.nc"})
	assert.Equal(t, []string{"/in/Iberia01_1999.nc"}, a.Periods(1999, 1999)[0].Paths)
}
