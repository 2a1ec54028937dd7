package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/observability"
	"github.com/couchcryptid/precip-grid-etl/internal/pipeline"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testRegion = domain.Region{Name: "test", LonMin: -4, LonMax: -2, LatMin: 38, LatMax: 40}

func newTestMetrics() *observability.Metrics {
	// Unregistered metrics avoid "already registered" panics across tests.
	return observability.NewMetricsForTesting()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T, seasons ...string) pipeline.Options {
	t.Helper()
	dir := t.TempDir()
	defs := make([]domain.SeasonDefinition, len(seasons))
	for k, s := range seasons {
		defs[k] = domain.MustParseSeason(s)
	}
	return pipeline.Options{
		ScratchDir:       filepath.Join(dir, "scratch"),
		AggregatedDir:    filepath.Join(dir, "agg"),
		Region:           testRegion,
		YearStart:        2001,
		YearEnd:          2002,
		Seasons:          defs,
		TargetDataset:    "DePreSys",
		ReferenceDataset: "chirps",
		MDTol:            1,
		Workers:          3,
	}
}

func newPipeline(t *testing.T, opts pipeline.Options, store pipeline.FieldStore, n pipeline.Notifier, metrics *observability.Metrics, sources ...source.Adapter) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(sources, store, n, opts, quietLogger(), metrics)
	require.NoError(t, err)
	return p
}

func unitByKey(summary domain.RunSummary, stage domain.Stage, dataset, season string) (domain.UnitResult, bool) {
	for _, u := range summary.Units {
		if u.Stage == stage && u.Dataset == dataset && u.Season == season {
			return u, true
		}
	}
	return domain.UnitResult{}, false
}

func TestPipeline_Run_HappyPath(t *testing.T) {
	opts := testOptions(t, "annual", "amj")
	store := newMemStore()
	notifier := &recordingNotifier{}
	p := newPipeline(t, opts, store, notifier, newTestMetrics(), newTarget(), newReference(), newRepaired())

	require.Error(t, p.CheckReadiness(context.Background()))

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Failed())
	assert.Len(t, summary.Units, 12, "3 datasets x 2 seasons x 2 stages")
	assert.Len(t, notifier.results, 12)
	assert.NoError(t, p.CheckReadiness(context.Background()))

	last, ok := p.LastSummary()
	require.True(t, ok)
	assert.Len(t, last.Units, 12)

	for _, name := range []string{
		"DePreSys_v3_pr_test_annual_series.nc",
		"DePreSys3_pr_test_annual_ensmean.nc",
		"chirps_v2.0_pr_test_amj_series.nc",
		"chirps_v2.0_pr_test_amj_mean.nc",
		"iberia01_v1.0_pr_test_annual_mean.nc",
	} {
		_, ok := store.get(filepath.Join(opts.ScratchDir, name))
		assert.True(t, ok, "scratch %s", name)
	}

	series, _ := store.get(filepath.Join(opts.ScratchDir, "chirps_v2.0_pr_test_annual_series.nc"))
	require.NotNil(t, series)
	assert.Len(t, series.Time, 2)
	assert.Equal(t, []int{2001, 2002}, []int{series.Time[0].Year, series.Time[1].Year})
	assert.Empty(t, series.Attributes, "normalization strips free-text attributes")

	// The target mean is copied through unchanged.
	ens, ok := store.get(filepath.Join(opts.AggregatedDir, "DePreSys3_pr_test_amj_ensmean.nc"))
	require.True(t, ok)
	v, masked := ens.At(0, 0, 0)
	assert.False(t, masked)
	assert.InDelta(t, 2*91, v, 1e-9)

	regridded, ok := store.get(filepath.Join(opts.AggregatedDir, "chirps_v2.0_pr_test_annual_mean.nc"))
	require.True(t, ok)
	assert.Equal(t, ens.Lat.Points, regridded.Lat.Points)
	assert.Equal(t, ens.Lon.Points, regridded.Lon.Points)
	assert.Equal(t, domain.DefaultCRS, regridded.CRS, "chirps inherits the target CRS")
	for k, v := range regridded.Values.Elements {
		assert.False(t, regridded.Mask[k])
		assert.InDelta(t, 365, v, 1e-6)
	}
}

func TestPipeline_Run_RepairsZeroFilledMask(t *testing.T) {
	opts := testOptions(t, "annual")
	store := newMemStore()
	metrics := newTestMetrics()
	p := newPipeline(t, opts, store, nil, metrics, newTarget(), newReference(), newRepaired())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Failed())

	u, ok := unitByKey(summary, domain.StageRegrid, "iberia01", "annual")
	require.True(t, ok)
	assert.Equal(t, 2, u.Reclassed)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CellsReconciled.WithLabelValues("iberia01")))

	out, ok := store.get(filepath.Join(opts.AggregatedDir, "iberia01_v1.0_pr_test_annual_mean.nc"))
	require.True(t, ok)
	assert.Equal(t, fill, out.FillValue)
	for j := 0; j < 2; j++ {
		v, masked := out.At(0, j, 0)
		assert.True(t, masked, "western column is sea")
		assert.Equal(t, fill, v)

		v, masked = out.At(0, j, 1)
		assert.False(t, masked)
		assert.InDelta(t, 365, v, 1e-6)
	}
}

func TestPipeline_Run_SkipsFailedPeriods(t *testing.T) {
	opts := testOptions(t, "annual")
	store := newMemStore()
	metrics := newTestMetrics()
	ref := newReference()
	ref.failYears = map[int]error{2001: errors.New("corrupt file")}
	p := newPipeline(t, opts, store, nil, metrics, newTarget(), ref)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed())

	u, ok := unitByKey(summary, domain.StageAggregate, "chirps", "annual")
	require.True(t, ok)
	want := []domain.PeriodResult{
		{Period: domain.PeriodRef{Year: 2001, Paths: []string{"chirps/2001.nc"}}, Skipped: true, Reason: pipeline.SkipRead},
		{Period: domain.PeriodRef{Year: 2002, Paths: []string{"chirps/2002.nc"}}},
	}
	if diff := cmp.Diff(want, u.Periods); diff != "" {
		t.Fatalf("period results mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]int{pipeline.SkipRead: 1}, summary.SkipReasons())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PeriodsSkipped.WithLabelValues("chirps", pipeline.SkipRead)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PeriodsLoaded.WithLabelValues("chirps")))

	series, _ := store.get(filepath.Join(opts.ScratchDir, "chirps_v2.0_pr_test_annual_series.nc"))
	require.NotNil(t, series)
	assert.Len(t, series.Time, 1)
}

func TestPipeline_Run_UnitFailureIsolated(t *testing.T) {
	opts := testOptions(t, "annual")
	ref := newReference()
	ref.failYears = map[int]error{2001: errors.New("gone"), 2002: errors.New("gone")}
	repaired := newRepaired()
	p := newPipeline(t, opts, newMemStore(), nil, newTestMetrics(), newTarget(), ref, repaired)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	agg, _ := unitByKey(summary, domain.StageAggregate, "chirps", "annual")
	assert.Equal(t, domain.StatusFailed, agg.Status)
	assert.Contains(t, agg.Error, domain.ErrNoPeriods.Error())

	// Without a reference mean the repair cannot run.
	rg, _ := unitByKey(summary, domain.StageRegrid, "iberia01", "annual")
	assert.Equal(t, domain.StatusFailed, rg.Status)
	assert.Contains(t, rg.Error, pipeline.ErrUpstreamFailed.Error())

	// Units that do not depend on the reference still succeed.
	ok, _ := unitByKey(summary, domain.StageAggregate, "iberia01", "annual")
	assert.Equal(t, domain.StatusSucceeded, ok.Status)
	target, _ := unitByKey(summary, domain.StageRegrid, "DePreSys", "annual")
	assert.Equal(t, domain.StatusSucceeded, target.Status)
	assert.Equal(t, 3, summary.Failed())
}

func TestPipeline_Run_EmptyIntersectionFailsUnit(t *testing.T) {
	opts := testOptions(t, "annual")
	far := newReference()
	far.lon = axis(100, 0.5, 4)
	p := newPipeline(t, opts, newMemStore(), nil, newTestMetrics(), newTarget(), far)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	u, _ := unitByKey(summary, domain.StageAggregate, "chirps", "annual")
	assert.Equal(t, domain.StatusFailed, u.Status)
	assert.Contains(t, u.Error, domain.ErrEmptyIntersection.Error())
	assert.Empty(t, u.Periods, "a configuration error is not a skipped period")
}

func TestPipeline_Run_WrappedSeasonJoinsYears(t *testing.T) {
	opts := testOptions(t, "djf")
	store := newMemStore()
	p := newPipeline(t, opts, store, nil, newTestMetrics(), newTarget(), newReference())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Failed())

	series, _ := store.get(filepath.Join(opts.ScratchDir, "chirps_v2.0_pr_test_djf_series.nc"))
	require.NotNil(t, series)
	// Jan-Feb 2001 (2001), Dec 2001 + Jan-Feb 2002 (2002), Dec 2002 (2003).
	require.Len(t, series.Time, 3)
	assert.Equal(t, 2002, series.Time[1].Year)
	v, _ := series.At(1, 0, 0)
	assert.InDelta(t, 31+31+28, v, 1e-9)
}

func TestPipeline_Run_NotifierFailureIsCounted(t *testing.T) {
	opts := testOptions(t, "annual")
	metrics := newTestMetrics()
	notifier := &recordingNotifier{err: errors.New("broker down")}
	p := newPipeline(t, opts, newMemStore(), notifier, metrics, newTarget(), newReference())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failed())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.NotifyFailures))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	opts := testOptions(t, "annual")
	p := newPipeline(t, opts, newMemStore(), nil, newTestMetrics(), newTarget(), newReference())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Units)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_UsesDomainClock(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() {
		domain.SetClock(nil)
	})

	opts := testOptions(t, "annual")
	p := newPipeline(t, opts, newMemStore(), nil, newTestMetrics(), newTarget(), newReference())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakeClock.Now(), summary.StartedAt)
	assert.Equal(t, fakeClock.Now(), summary.FinishedAt)
	for _, u := range summary.Units {
		assert.Equal(t, fakeClock.Now(), u.StartedAt)
	}
}

func TestNew_Validation(t *testing.T) {
	opts := testOptions(t, "annual")

	_, err := pipeline.New([]source.Adapter{newReference()}, newMemStore(), nil, opts, quietLogger(), newTestMetrics())
	assert.ErrorContains(t, err, "target dataset")

	_, err = pipeline.New([]source.Adapter{newTarget()}, newMemStore(), nil, opts, quietLogger(), newTestMetrics())
	assert.ErrorContains(t, err, "reference dataset")

	noSeasons := opts
	noSeasons.Seasons = nil
	_, err = pipeline.New([]source.Adapter{newTarget(), newReference()}, newMemStore(), nil, noSeasons, quietLogger(), newTestMetrics())
	assert.Error(t, err)

	inverted := opts
	inverted.Region.LonMin = 10
	_, err = pipeline.New([]source.Adapter{newTarget(), newReference()}, newMemStore(), nil, inverted, quietLogger(), newTestMetrics())
	assert.Error(t, err)
}
