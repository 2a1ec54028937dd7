package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/observability"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
)

// ErrUpstreamFailed marks a regrid unit whose inputs were never produced.
var ErrUpstreamFailed = errors.New("upstream unit failed")

// FieldStore reads and writes persisted products.
type FieldStore interface {
	ReadField(ctx context.Context, path string) (*domain.Field, error)
	WriteField(ctx context.Context, path string, f *domain.Field) error
}

// Notifier publishes the outcome of each unit.
type Notifier interface {
	Notify(ctx context.Context, result domain.UnitResult) error
}

// Options is the read-only configuration of one run.
type Options struct {
	ScratchDir    string
	AggregatedDir string

	Region    domain.Region
	YearStart int
	YearEnd   int
	Seasons   []domain.SeasonDefinition

	// TargetDataset supplies the common grid every other dataset is
	// regridded onto.
	TargetDataset string
	// ReferenceDataset supplies the fill value used to repair zero-filled masks.
	ReferenceDataset string

	MDTol         float64
	ZeroTolerance float64
	// SubsetMargin pads the region before aggregation. Zero derives it from
	// the target grid.
	SubsetMargin float64
	Workers      int
}

// unit is one dataset x season combination.
type unit struct {
	src    source.Adapter
	season domain.SeasonDefinition
}

func (u unit) key() string { return u.src.Dataset() + "/" + u.season.Token }

// Pipeline runs the two-phase aggregate and regrid batch.
type Pipeline struct {
	sources  []source.Adapter
	byName   map[string]source.Adapter
	store    FieldStore
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	mu   sync.Mutex
	last *domain.RunSummary
}

// New creates a Pipeline over the given sources. A nil notifier disables
// result publishing.
func New(sources []source.Adapter, store FieldStore, notifier Notifier, opts Options, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	byName := make(map[string]source.Adapter, len(sources))
	for _, s := range sources {
		byName[s.Dataset()] = s
	}
	if _, ok := byName[opts.TargetDataset]; !ok {
		return nil, fmt.Errorf("target dataset %q has no source", opts.TargetDataset)
	}
	if _, ok := byName[opts.ReferenceDataset]; !ok {
		return nil, fmt.Errorf("reference dataset %q has no source", opts.ReferenceDataset)
	}
	if len(opts.Seasons) == 0 {
		return nil, errors.New("no seasons configured")
	}
	if err := opts.Region.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		sources:  sources,
		byName:   byName,
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// CheckReadiness returns nil once the pipeline has completed at least one
// unit, or an error describing why it is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any units yet")
	}
	return nil
}

// LastSummary returns the summary of the most recent finished run.
func (p *Pipeline) LastSummary() (domain.RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.RunSummary{}, false
	}
	return *p.last, true
}

// Run aggregates every dataset x season unit into the scratch directory,
// then regrids each mean onto the target grid in the aggregated directory.
// Unit failures are recorded in the summary; the returned error is non-nil
// only when the run itself could not proceed or was cancelled.
func (p *Pipeline) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{StartedAt: domain.Now()}
	p.logger.Info("pipeline started",
		"datasets", len(p.sources),
		"seasons", len(p.opts.Seasons),
		"years", fmt.Sprintf("%d-%d", p.opts.YearStart, p.opts.YearEnd),
		"workers", p.opts.Workers,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for _, dir := range []string{p.opts.ScratchDir, p.opts.AggregatedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return summary, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	finish := func(err error) (domain.RunSummary, error) {
		summary.FinishedAt = domain.Now()
		p.mu.Lock()
		p.last = &summary
		p.mu.Unlock()
		p.logger.Info("pipeline finished",
			"units", len(summary.Units),
			"failed", summary.Failed(),
			"duration", summary.FinishedAt.Sub(summary.StartedAt),
		)
		return summary, err
	}

	// The target dataset goes first: its grid fixes the CRS and subset
	// margin for every other source.
	var targets, others []unit
	for _, s := range p.sources {
		for _, season := range p.opts.Seasons {
			u := unit{src: s, season: season}
			if s.Dataset() == p.opts.TargetDataset {
				targets = append(targets, u)
			} else {
				others = append(others, u)
			}
		}
	}

	aggregated := make(map[string]domain.UnitResult)
	collect := func(results []domain.UnitResult) {
		for _, r := range results {
			aggregated[r.Key()] = r
		}
		summary.Units = append(summary.Units, results...)
	}

	own := targetGrid{crs: domain.DefaultCRS, margin: p.margin(nil)}
	results, err := p.fanOut(ctx, targets, func(ctx context.Context, u unit) domain.UnitResult {
		return p.aggregateUnit(ctx, u, own)
	})
	collect(results)
	if err != nil {
		return finish(err)
	}

	grid := p.resolveGrid(ctx, targets, aggregated)
	results, err = p.fanOut(ctx, others, func(ctx context.Context, u unit) domain.UnitResult {
		return p.aggregateUnit(ctx, u, grid)
	})
	collect(results)
	if err != nil {
		return finish(err)
	}

	results, err = p.fanOut(ctx, slices.Concat(targets, others), func(ctx context.Context, u unit) domain.UnitResult {
		return p.regridUnit(ctx, u, aggregated)
	})
	summary.Units = append(summary.Units, results...)
	return finish(err)
}

// fanOut runs work for each unit on at most Options.Workers goroutines and
// returns the results in unit order. Units not started before cancellation
// are left out.
func (p *Pipeline) fanOut(ctx context.Context, units []unit, work func(context.Context, unit) domain.UnitResult) ([]domain.UnitResult, error) {
	results := make([]domain.UnitResult, len(units))
	started := make([]bool, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, u := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started[i] = true
			results[i] = work(gctx, u)
			p.record(gctx, results[i])
			return nil
		})
	}
	err := g.Wait()

	out := results[:0]
	for i := range results {
		if started[i] {
			out = append(out, results[i])
		}
	}
	return out, err
}

// targetGrid is what the target dataset's aggregate fixes for every other source.
type targetGrid struct {
	crs    string
	margin float64
}

// resolveGrid reads the first successful target mean. Without one, sources
// fall back to the default CRS and margin; their regrid units fail later.
func (p *Pipeline) resolveGrid(ctx context.Context, targets []unit, aggregated map[string]domain.UnitResult) targetGrid {
	for _, u := range targets {
		if aggregated[u.key()].Status != domain.StatusSucceeded {
			continue
		}
		path, err := p.productPath(p.opts.ScratchDir, u, u.src.MeanKind())
		if err != nil {
			continue
		}
		f, err := p.store.ReadField(ctx, path)
		if err != nil {
			p.logger.Warn("target grid unreadable", "path", path, "error", err)
			continue
		}
		return targetGrid{crs: f.CRS, margin: p.margin(f)}
	}
	p.logger.Warn("no target grid available, using defaults", "dataset", p.opts.TargetDataset)
	return targetGrid{crs: domain.DefaultCRS, margin: p.margin(nil)}
}

func (p *Pipeline) margin(target *domain.Field) float64 {
	if p.opts.SubsetMargin > 0 {
		return p.opts.SubsetMargin
	}
	return domain.MarginFor(target)
}

func (p *Pipeline) productPath(dir string, u unit, kind domain.ProductKind) (string, error) {
	name := domain.ProductName{
		Dataset:  u.src.Dataset(),
		Version:  u.src.Version(),
		Variable: u.src.Variable().Name,
		Region:   p.opts.Region.Name,
		Season:   u.season.Token,
		Kind:     kind,
	}
	if err := name.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(dir, name.String()), nil
}

func (p *Pipeline) newResult(u unit, stage domain.Stage) domain.UnitResult {
	return domain.UnitResult{
		Dataset:   u.src.Dataset(),
		Version:   u.src.Version(),
		Season:    u.season.Token,
		Stage:     stage,
		StartedAt: domain.Now(),
	}
}

func (p *Pipeline) write(ctx context.Context, path string, kind domain.ProductKind, f *domain.Field, res *domain.UnitResult) error {
	if err := p.store.WriteField(ctx, path, f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	p.metrics.ProductsWritten.WithLabelValues(string(kind)).Inc()
	res.Outputs = append(res.Outputs, path)
	return nil
}

func succeed(res domain.UnitResult) domain.UnitResult {
	res.Status = domain.StatusSucceeded
	res.FinishedAt = domain.Now()
	return res
}

func fail(res domain.UnitResult, err error) domain.UnitResult {
	res.Status = domain.StatusFailed
	res.Error = err.Error()
	res.FinishedAt = domain.Now()
	return res
}

// record logs a finished unit, updates metrics and publishes it.
func (p *Pipeline) record(ctx context.Context, res domain.UnitResult) {
	p.metrics.Units.WithLabelValues(string(res.Stage), string(res.Status)).Inc()
	p.metrics.UnitDuration.WithLabelValues(string(res.Stage)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	attrs := []any{
		"dataset", res.Dataset,
		"season", res.Season,
		"stage", res.Stage,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	}
	if res.Status == domain.StatusFailed {
		p.logger.Error("unit failed", append(attrs, "error", res.Error, "skipped_periods", res.SkippedPeriods())...)
	} else {
		p.ready.Store(true)
		p.logger.Info("unit completed", append(attrs, "outputs", len(res.Outputs), "skipped_periods", res.SkippedPeriods())...)
	}

	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, res); err != nil {
		p.metrics.NotifyFailures.Inc()
		p.logger.Warn("publish unit result failed", "dataset", res.Dataset, "season", res.Season, "error", err)
	}
}
