package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
)

// Skip reasons reported in PeriodResult.Reason.
const (
	SkipRead      = "read"
	SkipNoData    = "no_data"
	SkipNormalize = "normalize"
	SkipAggregate = "aggregate"
	SkipEmpty     = "empty"
)

// aggregateUnit builds the period series of one dataset x season unit and
// its time mean, and writes both to the scratch directory.
func (p *Pipeline) aggregateUnit(ctx context.Context, u unit, grid targetGrid) domain.UnitResult {
	res := p.newResult(u, domain.StageAggregate)
	logger := p.logger.With("dataset", u.src.Dataset(), "season", u.season.Token)

	series, periods, err := p.buildSeries(ctx, u, grid, logger)
	res.Periods = periods
	if err != nil {
		return fail(res, err)
	}

	seriesPath, err := p.productPath(p.opts.ScratchDir, u, domain.KindSeries)
	if err != nil {
		return fail(res, err)
	}
	if err := p.write(ctx, seriesPath, domain.KindSeries, series, &res); err != nil {
		return fail(res, err)
	}

	mean, err := domain.Mean(series)
	if err != nil {
		return fail(res, fmt.Errorf("mean: %w", err))
	}
	meanPath, err := p.productPath(p.opts.ScratchDir, u, u.src.MeanKind())
	if err != nil {
		return fail(res, err)
	}
	if err := p.write(ctx, meanPath, u.src.MeanKind(), mean, &res); err != nil {
		return fail(res, err)
	}
	logger.Debug("series aggregated", "periods", len(series.Time), "masked_cells", mean.MaskedCount())
	return succeed(res)
}

// buildSeries reads every period of the unit in year order, skipping the
// ones that fail, and joins the per-period totals into one series.
func (p *Pipeline) buildSeries(ctx context.Context, u unit, grid targetGrid, logger *slog.Logger) (*domain.Field, []domain.PeriodResult, error) {
	refs := u.src.Periods(p.opts.YearStart, p.opts.YearEnd)
	if len(refs) == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no files for %d-%d", domain.ErrNoPeriods, u.src.Dataset(), p.opts.YearStart, p.opts.YearEnd)
	}

	var parts []*domain.Field
	results := make([]domain.PeriodResult, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}
		part, reason, err := p.loadPeriod(ctx, u, ref, grid)
		if err != nil && reason == "" {
			return nil, results, fmt.Errorf("period %s: %w", ref, err)
		}
		if err != nil {
			logger.Warn("period skipped", "period", ref.String(), "reason", reason, "error", err)
			p.metrics.PeriodsSkipped.WithLabelValues(u.src.Dataset(), reason).Inc()
			results = append(results, domain.PeriodResult{Period: ref, Skipped: true, Reason: reason})
			continue
		}
		p.metrics.PeriodsLoaded.WithLabelValues(u.src.Dataset()).Inc()
		results = append(results, domain.PeriodResult{Period: ref})
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, results, fmt.Errorf("%w: all %d period reads skipped", domain.ErrNoPeriods, len(refs))
	}

	series, err := domain.Concatenate(parts...)
	if err != nil {
		return nil, results, fmt.Errorf("concatenate: %w", err)
	}
	series, err = domain.JoinSplitSeasons(series)
	if err != nil {
		return nil, results, fmt.Errorf("join seasons: %w", err)
	}
	series, err = domain.EnsureBounds(series)
	if err != nil {
		return nil, results, err
	}
	return series, results, nil
}

// loadPeriod turns one period read into its aggregated totals. A non-empty
// reason marks an error that skips the period; an empty reason with an
// error is a configuration problem that fails the whole unit.
func (p *Pipeline) loadPeriod(ctx context.Context, u unit, ref domain.PeriodRef, grid targetGrid) (*domain.Field, string, error) {
	raw, err := u.src.Load(ctx, ref)
	if errors.Is(err, source.ErrNoData) {
		return nil, SkipNoData, err
	}
	if err != nil {
		return nil, SkipRead, err
	}

	raw, err = domain.SubsetRaw(raw, p.opts.Region, grid.margin)
	if errors.Is(err, domain.ErrEmptyIntersection) {
		return nil, "", err
	}
	if err != nil {
		return nil, SkipRead, err
	}

	daily, err := domain.Normalize(raw, u.src.Variable(), grid.crs)
	if errors.Is(err, domain.ErrMissingCRS) {
		return nil, "", err
	}
	if err != nil {
		return nil, SkipNormalize, err
	}

	totals, err := domain.Aggregate(daily, u.season)
	if err != nil {
		return nil, SkipAggregate, err
	}
	if len(totals.Time) == 0 {
		return nil, SkipEmpty, fmt.Errorf("no %s days in period %s", u.season.Token, ref)
	}
	return totals, "", nil
}
