package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
	"github.com/couchcryptid/precip-grid-etl/internal/regrid"
)

// regridUnit puts one unit's time mean onto the target grid and writes it
// to the aggregated directory. The target dataset's own mean is copied
// through unchanged; datasets that need mask repair are regridded with
// masked cells as zeros and reconciled against the reference mean.
func (p *Pipeline) regridUnit(ctx context.Context, u unit, aggregated map[string]domain.UnitResult) domain.UnitResult {
	res := p.newResult(u, domain.StageRegrid)
	logger := p.logger.With("dataset", u.src.Dataset(), "season", u.season.Token)

	target := unit{src: p.byName[p.opts.TargetDataset], season: u.season}
	if err := upstream(aggregated, u, target); err != nil {
		return fail(res, err)
	}

	kind := u.src.MeanKind()
	meanPath, err := p.productPath(p.opts.ScratchDir, u, kind)
	if err != nil {
		return fail(res, err)
	}
	outPath, err := p.productPath(p.opts.AggregatedDir, u, kind)
	if err != nil {
		return fail(res, err)
	}
	mean, err := p.store.ReadField(ctx, meanPath)
	if err != nil {
		return fail(res, fmt.Errorf("read mean: %w", err))
	}

	if u.src.Dataset() == p.opts.TargetDataset {
		if err := p.write(ctx, outPath, kind, mean, &res); err != nil {
			return fail(res, err)
		}
		return succeed(res)
	}

	targetPath, err := p.productPath(p.opts.ScratchDir, target, target.src.MeanKind())
	if err != nil {
		return fail(res, err)
	}
	grid, err := p.store.ReadField(ctx, targetPath)
	if err != nil {
		return fail(res, fmt.Errorf("read target grid: %w", err))
	}

	repair := u.src.NeedsMaskRepair()
	rg, err := regrid.New(p.opts.MDTol, repair)
	if err != nil {
		return fail(res, err)
	}
	start := domain.Now()
	out, err := rg.Regrid(mean, grid)
	p.metrics.RegridDuration.Observe(domain.Now().Sub(start).Seconds())
	if err != nil {
		return fail(res, fmt.Errorf("regrid: %w", err))
	}

	if repair {
		out, err = p.reconcile(ctx, u, out, aggregated, &res, logger)
		if err != nil {
			return fail(res, err)
		}
	}

	if err := p.write(ctx, outPath, kind, out, &res); err != nil {
		return fail(res, err)
	}
	return succeed(res)
}

// reconcile restores the mask of a zero-filled regrid using the reference
// dataset's fill value.
func (p *Pipeline) reconcile(ctx context.Context, u unit, f *domain.Field, aggregated map[string]domain.UnitResult, res *domain.UnitResult, logger *slog.Logger) (*domain.Field, error) {
	ref := unit{src: p.byName[p.opts.ReferenceDataset], season: u.season}
	if err := upstream(aggregated, ref); err != nil {
		return nil, err
	}
	refPath, err := p.productPath(p.opts.ScratchDir, ref, ref.src.MeanKind())
	if err != nil {
		return nil, err
	}
	refMean, err := p.store.ReadField(ctx, refPath)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}

	out, stats, err := domain.Reconcile(f, domain.ReconcileReference{
		Dataset:   ref.src.Dataset(),
		FillValue: refMean.FillValue,
		Tolerance: p.opts.ZeroTolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	res.Reclassed = stats.Reclassed
	p.metrics.CellsReconciled.WithLabelValues(u.src.Dataset()).Add(float64(stats.Reclassed))
	logger.Info("mask reconciled",
		"reference", ref.src.Dataset(),
		"reclassified", stats.Reclassed,
		"was_masked", stats.WasMasked,
		"now_masked", stats.NowMasked,
		"cells", stats.Cells,
	)
	return out, nil
}

// upstream fails when any of the units did not aggregate successfully.
func upstream(aggregated map[string]domain.UnitResult, units ...unit) error {
	for _, u := range units {
		if r, ok := aggregated[u.key()]; !ok || r.Status != domain.StatusSucceeded {
			return fmt.Errorf("%w: %s aggregate", ErrUpstreamFailed, u.key())
		}
	}
	return nil
}
