// Package domain models daily gridded precipitation fields and the pure
// transforms that turn them into comparable seasonal products.
//
// # Data Sources
//
// Four sources feed the pipeline, each on its own grid and with its own
// missing-data convention:
//
//	chirps    CHIRPS gauge/satellite blend, 0.25 deg, one file per year,
//	          mm day-1, no coordinate system in the files. Complete through 2015.
//	eobs      E-OBS gridded observations, 0.25 deg, one file for the whole
//	          record, variable "rr" in mm day-1.
//	iberia01  Iberia01 regional analysis, 0.1 deg, mm day-1. Its masked sea
//	          and out-of-domain cells degrade to zeros during regridding and
//	          need reconciliation afterwards.
//	DePreSys  Decadal forecast ensemble. Its grid is the common target grid.
//	          Native units kg m-2 s-1, averaged over ensemble members.
//
// # Field Conventions
//
// A [Field] is indexed (time, latitude, longitude). Mask is aligned with the
// values and true marks a cell without a valid observation; masked cells
// always hold the field's FillValue. Normalized fields carry standard name
// "precipitation_amount" and units "kg m-2 day-1"; for period series the
// value is the total over the period.
//
// Coordinate bounds must exist before aggregation or regridding consumes a
// field. Missing bounds are guessed midpoint-symmetrically from cell centers
// (see [EnsureBounds]); irregular spacing is refused.
//
// # Seasons
//
// A season token is "annual" or consecutive month initials read cyclically
// from "jfmamjjasond", e.g. "amj" (April-June) or "djf". A token splits the
// year into the months before the window, the window, and the months after
// it; only the window is kept after aggregation.
//
// Season year rule: when the window crosses the Dec/Jan boundary, its
// December-side months are labeled with the following year, so "djf" 1991
// is December 1990 through February 1991. Windows inside one calendar year
// keep the calendar year. All sources use the same rule.
//
// # Mask Repair
//
// A zero-filled regrid turns "no data" into exact 0.0. [Reconcile] masks
// every zero cell using a reference dataset's fill value. Real zero rainfall
// is masked as well; that false positive is preferred over reporting missing
// cells as dry.
//
// # Product Names
//
//	<dataset>_v<version>_<variable>_<region>_<season>_series.nc
//	<dataset>_v<version>_<variable>_<region>_<season>_mean.nc
//	<Dataset><version>_<variable>_<region>_<season>_ensmean.nc
//
// See [ProductName].
package domain
