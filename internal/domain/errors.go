package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSeason is wrapped by InvalidSeasonError.
	ErrInvalidSeason = errors.New("invalid season token")

	// ErrEmptyIntersection means the requested region does not overlap the
	// source coverage at all. It indicates a configuration mismatch.
	ErrEmptyIntersection = errors.New("region does not intersect field coverage")

	// ErrMissingCRS means neither the field nor the target declares a
	// coordinate reference system.
	ErrMissingCRS = errors.New("missing coordinate reference system")

	// ErrCRSMismatch is returned when source and target declare different systems.
	ErrCRSMismatch = errors.New("coordinate reference systems differ")

	ErrMissingBounds    = errors.New("coordinate bounds are required")
	ErrIrregularSpacing = errors.New("cannot guess bounds for irregularly spaced coordinate")

	// ErrShapeMismatch is returned when values, mask, and coordinates disagree.
	ErrShapeMismatch = errors.New("field shape mismatch")

	// ErrOverlappingPeriods is returned when period fragments cannot be joined
	// into one strictly increasing, non-overlapping series.
	ErrOverlappingPeriods = errors.New("overlapping or non-monotonic periods")

	// ErrGridMismatch is returned when fragments of one series sit on different grids.
	ErrGridMismatch = errors.New("spatial grids differ")

	ErrNoPeriods = errors.New("no periods available")

	// ErrFillValueInTolerance means a reconcile fill value would itself be
	// classified as an artifact, which would break idempotence.
	ErrFillValueInTolerance = errors.New("fill value falls inside the zero tolerance")

	ErrInvalidProductName = errors.New("invalid product file name")
)

// InvalidSeasonError reports an unrecognized season token.
type InvalidSeasonError struct {
	Token string
}

func (e *InvalidSeasonError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidSeason, e.Token)
}

func (e *InvalidSeasonError) Unwrap() error {
	return ErrInvalidSeason
}
