package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// ProductKind selects the suffix of a persisted product.
type ProductKind string

const (
	KindSeries       ProductKind = "series"
	KindMean         ProductKind = "mean"
	KindEnsembleMean ProductKind = "ensmean"
)

const productExt = ".nc"

// ProductName is the parsed form of a product file name.
//
//	<dataset>_v<version>_<variable>_<region>_<season>_series.nc
//	<dataset>_v<version>_<variable>_<region>_<season>_mean.nc
//	<Dataset><version>_<variable>_<region>_<season>_ensmean.nc
//
// Ensemble-mean products glue the version onto the dataset name without the
// "v" prefix.
type ProductName struct {
	Dataset  string
	Version  string
	Variable string
	Region   string
	Season   string
	Kind     ProductKind
}

// String renders the file name.
func (p ProductName) String() string {
	if p.Kind == KindEnsembleMean {
		return fmt.Sprintf("%s%s_%s_%s_%s_%s%s", p.Dataset, p.Version, p.Variable, p.Region, p.Season, p.Kind, productExt)
	}
	return fmt.Sprintf("%s_v%s_%s_%s_%s_%s%s", p.Dataset, p.Version, p.Variable, p.Region, p.Season, p.Kind, productExt)
}

// Validate rejects names that would not survive a round trip: empty parts,
// underscores inside a part, or digits in an ensemble dataset name.
func (p ProductName) Validate() error {
	parts := map[string]string{
		"dataset": p.Dataset, "version": p.Version, "variable": p.Variable,
		"region": p.Region, "season": p.Season,
	}
	for name, v := range parts {
		if v == "" {
			return fmt.Errorf("%w: empty %s", ErrInvalidProductName, name)
		}
		if strings.Contains(v, "_") {
			return fmt.Errorf("%w: %s %q contains '_'", ErrInvalidProductName, name, v)
		}
	}
	switch p.Kind {
	case KindSeries, KindMean:
	case KindEnsembleMean:
		if strings.IndexFunc(p.Dataset, unicode.IsDigit) >= 0 {
			return fmt.Errorf("%w: ensemble dataset %q contains a digit", ErrInvalidProductName, p.Dataset)
		}
		if !unicode.IsDigit(rune(p.Version[0])) {
			return fmt.Errorf("%w: ensemble version %q must start with a digit", ErrInvalidProductName, p.Version)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProductName, p.Kind)
	}
	return nil
}

// ParseProductName inverts ProductName.String.
func ParseProductName(name string) (ProductName, error) {
	base, ok := strings.CutSuffix(name, productExt)
	if !ok {
		return ProductName{}, fmt.Errorf("%w: %q lacks %s", ErrInvalidProductName, name, productExt)
	}
	parts := strings.Split(base, "_")

	switch ProductKind(parts[len(parts)-1]) {
	case KindSeries, KindMean:
		if len(parts) != 6 || !strings.HasPrefix(parts[1], "v") || len(parts[1]) < 2 {
			return ProductName{}, fmt.Errorf("%w: %q", ErrInvalidProductName, name)
		}
		p := ProductName{
			Dataset:  parts[0],
			Version:  parts[1][1:],
			Variable: parts[2],
			Region:   parts[3],
			Season:   parts[4],
			Kind:     ProductKind(parts[5]),
		}
		return p, p.Validate()
	case KindEnsembleMean:
		if len(parts) != 5 {
			return ProductName{}, fmt.Errorf("%w: %q", ErrInvalidProductName, name)
		}
		cut := strings.IndexFunc(parts[0], unicode.IsDigit)
		if cut <= 0 {
			return ProductName{}, fmt.Errorf("%w: %q has no version after the dataset", ErrInvalidProductName, name)
		}
		p := ProductName{
			Dataset:  parts[0][:cut],
			Version:  parts[0][cut:],
			Variable: parts[1],
			Region:   parts[2],
			Season:   parts[3],
			Kind:     KindEnsembleMean,
		}
		return p, p.Validate()
	default:
		return ProductName{}, fmt.Errorf("%w: %q has unknown kind", ErrInvalidProductName, name)
	}
}
