package pipeline_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

const fill = -9999.0

// fakeSource serves one daily value everywhere for each requested year. Cells
// in maskedCols hold the fill value.
type fakeSource struct {
	name       string
	version    string
	kind       domain.ProductKind
	repair     bool
	lat, lon   domain.Axis
	value      float64
	crs        string
	maskedCols []int
	failYears  map[int]error
}

func (f *fakeSource) Dataset() string { return f.name }
func (f *fakeSource) Version() string { return f.version }
func (f *fakeSource) NeedsMaskRepair() bool { return f.repair }
func (f *fakeSource) MeanKind() domain.ProductKind { return f.kind }
func (f *fakeSource) Variable() domain.VariableSpec { return domain.VariableSpec{Name: "pr", NativeName: "pr", Scale: 1, FillValue: fill} }

func (f *fakeSource) Periods(first, last int) []domain.PeriodRef {
	var refs []domain.PeriodRef
	for y := first; y <= last; y++ {
		refs = append(refs, domain.PeriodRef{Year: y, Paths: []string{fmt.Sprintf("%s/%d.nc", f.name, y)}})
	}
	return refs
}

func (f *fakeSource) Load(ctx context.Context, ref domain.PeriodRef) (domain.RawField, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawField{}, err
	}
	if err := f.failYears[ref.Year]; err != nil {
		return domain.RawField{}, err
	}
	var days []time.Time
	for d := time.Date(ref.Year, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == ref.Year; d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	ny, nx := f.lat.Len(), f.lon.Len()
	values := sparse.ZerosDense(len(days), ny, nx)
	for t := range days {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				values.Set(f.value, t, j, i)
			}
			for _, i := range f.maskedCols {
				values.Set(fill, t, j, i)
			}
		}
	}
	return domain.RawField{
		Variable:     "pr",
		Days:         days,
		Lat:          f.lat,
		Lon:          f.lon,
		Values:       values,
		FillValue:    fill,
		HasFillValue: true,
		CRS:          f.crs,
		Attributes:   map[string]string{"history": "fake"},
	}, nil
}

// memStore is an in-memory FieldStore.
type memStore struct {
	mu     sync.Mutex
	fields map[string]*domain.Field
}

func newMemStore() *memStore {
	return &memStore{fields: make(map[string]*domain.Field)}
}

func (m *memStore) ReadField(_ context.Context, path string) (*domain.Field, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, os.ErrNotExist)
	}
	return f.Clone(), nil
}

func (m *memStore) WriteField(_ context.Context, path string, f *domain.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[path] = f.Clone()
	return nil
}

func (m *memStore) get(path string) (*domain.Field, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[path]
	return f, ok
}

// recordingNotifier collects published unit results.
type recordingNotifier struct {
	mu      sync.Mutex
	results []domain.UnitResult
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, r domain.UnitResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
	return n.err
}

func axis(first, step float64, n int) domain.Axis {
	a := domain.Axis{Points: make([]float64, n)}
	for k := range a.Points {
		a.Points[k] = first + float64(k)*step
	}
	return a
}

// Target cells are 1 degree over lat 38..40, lon -4..-2; observations are
// 0.5 degree over the same box.
func newTarget() *fakeSource {
	return &fakeSource{
		name: "DePreSys", version: "3", kind: domain.KindEnsembleMean,
		lat: axis(38.5, 1, 2), lon: axis(-3.5, 1, 2),
		value: 2, crs: domain.DefaultCRS,
	}
}

func newReference() *fakeSource {
	return &fakeSource{
		name: "chirps", version: "2.0", kind: domain.KindMean,
		lat: axis(38.25, 0.5, 4), lon: axis(-3.75, 0.5, 4),
		value: 1,
	}
}

// newRepaired masks the two western source columns, which cover the
// western target column exactly.
func newRepaired() *fakeSource {
	return &fakeSource{
		name: "iberia01", version: "1.0", kind: domain.KindMean, repair: true,
		lat: axis(38.25, 0.5, 4), lon: axis(-3.75, 0.5, 4),
		value: 1, crs: domain.DefaultCRS, maskedCols: []int{0, 1},
	}
}
