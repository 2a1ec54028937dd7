package domain

import "time"

// uniformAxis returns n centers starting at first with the given step.
func uniformAxis(first, step float64, n int) Axis {
	a := Axis{Points: make([]float64, n)}
	for k := range a.Points {
		a.Points[k] = first + float64(k)*step
	}
	return a
}

// constantDaily builds a daily field of value v over [first, first+days).
func constantDaily(first time.Time, days, ny, nx int, v float64) *Field {
	f := NewField(DailyPeriods(first, first.AddDate(0, 0, days-1)), uniformAxis(0, 1, ny), uniformAxis(0, 1, nx))
	f.Variable = "pr"
	f.StandardName = StandardName
	f.Units = DailyUnits
	f.FillValue = -9999
	f.CRS = DefaultCRS
	for k := range f.Values.Elements {
		f.Values.Elements[k] = v
	}
	return f
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
