package domain

import (
	"fmt"
	"time"
)

// UnitStatus is the outcome of one dataset x season unit.
type UnitStatus string

const (
	StatusSucceeded UnitStatus = "succeeded"
	StatusFailed    UnitStatus = "failed"
)

// Stage names the pipeline phase a unit result belongs to.
type Stage string

const (
	StageAggregate Stage = "aggregate"
	StageRegrid    Stage = "regrid"
)

// PeriodRef identifies one raw read of a source: usually one year of daily
// data, optionally one ensemble member.
type PeriodRef struct {
	Year   int      `json:"year"`
	Member string   `json:"member,omitempty"`
	Paths  []string `json:"paths"`
}

func (r PeriodRef) String() string {
	if r.Member != "" {
		return fmt.Sprintf("%d/%s", r.Year, r.Member)
	}
	return fmt.Sprintf("%d", r.Year)
}

// PeriodResult records whether a period read contributed to a series.
type PeriodResult struct {
	Period  PeriodRef `json:"period"`
	Skipped bool      `json:"skipped"`
	Reason  string    `json:"reason,omitempty"`
}

// UnitResult is the outcome of one stage for one dataset x season unit.
type UnitResult struct {
	Dataset string     `json:"dataset"`
	Version string     `json:"version"`
	Season  string     `json:"season"`
	Stage   Stage      `json:"stage"`
	Status  UnitStatus `json:"status"`
	Error   string     `json:"error,omitempty"`

	Periods    []PeriodResult `json:"periods,omitempty"`
	Outputs    []string       `json:"outputs,omitempty"`
	Reclassed  int            `json:"reclassified_cells,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Key identifies the unit independent of stage.
func (u UnitResult) Key() string {
	return u.Dataset + "/" + u.Season
}

// SkippedPeriods counts period reads that did not contribute.
func (u UnitResult) SkippedPeriods() int {
	n := 0
	for _, p := range u.Periods {
		if p.Skipped {
			n++
		}
	}
	return n
}

// RunSummary collects every unit result of one run.
type RunSummary struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Units      []UnitResult `json:"units"`
}

// Failed counts failed unit results.
func (s RunSummary) Failed() int {
	n := 0
	for _, u := range s.Units {
		if u.Status == StatusFailed {
			n++
		}
	}
	return n
}

// SkipReasons tallies skipped periods by reason across all units.
func (s RunSummary) SkipReasons() map[string]int {
	out := make(map[string]int)
	for _, u := range s.Units {
		for _, p := range u.Periods {
			if p.Skipped {
				out[p.Reason]++
			}
		}
	}
	return out
}
