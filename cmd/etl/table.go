package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// renderSummary prints one row per unit result followed by run totals.
func renderSummary(s domain.RunSummary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Dataset", "Season", "Stage", "Status", "Skipped", "Reclassed", "Error"})

	for _, u := range s.Units {
		tw.AppendRow(table.Row{
			u.Dataset + " v" + u.Version,
			u.Season,
			string(u.Stage),
			string(u.Status),
			strconv.Itoa(u.SkippedPeriods()),
			strconv.Itoa(u.Reclassed),
			u.Error,
		})
	}

	reasons := s.SkipReasons()
	skipped := ""
	for _, r := range slices.Sorted(maps.Keys(reasons)) {
		skipped += fmt.Sprintf("%s=%d ", r, reasons[r])
	}
	tw.AppendFooter(table.Row{
		"units", strconv.Itoa(len(s.Units)), "", fmt.Sprintf("%d failed", s.Failed()), skipped, "",
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
	})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, WidthMax: 60},
	})
	return tw.Render()
}
