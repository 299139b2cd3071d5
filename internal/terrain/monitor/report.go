// Package monitor renders run diagnostics: a self-contained HTML report of
// coverage, retention, and stage timings, and PNG plots of the derived
// raster. Rendering is advisory output for operators; it never feeds back
// into the pipeline.
package monitor

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/overstory-data/canopy.report/internal/terrain/pipeline"
)

// WriteReport renders the HTML diagnostics report for a finished run.
func WriteReport(w io.Writer, run *pipeline.Run) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("run %s", run.RunID)
	page.AddCharts(coverageChart(run), stageChart(run), deriveChart(run))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("monitor: render report: %w", err)
	}
	return nil
}

func coverageChart(run *pipeline.Run) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Coverage and retention",
			Subtitle: fmt.Sprintf("cloud %s, cell %g, min count %d, %s mode",
				run.Params.CloudID, run.Params.CellSize, run.Params.MinCount, run.Params.Mode),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"valid cells %", "artifact cells %", "points retained %"}).
		AddSeries("percent", []opts.BarData{
			{Value: round2(run.Stats.Coverage.ValidPct)},
			{Value: round2(run.Stats.Coverage.ArtifactPct)},
			{Value: round2(100 * run.Stats.Crop.Fraction)},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func stageChart(run *pipeline.Run) components.Charter {
	var names []string
	var durations []opts.BarData
	for _, res := range run.Stages {
		label := res.Stage.String()
		if res.Reused {
			label += " (reused)"
		}
		names = append(names, label)
		durations = append(durations, opts.BarData{
			Value: float64(res.Duration) / float64(time.Millisecond),
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Stage timings",
			Subtitle: fmt.Sprintf("state %s, wall %s", run.State, run.FinishedAt.Sub(run.StartedAt)),
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("duration", durations)
	return bar
}

func deriveChart(run *pipeline.Run) components.Charter {
	s := run.Stats.Derive
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Derived raster (%s)", run.Params.Operation),
			Subtitle: fmt.Sprintf("%d valid cells (%.2f%%)",
				s.ValidCells, s.ValidPct),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"min", "mean", "max", "std dev"}).
		AddSeries("value", []opts.BarData{
			{Value: barValue(s.Min)},
			{Value: barValue(s.Mean)},
			{Value: barValue(s.Max)},
			{Value: barValue(s.StdDev)},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// barValue maps NaN statistics (no valid cells) to a null bar instead of
// unmarshalable JSON.
func barValue(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return round2(v)
}
