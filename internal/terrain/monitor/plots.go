package monitor

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/overstory-data/canopy.report/internal/raster"
)

// histogramBins balances resolution against noise for typical parcel-sized
// derived rasters.
const histogramBins = 40

// WriteHistogram renders a PNG histogram of the raster's valid values.
// Rasters with no valid cells produce an error rather than an empty plot.
func WriteHistogram(w io.Writer, r *raster.Raster, title string) error {
	values := make(plotter.Values, 0, len(r.Values))
	for _, v := range r.Values {
		if !r.IsNoData(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("monitor: no valid cells to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "cells"

	hist, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return fmt.Errorf("monitor: histogram: %w", err)
	}
	p.Add(hist)

	return writePNG(w, p, 8*vg.Inch, 5*vg.Inch)
}

// WriteProfile renders a PNG elevation profile along one grid row, nodata
// cells breaking the line into segments.
func WriteProfile(w io.Writer, r *raster.Raster, row int, title string) error {
	if row < 0 || row >= r.Rows {
		return fmt.Errorf("monitor: profile row %d outside %d rows", row, r.Rows)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "elevation"

	segment := make(plotter.XYs, 0, r.Cols)
	flush := func() error {
		if len(segment) == 0 {
			return nil
		}
		line, err := plotter.NewLine(segment)
		if err != nil {
			return fmt.Errorf("monitor: profile line: %w", err)
		}
		line.Width = vg.Points(1)
		p.Add(line)
		segment = make(plotter.XYs, 0, r.Cols)
		return nil
	}

	plotted := false
	for col := 0; col < r.Cols; col++ {
		v := r.At(col, row)
		if r.IsNoData(v) {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		x, _ := r.Transform.CellCenter(col, row)
		segment = append(segment, plotter.XY{X: x, Y: v})
		plotted = true
	}
	if err := flush(); err != nil {
		return err
	}
	if !plotted {
		return fmt.Errorf("monitor: no valid cells in row %d", row)
	}

	return writePNG(w, p, 10*vg.Inch, 4*vg.Inch)
}

func writePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("monitor: png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("monitor: write png: %w", err)
	}
	return nil
}
