// Package derive computes cell-wise combinations of reconciled rasters, such
// as canopy height from surface minus terrain. It never aligns its inputs;
// rasters must arrive on an identical layout so alignment bugs stay at the
// reconciler boundary.
package derive

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

// Op is the binary cell operation.
type Op string

const (
	Subtract Op = "subtract"
	Add      Op = "add"
	Multiply Op = "multiply"
	Divide   Op = "divide"
)

// DefaultOp is subtraction, the difference product.
const DefaultOp = Subtract

func (o Op) valid() bool {
	switch o {
	case Subtract, Add, Multiply, Divide:
		return true
	}
	return false
}

// Stats summarizes the valid cells of a derived raster. Min, Max, Mean and
// StdDev are NaN when no cell is valid; StdDev is the sample deviation and is
// NaN for a single valid cell.
type Stats struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	ValidCells int     `json:"valid_cells"`
	ValidPct   float64 `json:"valid_pct"`
}

// Result is a derived raster with its summary statistics.
type Result struct {
	Raster *raster.Raster
	Op     Op
	Stats  Stats
}

// Apply combines a and b cell by cell. Nodata in either input propagates to
// the output, and Divide treats a zero divisor as nodata. Inputs whose
// layouts differ fail with ShapeMismatch.
func Apply(a, b *raster.Raster, op Op) (*Result, error) {
	if !op.valid() {
		return nil, fmt.Errorf("derive: unknown operation %q", op)
	}
	if !a.Layout.Equal(b.Layout) {
		return nil, terrain.NewShapeMismatch(fmt.Sprintf(
			"%dx%d %s vs %dx%d %s; reconcile before deriving",
			a.Cols, a.Rows, a.CRS, b.Cols, b.Rows, b.CRS))
	}

	out := raster.NewRaster(a.Layout)
	valid := make([]float64, 0, len(out.Values))
	for i, av := range a.Values {
		bv := b.Values[i]
		if a.IsNoData(av) || b.IsNoData(bv) {
			continue
		}
		var v float64
		switch op {
		case Subtract:
			v = av - bv
		case Add:
			v = av + bv
		case Multiply:
			v = av * bv
		case Divide:
			if bv == 0 {
				continue
			}
			v = av / bv
		}
		out.Values[i] = v
		valid = append(valid, v)
	}

	return &Result{Raster: out, Op: op, Stats: summarize(valid, out.NumCells())}, nil
}

// Summarize computes Stats over the valid cells of an existing raster, such
// as a derived product decoded from the artifact store.
func Summarize(r *raster.Raster) Stats {
	valid := make([]float64, 0, len(r.Values))
	for _, v := range r.Values {
		if !r.IsNoData(v) {
			valid = append(valid, v)
		}
	}
	return summarize(valid, r.NumCells())
}

func summarize(valid []float64, cells int) Stats {
	s := Stats{
		Min:        math.NaN(),
		Max:        math.NaN(),
		Mean:       math.NaN(),
		StdDev:     math.NaN(),
		ValidCells: len(valid),
	}
	if cells > 0 {
		s.ValidPct = 100 * float64(len(valid)) / float64(cells)
	}
	if len(valid) == 0 {
		return s
	}
	s.Min, s.Max = valid[0], valid[0]
	for _, v := range valid[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	return s
}
