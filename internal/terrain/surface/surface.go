// Package surface derives elevation rasters from point clouds by reducing
// each cell's points to a z statistic. It is the in-process implementation of
// the surface-derivation collaborator; an external modeler can replace it at
// the pipeline seam.
package surface

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain/density"
)

// Statistic selects the per-cell elevation reduction.
type Statistic string

const (
	// MeanZ averages cell elevations, the usual surface model.
	MeanZ Statistic = "mean"
	// MinZ keeps the lowest return, approximating bare terrain.
	MinZ Statistic = "min"
	// MaxZ keeps the highest return, approximating canopy top.
	MaxZ Statistic = "max"
)

func (s Statistic) valid() bool { return s == MeanZ || s == MinZ || s == MaxZ }

// Modeler reduces clouds to elevation rasters. The zero value models MeanZ
// with one goroutine per CPU.
type Modeler struct {
	// Statistic is the per-cell reduction. Empty means MeanZ.
	Statistic Statistic
	// Workers caps the number of accumulation goroutines. Zero means
	// runtime.NumCPU().
	Workers int
}

func (m Modeler) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return runtime.NumCPU()
}

// Model rasterizes pc's elevations at the given resolution on the same
// snapped layout rule as the density rasterizer. Cells without points are
// nodata. The context is accepted for interface compatibility; the in-process
// reduction does not block.
func (m Modeler) Model(_ context.Context, pc *cloud.PointCloud, cellSize float64) (*raster.Raster, error) {
	stat := m.Statistic
	if stat == "" {
		stat = MeanZ
	}
	if !stat.valid() {
		return nil, fmt.Errorf("surface: unknown statistic %q", stat)
	}
	layout, err := density.LayoutFor(pc, cellSize)
	if err != nil {
		return nil, err
	}
	out := raster.NewRaster(layout)
	n := pc.Len()
	if n == 0 {
		return out, nil
	}

	workers := m.workers()
	if workers > n {
		workers = n
	}
	total := newAccum(layout.NumCells())
	if workers <= 1 {
		total.add(layout, pc.Points)
	} else {
		parts := make([]*accum, workers)
		chunk := (n + workers - 1) / workers
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			lo := w * chunk
			hi := lo + chunk
			if hi > n {
				hi = n
			}
			if lo >= hi {
				break
			}
			wg.Add(1)
			go func(w, lo, hi int) {
				defer wg.Done()
				a := newAccum(layout.NumCells())
				a.add(layout, pc.Points[lo:hi])
				parts[w] = a
			}(w, lo, hi)
		}
		wg.Wait()
		for _, a := range parts {
			if a != nil {
				total.merge(a)
			}
		}
	}

	for i, c := range total.count {
		if c == 0 {
			continue
		}
		switch stat {
		case MeanZ:
			out.Values[i] = total.sum[i] / float64(c)
		case MinZ:
			out.Values[i] = total.min[i]
		case MaxZ:
			out.Values[i] = total.max[i]
		}
	}
	return out, nil
}

// accum carries per-cell running reductions. Merging accumulators is
// order-independent for count, min, and max; mean sums may differ across
// partitions by float rounding only.
type accum struct {
	count    []uint32
	sum      []float64
	min, max []float64
}

func newAccum(cells int) *accum {
	a := &accum{
		count: make([]uint32, cells),
		sum:   make([]float64, cells),
		min:   make([]float64, cells),
		max:   make([]float64, cells),
	}
	for i := range a.min {
		a.min[i] = math.Inf(1)
		a.max[i] = math.Inf(-1)
	}
	return a
}

func (a *accum) add(layout raster.Layout, pts []cloud.Point) {
	for _, p := range pts {
		col, row := layout.Transform.Cell(p.X, p.Y)
		if !layout.InBounds(col, row) {
			continue
		}
		i := layout.Idx(col, row)
		a.count[i]++
		a.sum[i] += p.Z
		a.min[i] = math.Min(a.min[i], p.Z)
		a.max[i] = math.Max(a.max[i], p.Z)
	}
}

func (a *accum) merge(b *accum) {
	for i := range a.count {
		a.count[i] += b.count[i]
		a.sum[i] += b.sum[i]
		a.min[i] = math.Min(a.min[i], b.min[i])
		a.max[i] = math.Max(a.max[i], b.max[i])
	}
}
