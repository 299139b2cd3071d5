// Package density rasterizes point clouds into per-cell point counts on a
// snapped regular grid. The count grid is the first artifact of a derivation
// run and the input to mask building.
package density

import (
	"math"
	"runtime"
	"sync"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

// Rasterizer bins points into a regular grid of counts. The zero value is not
// usable; construct with New.
type Rasterizer struct {
	// CellSize is the grid resolution in cloud units.
	CellSize float64
	// Workers caps the number of counting goroutines. Zero means
	// runtime.NumCPU().
	Workers int
}

// New returns a Rasterizer at the given resolution.
func New(cellSize float64) Rasterizer {
	return Rasterizer{CellSize: cellSize}
}

func (r Rasterizer) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.NumCPU()
}

// LayoutFor computes the grid layout covering every point of pc at the given
// resolution. The origin snaps down to a whole multiple of cellSize so
// repeated runs over the same extent produce identical grids. An empty cloud
// yields a 0x0 layout.
func LayoutFor(pc *cloud.PointCloud, cellSize float64) (raster.Layout, error) {
	if cellSize <= 0 || math.IsNaN(cellSize) || math.IsInf(cellSize, 0) {
		return raster.Layout{}, terrain.NewInvalidResolution(cellSize)
	}
	b := pc.Bounds()
	if b == nil {
		return raster.Layout{
			Transform: geo.GridTransform{CellSize: cellSize},
			CRS:       pc.CRS,
		}, nil
	}
	tr := geo.SnapOrigin(b.Min.X, b.Min.Y, cellSize)
	maxCol, maxRow := tr.Cell(b.Max.X, b.Max.Y)
	return raster.Layout{
		Cols:      maxCol + 1,
		Rows:      maxRow + 1,
		Transform: tr,
		CRS:       pc.CRS,
	}, nil
}

// Rasterize bins every point of pc into the snapped grid and returns the
// per-cell counts. A point on a shared cell edge lands in exactly one cell
// (half-open membership). An empty cloud returns a valid 0x0 grid. The result
// is a pure function of the cloud and the cell size, independent of worker
// count.
func (r Rasterizer) Rasterize(pc *cloud.PointCloud) (*raster.CountGrid, error) {
	layout, err := LayoutFor(pc, r.CellSize)
	if err != nil {
		return nil, err
	}
	grid := raster.NewCountGrid(layout)
	n := pc.Len()
	if n == 0 {
		return grid, nil
	}

	workers := r.workers()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		countInto(grid.Counts, layout, pc.Points)
		return grid, nil
	}

	// One private count slice per worker; merged by elementwise addition,
	// which is associative, so the split cannot change the result.
	partials := make([][]uint32, workers)
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
			counts := make([]uint32, layout.NumCells())
			countInto(counts, layout, pc.Points[lo:hi])
			partials[w] = counts
		}(w, lo, hi)
	}
	wg.Wait()

	for _, counts := range partials {
		if counts == nil {
			continue
		}
		for i, c := range counts {
			grid.Counts[i] += c
		}
	}
	return grid, nil
}

func countInto(counts []uint32, layout raster.Layout, pts []cloud.Point) {
	for _, p := range pts {
		col, row := layout.Transform.Cell(p.X, p.Y)
		if !layout.InBounds(col, row) {
			continue
		}
		counts[layout.Idx(col, row)]++
	}
}
