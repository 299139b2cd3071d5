// Package raster defines the gridded products shared across the derivation
// pipeline: point-count density grids, validity masks, and float elevation
// rasters with explicit nodata handling.
package raster

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/overstory-data/canopy.report/internal/geo"
)

// Layout is the georeferenced geometry shared by every gridded product.
type Layout struct {
	Cols      int               `json:"cols"`
	Rows      int               `json:"rows"`
	Transform geo.GridTransform `json:"transform"`
	CRS       geo.CRS           `json:"crs"`
}

// NumCells returns the cell count of the grid.
func (l Layout) NumCells() int { return l.Cols * l.Rows }

// Idx flattens (col,row) into the backing slice index.
func (l Layout) Idx(col, row int) int { return row*l.Cols + col }

// InBounds reports whether (col,row) addresses a cell of the grid.
func (l Layout) InBounds(col, row int) bool {
	return col >= 0 && col < l.Cols && row >= 0 && row < l.Rows
}

// SameShape reports equal dimensions and transform, ignoring CRS.
func (l Layout) SameShape(o Layout) bool {
	return l.Cols == o.Cols && l.Rows == o.Rows && l.Transform == o.Transform
}

// Equal reports SameShape plus CRS equality.
func (l Layout) Equal(o Layout) bool {
	return l.SameShape(o) && l.CRS.Equal(o.CRS)
}

// Bounds returns the world extent covered by the grid.
func (l Layout) Bounds() *geom.Bounds {
	return l.Transform.Bounds(l.Cols, l.Rows)
}

// CountGrid is a density raster of point counts per cell.
type CountGrid struct {
	Layout
	Counts []uint32
}

// NewCountGrid allocates an all-zero count grid on the layout.
func NewCountGrid(l Layout) *CountGrid {
	return &CountGrid{Layout: l, Counts: make([]uint32, l.NumCells())}
}

// At returns the count at (col,row).
func (g *CountGrid) At(col, row int) uint32 { return g.Counts[g.Idx(col, row)] }

// Total returns the sum of all counts.
func (g *CountGrid) Total() uint64 {
	var n uint64
	for _, c := range g.Counts {
		n += uint64(c)
	}
	return n
}

// Mask is a boolean raster marking cells with sufficient point support.
// A Mask always shares the Layout of the CountGrid it was built from.
type Mask struct {
	Layout
	Valid []bool
}

// NewMask allocates an all-false mask on the layout.
func NewMask(l Layout) *Mask {
	return &Mask{Layout: l, Valid: make([]bool, l.NumCells())}
}

// At returns validity at (col,row).
func (m *Mask) At(col, row int) bool { return m.Valid[m.Idx(col, row)] }

// CountValid returns the number of true cells.
func (m *Mask) CountValid() int {
	n := 0
	for _, v := range m.Valid {
		if v {
			n++
		}
	}
	return n
}

// Raster is a float raster with an explicit nodata sentinel. The zero-value
// sentinel convention is NaN; codecs may substitute a finite sentinel.
type Raster struct {
	Layout
	NoData float64
	Values []float64
}

// NewRaster allocates a raster on the layout with every cell nodata (NaN).
func NewRaster(l Layout) *Raster {
	r := &Raster{Layout: l, NoData: math.NaN(), Values: make([]float64, l.NumCells())}
	for i := range r.Values {
		r.Values[i] = r.NoData
	}
	return r
}

// At returns the value at (col,row).
func (r *Raster) At(col, row int) float64 { return r.Values[r.Idx(col, row)] }

// Set writes the value at (col,row).
func (r *Raster) Set(col, row int, v float64) { r.Values[r.Idx(col, row)] = v }

// IsNoData reports whether v means "no measurement" under the raster's
// sentinel. NaN is nodata under any sentinel.
func (r *Raster) IsNoData(v float64) bool {
	return math.IsNaN(v) || v == r.NoData
}

// CountValid returns the number of non-nodata cells.
func (r *Raster) CountValid() int {
	n := 0
	for _, v := range r.Values {
		if !r.IsNoData(v) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{Layout: r.Layout, NoData: r.NoData, Values: make([]float64, len(r.Values))}
	copy(out.Values, r.Values)
	return out
}
