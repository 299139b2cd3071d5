package geo

import (
	"math"

	"github.com/ctessum/geom"
)

// GridTransform georeferences a uniform grid. Origin is the minimum corner of
// cell (0,0) and CellSize the square cell edge in CRS units. Columns increase
// with X and rows with Y, so cell (col,row) covers the half-open square
// [OriginX+col*s, OriginX+(col+1)*s) x [OriginY+row*s, OriginY+(row+1)*s).
type GridTransform struct {
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
}

// SnapOrigin builds the transform whose origin is (minX,minY) snapped down to
// whole multiples of cellSize. Snapping keeps repeated runs over the same
// extent on the same grid lines.
func SnapOrigin(minX, minY, cellSize float64) GridTransform {
	return GridTransform{
		OriginX:  math.Floor(minX/cellSize) * cellSize,
		OriginY:  math.Floor(minY/cellSize) * cellSize,
		CellSize: cellSize,
	}
}

// Cell maps a world coordinate to its containing cell. Half-open membership:
// a coordinate exactly on a shared edge lands in the higher cell.
func (t GridTransform) Cell(x, y float64) (col, row int) {
	col = int(math.Floor((x - t.OriginX) / t.CellSize))
	row = int(math.Floor((y - t.OriginY) / t.CellSize))
	return
}

// CellOrigin returns the minimum corner of cell (col,row).
func (t GridTransform) CellOrigin(col, row int) (x, y float64) {
	return t.OriginX + float64(col)*t.CellSize, t.OriginY + float64(row)*t.CellSize
}

// CellCenter returns the center of cell (col,row).
func (t GridTransform) CellCenter(col, row int) (x, y float64) {
	x, y = t.CellOrigin(col, row)
	return x + t.CellSize/2, y + t.CellSize/2
}

// Fractional maps a world coordinate into continuous pixel space where one
// unit is one cell stride and (0,0) is the center of cell (0,0). Resampling
// interpolates in this space.
func (t GridTransform) Fractional(x, y float64) (fcol, frow float64) {
	return (x-t.OriginX)/t.CellSize - 0.5, (y-t.OriginY)/t.CellSize - 0.5
}

// Bounds returns the extent covered by cols x rows cells.
func (t GridTransform) Bounds(cols, rows int) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: t.OriginX, Y: t.OriginY},
		Max: geom.Point{
			X: t.OriginX + float64(cols)*t.CellSize,
			Y: t.OriginY + float64(rows)*t.CellSize,
		},
	}
}

// AlignedOffset reports o's origin offset from t in whole cells. ok is false
// unless both transforms share cell size (within rel tolerance) and the
// offset is a whole number of cells (within tol cells).
func (t GridTransform) AlignedOffset(o GridTransform, tol float64) (colOff, rowOff int, ok bool) {
	if !nearlyEqual(t.CellSize, o.CellSize, tol) {
		return 0, 0, false
	}
	fc := (o.OriginX - t.OriginX) / t.CellSize
	fr := (o.OriginY - t.OriginY) / t.CellSize
	colOff = int(math.Round(fc))
	rowOff = int(math.Round(fr))
	if math.Abs(fc-float64(colOff)) > tol || math.Abs(fr-float64(rowOff)) > tol {
		return 0, 0, false
	}
	return colOff, rowOff, true
}

func nearlyEqual(a, b, tol float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= tol*scale
}
