// Package cloud models classified point clouds and their text interchange
// format.
package cloud

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/overstory-data/canopy.report/internal/geo"
)

// Point is a single classified return in world coordinates. Classification
// follows the upstream classifier's code table; this module only carries it.
type Point struct {
	X, Y, Z        float64
	Intensity      uint16
	Classification uint8
	GPSTime        float64
}

// PointCloud is an ordered collection of points in one CRS. Clouds are
// treated as immutable once loaded; stages that filter build a new cloud.
type PointCloud struct {
	CRS    geo.CRS
	Points []Point
}

// Len returns the point count.
func (pc *PointCloud) Len() int { return len(pc.Points) }

// Bounds returns the XY extent of all points, or nil for an empty cloud.
// The scan is O(n); callers that need it repeatedly keep the result.
func (pc *PointCloud) Bounds() *geom.Bounds {
	if len(pc.Points) == 0 {
		return nil
	}
	b := &geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for i := range pc.Points {
		p := &pc.Points[i]
		if p.X < b.Min.X {
			b.Min.X = p.X
		}
		if p.Y < b.Min.Y {
			b.Min.Y = p.Y
		}
		if p.X > b.Max.X {
			b.Max.X = p.X
		}
		if p.Y > b.Max.Y {
			b.Max.Y = p.Y
		}
	}
	return b
}

// ZRange returns the elevation extent, or (0,0) for an empty cloud.
func (pc *PointCloud) ZRange() (minZ, maxZ float64) {
	if len(pc.Points) == 0 {
		return 0, 0
	}
	minZ, maxZ = math.Inf(1), math.Inf(-1)
	for i := range pc.Points {
		z := pc.Points[i].Z
		if z < minZ {
			minZ = z
		}
		if z > maxZ {
			maxZ = z
		}
	}
	return minZ, maxZ
}
