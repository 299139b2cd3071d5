// Package boundary vectorizes validity masks into polygon boundaries. Each
// 4-connected run of valid cells becomes one polygon whose outer ring winds
// counter-clockwise and whose holes wind clockwise, with vertices on cell
// corners in the mask's CRS.
package boundary

import (
	"encoding/json"
	"math"

	"github.com/ctessum/geom"

	"github.com/overstory-data/canopy.report/internal/geo"
)

// Boundary is the vector outline of a mask's valid area. Polygons[i][0] is
// the outer ring; any further rings are holes. Rings do not repeat their
// first vertex.
type Boundary struct {
	CRS      geo.CRS
	Polygons []geom.Polygon
}

// Empty reports whether the boundary encloses no area.
func (b *Boundary) Empty() bool { return len(b.Polygons) == 0 }

// PolygonStats describes one polygon of a boundary.
type PolygonStats struct {
	Rings     int     `json:"rings"`
	Vertices  int     `json:"vertices"`
	Perimeter float64 `json:"perimeter"`
	Area      float64 `json:"area"`
}

// Summary aggregates PolygonStats across a whole boundary.
type Summary struct {
	Polygons  int     `json:"polygons"`
	Rings     int     `json:"rings"`
	Vertices  int     `json:"vertices"`
	Perimeter float64 `json:"perimeter"`
	Area      float64 `json:"area"`
}

// StatsFor measures one polygon. Perimeter sums the closed length of every
// ring, holes included. Area is the enclosed area: the shoelace sum over all
// rings, where clockwise holes subtract from the counter-clockwise outer.
func StatsFor(p geom.Polygon) PolygonStats {
	s := PolygonStats{Rings: len(p)}
	for _, ring := range p {
		s.Vertices += len(ring)
		s.Perimeter += ringLength(ring)
		s.Area += ringArea(ring)
	}
	return s
}

// Stats measures every polygon of the boundary.
func (b *Boundary) Stats() []PolygonStats {
	out := make([]PolygonStats, len(b.Polygons))
	for i, p := range b.Polygons {
		out[i] = StatsFor(p)
	}
	return out
}

// Summarize aggregates stats across the boundary.
func (b *Boundary) Summarize() Summary {
	var s Summary
	s.Polygons = len(b.Polygons)
	for _, ps := range b.Stats() {
		s.Rings += ps.Rings
		s.Vertices += ps.Vertices
		s.Perimeter += ps.Perimeter
		s.Area += ps.Area
	}
	return s
}

func ringLength(ring []geom.Point) float64 {
	if len(ring) < 2 {
		return 0
	}
	var l float64
	for i, v := range ring {
		w := ring[(i+1)%len(ring)]
		l += math.Hypot(w.X-v.X, w.Y-v.Y)
	}
	return l
}

// ringArea returns the signed shoelace area: positive for counter-clockwise.
func ringArea(ring []geom.Point) float64 {
	if len(ring) < 3 {
		return 0
	}
	var s float64
	for i, v := range ring {
		w := ring[(i+1)%len(ring)]
		s += v.X*w.Y - w.X*v.Y
	}
	return s / 2
}

type boundaryJSON struct {
	CRS      geo.CRS          `json:"crs"`
	Polygons [][][][2]float64 `json:"polygons"`
}

// MarshalJSON encodes the boundary as nested coordinate arrays, one
// [x,y] pair per vertex.
func (b *Boundary) MarshalJSON() ([]byte, error) {
	enc := boundaryJSON{CRS: b.CRS, Polygons: make([][][][2]float64, len(b.Polygons))}
	for i, p := range b.Polygons {
		rings := make([][][2]float64, len(p))
		for j, ring := range p {
			vs := make([][2]float64, len(ring))
			for k, v := range ring {
				vs[k] = [2]float64{v.X, v.Y}
			}
			rings[j] = vs
		}
		enc.Polygons[i] = rings
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes the MarshalJSON form.
func (b *Boundary) UnmarshalJSON(data []byte) error {
	var dec boundaryJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	b.CRS = dec.CRS
	b.Polygons = nil
	for _, rings := range dec.Polygons {
		p := make(geom.Polygon, len(rings))
		for j, vs := range rings {
			ring := make([]geom.Point, len(vs))
			for k, v := range vs {
				ring[k] = geom.Point{X: v[0], Y: v[1]}
			}
			p[j] = ring
		}
		b.Polygons = append(b.Polygons, p)
	}
	return nil
}
