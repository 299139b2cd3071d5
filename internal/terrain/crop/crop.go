// Package crop filters point clouds to the area enclosed by a boundary.
// Membership is boundary-inclusive: a point exactly on an outer ring or on a
// hole ring is retained. Attributes and input order pass through verbatim.
package crop

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/terrain"
	"github.com/overstory-data/canopy.report/internal/terrain/boundary"
)

// Cropper filters clouds against boundaries.
type Cropper struct {
	// Workers caps the number of testing goroutines. Zero means
	// runtime.NumCPU().
	Workers int
	// Transform, when set, builds the projection that brings a boundary in
	// a different CRS into the cloud's system before testing; geo.NewTransform
	// is the usual value. Nil means differing systems fail with CRSMismatch.
	Transform func(src, dst geo.CRS) (proj.Transformer, error)
}

// Stats reports how much of the cloud survived the crop.
type Stats struct {
	Original int     `json:"original"`
	Retained int     `json:"retained"`
	Fraction float64 `json:"fraction"`
}

func (c Cropper) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Crop returns the points of pc inside b. When the cloud and boundary carry
// different systems the boundary is reprojected through c.Transform; without
// one the call fails with CRSMismatch rather than guessing. An empty boundary
// yields an empty cloud with zero retention, not an error. The input cloud is
// never modified.
func (c Cropper) Crop(pc *cloud.PointCloud, b *boundary.Boundary) (*cloud.PointCloud, Stats, error) {
	polys := b.Polygons
	if !pc.CRS.Equal(b.CRS) {
		if c.Transform == nil {
			return nil, Stats{}, terrain.NewCRSMismatch(pc.CRS.String(), b.CRS.String())
		}
		var err error
		polys, err = reproject(polys, b.CRS, pc.CRS, c.Transform)
		if err != nil {
			return nil, Stats{}, err
		}
	}
	n := pc.Len()
	out := &cloud.PointCloud{CRS: pc.CRS}
	stats := Stats{Original: n}
	if len(polys) == 0 || n == 0 {
		return out, stats, nil
	}

	idx := newPolyIndex(polys)
	workers := c.workers()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		out.Points = idx.filter(pc.Points)
	} else {
		// Disjoint ranges tested concurrently; survivors concatenate in
		// range order, so global order is preserved.
		parts := make([][]cloud.Point, workers)
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
				parts[w] = idx.filter(pc.Points[lo:hi])
			}(w, lo, hi)
		}
		wg.Wait()
		for _, part := range parts {
			out.Points = append(out.Points, part...)
		}
	}

	stats.Retained = len(out.Points)
	stats.Fraction = float64(stats.Retained) / float64(n)
	return out, stats, nil
}

// polyIndex answers point-in-boundary queries. Polygons are indexed in an
// r-tree by padded bounding box so each point runs the exact ray test only
// against candidates whose box contains it. A single polygon skips the tree;
// its box prechecks directly.
type polyIndex struct {
	polys []geom.Polygon
	boxes []*geom.Bounds
	tree  *rtree.Rtree
}

// treeEntry pairs a polygon with its slice index so index hits map back to
// px.polys. The embedded polygon carries the geometry interface the tree
// stores; Bounds is overridden to return the padded box.
type treeEntry struct {
	geom.Polygon
	i int
	b *geom.Bounds
}

func (e *treeEntry) Bounds() *geom.Bounds { return e.b }

func newPolyIndex(polys []geom.Polygon) *polyIndex {
	px := &polyIndex{polys: polys, boxes: make([]*geom.Bounds, len(polys))}
	for i, p := range polys {
		px.boxes[i] = paddedBounds(p)
	}
	if len(polys) > 1 {
		px.tree = rtree.NewTree(25, 50)
		for i := range polys {
			px.tree.Insert(&treeEntry{Polygon: polys[i], i: i, b: px.boxes[i]})
		}
	}
	return px
}

// reproject rebuilds polys in dst coordinates. The boundary carries far fewer
// vertices than the cloud carries points, so the boundary moves, not the
// points.
func reproject(polys []geom.Polygon, src, dst geo.CRS, newTransform func(geo.CRS, geo.CRS) (proj.Transformer, error)) ([]geom.Polygon, error) {
	tr, err := newTransform(src, dst)
	if err != nil {
		return nil, err
	}
	out := make([]geom.Polygon, len(polys))
	for i, p := range polys {
		g, err := p.Transform(tr)
		if err != nil {
			return nil, fmt.Errorf("crop: transform boundary polygon %d: %w", i, err)
		}
		out[i] = g.(geom.Polygon)
	}
	return out, nil
}

func (px *polyIndex) filter(pts []cloud.Point) []cloud.Point {
	var kept []cloud.Point
	for _, p := range pts {
		if px.contains(geom.Point{X: p.X, Y: p.Y}) {
			kept = append(kept, p)
		}
	}
	return kept
}

func (px *polyIndex) contains(pt geom.Point) bool {
	if px.tree != nil {
		q := geom.Bounds{Min: pt, Max: pt}
		for _, hit := range px.tree.SearchIntersect(&q) {
			e := hit.(*treeEntry)
			if polygonContains(px.polys[e.i], pt) {
				return true
			}
		}
		return false
	}
	for i, p := range px.polys {
		if boundsContain(px.boxes[i], pt) && polygonContains(p, pt) {
			return true
		}
	}
	return false
}

// polygonContains tests pt against one polygon: retained when on any ring
// outline, otherwise by even-odd crossings over all rings, which excludes
// hole interiors.
func polygonContains(poly geom.Polygon, pt geom.Point) bool {
	for _, ring := range poly {
		if onRing(ring, pt) {
			return true
		}
	}
	inside := false
	for _, ring := range poly {
		n := len(ring)
		for i, a := range ring {
			b := ring[(i+1)%n]
			if (a.Y > pt.Y) != (b.Y > pt.Y) {
				x := a.X + (pt.Y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
				if pt.X < x {
					inside = !inside
				}
			}
		}
	}
	return inside
}

func onRing(ring []geom.Point, pt geom.Point) bool {
	n := len(ring)
	for i, a := range ring {
		b := ring[(i+1)%n]
		if onSegment(a, b, pt) {
			return true
		}
	}
	return false
}

func onSegment(a, b, pt geom.Point) bool {
	cross := (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
	if cross != 0 {
		return false
	}
	return math.Min(a.X, b.X) <= pt.X && pt.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= pt.Y && pt.Y <= math.Max(a.Y, b.Y)
}

// paddedBounds covers every ring with a slim margin so a point exactly on the
// outline cannot miss its candidate on a strict bounds comparison.
func paddedBounds(p geom.Polygon) *geom.Bounds {
	b := &geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, ring := range p {
		for _, v := range ring {
			b.Min.X = math.Min(b.Min.X, v.X)
			b.Min.Y = math.Min(b.Min.Y, v.Y)
			b.Max.X = math.Max(b.Max.X, v.X)
			b.Max.Y = math.Max(b.Max.Y, v.Y)
		}
	}
	b.Min.X -= pad(b.Min.X)
	b.Min.Y -= pad(b.Min.Y)
	b.Max.X += pad(b.Max.X)
	b.Max.Y += pad(b.Max.Y)
	return b
}

func pad(v float64) float64 {
	return math.Abs(v)*1e-12 + 1e-12
}

func boundsContain(b *geom.Bounds, pt geom.Point) bool {
	return b.Min.X <= pt.X && pt.X <= b.Max.X && b.Min.Y <= pt.Y && pt.Y <= b.Max.Y
}
