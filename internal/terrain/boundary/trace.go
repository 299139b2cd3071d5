package boundary

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/overstory-data/canopy.report/internal/raster"
)

// Directions index so that (d+1)%4 is a left turn.
const (
	dirE = iota
	dirN
	dirW
	dirS
)

// corner addresses a cell-corner vertex; cell (c,r) has corners (c,r) through
// (c+1,r+1).
type corner struct{ c, r int }

var dirVec = [4]corner{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

func (v corner) add(d int) corner {
	return corner{v.c + dirVec[d].c, v.r + dirVec[d].r}
}

func left(d int) int  { return (d + 1) % 4 }
func right(d int) int { return (d + 3) % 4 }
func back(d int) int  { return (d + 2) % 4 }

// Extract traces the valid area of m into one polygon per 4-connected region,
// holes as inner rings. An all-false mask yields an empty boundary, not an
// error. Output is deterministic for a given mask.
func Extract(m *raster.Mask) (*Boundary, error) {
	b := &Boundary{CRS: m.CRS}
	if m.NumCells() == 0 {
		return b, nil
	}

	labeled := make([]bool, m.NumCells())
	cells := make([]int, 0, 256)
	for start, valid := range m.Valid {
		if !valid || labeled[start] {
			continue
		}
		// Breadth-first gather of the 4-connected region containing start.
		// cells doubles as the queue; everything visited stays in it.
		cells = append(cells[:0], start)
		labeled[start] = true
		for head := 0; head < len(cells); head++ {
			col, row := cells[head]%m.Cols, cells[head]/m.Cols
			for _, d := range dirVec {
				nc, nr := col+d.c, row+d.r
				if !m.InBounds(nc, nr) {
					continue
				}
				n := m.Idx(nc, nr)
				if m.Valid[n] && !labeled[n] {
					labeled[n] = true
					cells = append(cells, n)
				}
			}
		}
		poly, err := traceRegion(m, cells)
		if err != nil {
			return nil, err
		}
		b.Polygons = append(b.Polygons, poly)
	}
	return b, nil
}

type segment struct {
	v   corner
	dir int
}

// tracer holds the directed cell-edge segments of one region. Every edge of a
// valid cell whose 4-neighbor is invalid or off grid becomes one segment,
// directed so the region interior stays on the left. Each (corner,direction)
// pair occurs at most once, so adjacency is a per-direction index.
type tracer struct {
	segs     []segment
	consumed []bool
	adj      map[corner][4]int32 // segment index + 1 per direction, 0 = none
}

func (t *tracer) addSegment(v corner, d int) {
	t.segs = append(t.segs, segment{v, d})
	t.consumed = append(t.consumed, false)
	a := t.adj[v]
	a[d] = int32(len(t.segs))
	t.adj[v] = a
}

func (t *tracer) has(v corner, d int) bool {
	a := t.adj[v]
	return a[d] != 0 && !t.consumed[a[d]-1]
}

func (t *tracer) consume(v corner, d int) {
	t.consumed[t.adj[v][d]-1] = true
}

func traceRegion(m *raster.Mask, cells []int) (geom.Polygon, error) {
	t := tracer{adj: make(map[corner][4]int32)}
	for _, idx := range cells {
		col, row := idx%m.Cols, idx/m.Cols
		if !validAt(m, col, row-1) {
			t.addSegment(corner{col, row}, dirE) // south side, interior above
		}
		if !validAt(m, col+1, row) {
			t.addSegment(corner{col + 1, row}, dirN) // east side
		}
		if !validAt(m, col, row+1) {
			t.addSegment(corner{col + 1, row + 1}, dirW) // north side
		}
		if !validAt(m, col-1, row) {
			t.addSegment(corner{col, row + 1}, dirS) // west side
		}
	}

	// Interior-on-left makes the outer ring counter-clockwise and holes
	// clockwise; signed area confirms the role.
	var outer []corner
	var holes [][]corner
	for si := range t.segs {
		if t.consumed[si] {
			continue
		}
		ring, err := t.walk(si)
		if err != nil {
			return nil, err
		}
		ring = mergeCollinear(ring)
		if areaTwice(ring) > 0 {
			if outer != nil {
				return nil, fmt.Errorf("region traced a second outer ring at corner (%d,%d)", ring[0].c, ring[0].r)
			}
			outer = ring
		} else {
			holes = append(holes, ring)
		}
	}
	if outer == nil {
		return nil, fmt.Errorf("region of %d cells traced no outer ring", len(cells))
	}

	poly := make(geom.Polygon, 0, 1+len(holes))
	poly = append(poly, toWorld(m, outer))
	for _, h := range holes {
		poly = append(poly, toWorld(m, h))
	}
	return poly, nil
}

// walk links segments into one closed loop starting from seed. At a pinch
// corner, where two diagonal cells of the region meet, the sharpest left turn
// keeps each loop simple.
func (t *tracer) walk(seed int) ([]corner, error) {
	v0, d0 := t.segs[seed].v, t.segs[seed].dir
	t.consume(v0, d0)
	ring := []corner{v0}
	v, d := v0.add(d0), d0
	for {
		next := -1
		for _, p := range [4]int{left(d), d, right(d), back(d)} {
			if v == v0 && p == d0 {
				return ring, nil
			}
			if t.has(v, p) {
				next = p
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("boundary trace stalled at corner (%d,%d)", v.c, v.r)
		}
		t.consume(v, next)
		ring = append(ring, v)
		v, d = v.add(next), next
	}
}

// mergeCollinear drops ring vertices that continue straight, so vertex count
// scales with direction changes rather than cell count.
func mergeCollinear(ring []corner) []corner {
	n := len(ring)
	out := make([]corner, 0, n)
	for i := 0; i < n; i++ {
		prev, cur, next := ring[(i-1+n)%n], ring[i], ring[(i+1)%n]
		in := corner{cur.c - prev.c, cur.r - prev.r}
		outd := corner{next.c - cur.c, next.r - cur.r}
		if in != outd {
			out = append(out, cur)
		}
	}
	return out
}

// areaTwice returns twice the signed shoelace area in corner units, positive
// for counter-clockwise.
func areaTwice(ring []corner) int64 {
	var s int64
	for i, v := range ring {
		w := ring[(i+1)%len(ring)]
		s += int64(v.c)*int64(w.r) - int64(w.c)*int64(v.r)
	}
	return s
}

func toWorld(m *raster.Mask, ring []corner) []geom.Point {
	pts := make([]geom.Point, len(ring))
	for i, v := range ring {
		x, y := m.Transform.CellOrigin(v.c, v.r)
		pts[i] = geom.Point{X: x, Y: y}
	}
	return pts
}

func validAt(m *raster.Mask, col, row int) bool {
	return m.InBounds(col, row) && m.Valid[m.Idx(col, row)]
}
