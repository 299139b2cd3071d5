package cloud

import (
	"testing"

	"github.com/overstory-data/canopy.report/internal/geo"
)

func TestPointCloud_Bounds(t *testing.T) {
	pc := &PointCloud{
		CRS: geo.WebMercator(),
		Points: []Point{
			{X: 10, Y: 5, Z: 100},
			{X: -3, Y: 8, Z: 90},
			{X: 7, Y: -2, Z: 110},
		},
	}

	b := pc.Bounds()
	if b == nil {
		t.Fatal("expected bounds for non-empty cloud")
	}
	if b.Min.X != -3 || b.Min.Y != -2 || b.Max.X != 10 || b.Max.Y != 8 {
		t.Errorf("bounds = %+v, want min(-3,-2) max(10,8)", b)
	}
}

func TestPointCloud_Bounds_Empty(t *testing.T) {
	pc := &PointCloud{}
	if pc.Bounds() != nil {
		t.Error("empty cloud should have nil bounds")
	}
	if pc.Len() != 0 {
		t.Error("empty cloud should have zero length")
	}
}

func TestPointCloud_Bounds_SinglePoint(t *testing.T) {
	pc := &PointCloud{Points: []Point{{X: 4, Y: 9}}}
	b := pc.Bounds()
	if b.Min.X != 4 || b.Max.X != 4 || b.Min.Y != 9 || b.Max.Y != 9 {
		t.Errorf("single point bounds = %+v", b)
	}
}

func TestPointCloud_ZRange(t *testing.T) {
	pc := &PointCloud{Points: []Point{{Z: 12}, {Z: -3}, {Z: 7}}}
	minZ, maxZ := pc.ZRange()
	if minZ != -3 || maxZ != 12 {
		t.Errorf("ZRange = (%v,%v), want (-3,12)", minZ, maxZ)
	}

	empty := &PointCloud{}
	minZ, maxZ = empty.ZRange()
	if minZ != 0 || maxZ != 0 {
		t.Errorf("empty ZRange = (%v,%v), want (0,0)", minZ, maxZ)
	}
}
