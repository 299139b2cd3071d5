package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
)

func TestGridCloud(t *testing.T) {
	pc := GridCloud(3, 4, 10)

	if pc.Len() != 3*3*4 {
		t.Errorf("GridCloud(3, 4) has %d points, want 36", pc.Len())
	}
	for _, p := range pc.Points {
		if p.Z != 10 {
			t.Fatalf("point elevation = %f, want 10", p.Z)
		}
		if p.X < 0 || p.X >= 3 || p.Y < 0 || p.Y >= 3 {
			t.Fatalf("point (%f, %f) outside 3x3 extent", p.X, p.Y)
		}
	}
}

func TestUniformRaster(t *testing.T) {
	r := UniformRaster(4, 2.5)

	if r.Cols != 4 || r.Rows != 4 {
		t.Errorf("raster shape %dx%d, want 4x4", r.Cols, r.Rows)
	}
	for i, v := range r.Values {
		if v != 2.5 {
			t.Fatalf("cell %d = %f, want 2.5", i, v)
		}
	}
	if !r.CRS.Equal(geo.WebMercator()) {
		t.Errorf("raster CRS = %v", r.CRS)
	}
}

func TestWriteFixtureFiles(t *testing.T) {
	dir := t.TempDir()

	cloudPath := WriteCloudFile(t, dir, "pts.xyz", GridCloud(2, 1, 5))
	data, err := os.ReadFile(cloudPath)
	AssertNoError(t, err)
	if !strings.Contains(string(data), "5") {
		t.Error("cloud file missing elevation column")
	}
	back, err := cloud.ReadXYZ(strings.NewReader(string(data)))
	AssertNoError(t, err)
	if back.Len() != 4 {
		t.Errorf("round-trip cloud has %d points, want 4", back.Len())
	}

	rasterPath := WriteRasterFile(t, dir, "ref.asc", UniformRaster(2, 1))
	rdata, err := os.ReadFile(rasterPath)
	AssertNoError(t, err)
	rb, err := raster.ReadASC(strings.NewReader(string(rdata)), geo.WebMercator())
	AssertNoError(t, err)
	if rb.Cols != 2 || rb.Rows != 2 {
		t.Errorf("round-trip raster shape %dx%d, want 2x2", rb.Cols, rb.Rows)
	}
}
