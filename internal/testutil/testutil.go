// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic clouds and rasters that tests
// across the pipeline construct, to reduce duplication in test files.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GridCloud builds a cells x cells point cloud with perCell points placed
// inside each unit cell, all at elevation z. Useful for exercising the
// pipeline with predictable density and coverage.
func GridCloud(cells, perCell int, z float64) *cloud.PointCloud {
	pc := &cloud.PointCloud{CRS: geo.WebMercator()}
	for row := 0; row < cells; row++ {
		for col := 0; col < cells; col++ {
			for i := 0; i < perCell; i++ {
				frac := (float64(i) + 0.5) / float64(perCell)
				pc.Points = append(pc.Points, cloud.Point{
					X: float64(col) + frac,
					Y: float64(row) + 0.5,
					Z: z,
				})
			}
		}
	}
	return pc
}

// UniformRaster builds a cells x cells raster at the origin with every cell
// set to value.
func UniformRaster(cells int, value float64) *raster.Raster {
	r := raster.NewRaster(raster.Layout{
		Cols:      cells,
		Rows:      cells,
		Transform: geo.GridTransform{CellSize: 1},
		CRS:       geo.WebMercator(),
	})
	for i := range r.Values {
		r.Values[i] = value
	}
	return r
}

// WriteCloudFile writes pc as an XYZ file under dir and returns the path.
func WriteCloudFile(t *testing.T, dir, name string, pc *cloud.PointCloud) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	AssertNoError(t, err)
	defer f.Close()
	AssertNoError(t, cloud.WriteXYZ(f, pc))
	return path
}

// WriteRasterFile writes r as an ASC file under dir and returns the path.
func WriteRasterFile(t *testing.T, dir, name string, r *raster.Raster) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	AssertNoError(t, err)
	defer f.Close()
	AssertNoError(t, raster.WriteASC(f, r))
	return path
}
