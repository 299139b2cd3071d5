package density

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

// testCloud builds a deterministic cloud scattered over a 100x100 extent.
func testCloud(n int) *cloud.PointCloud {
	pts := make([]cloud.Point, n)
	for i := range pts {
		pts[i] = cloud.Point{
			X: math.Mod(float64(i)*12.9898, 100),
			Y: math.Mod(float64(i)*78.233, 100),
			Z: 5,
		}
	}
	return &cloud.PointCloud{CRS: geo.WebMercator(), Points: pts}
}

func TestRasterize_InvalidResolution(t *testing.T) {
	t.Parallel()

	for _, cellSize := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := New(cellSize).Rasterize(testCloud(10))
		require.Error(t, err)
		assert.True(t, terrain.IsInvalidResolution(err), "cell size %v should classify as invalid resolution", cellSize)
	}
}

func TestRasterize_EmptyCloud(t *testing.T) {
	t.Parallel()

	pc := &cloud.PointCloud{CRS: geo.WebMercator()}
	grid, err := New(1.0).Rasterize(pc)
	require.NoError(t, err)
	assert.Equal(t, 0, grid.Cols)
	assert.Equal(t, 0, grid.Rows)
	assert.Equal(t, uint64(0), grid.Total())
	assert.Equal(t, geo.WebMercator(), grid.CRS)
}

func TestRasterize_SnapsOrigin(t *testing.T) {
	t.Parallel()

	pc := &cloud.PointCloud{
		CRS: geo.WebMercator(),
		Points: []cloud.Point{
			{X: 3.7, Y: -2.3},
			{X: 5.1, Y: 0.4},
		},
	}
	grid, err := New(1.0).Rasterize(pc)
	require.NoError(t, err)
	assert.Equal(t, 3.0, grid.Transform.OriginX)
	assert.Equal(t, -3.0, grid.Transform.OriginY)
	assert.Equal(t, 3, grid.Cols)
	assert.Equal(t, 4, grid.Rows)
	assert.Equal(t, uint64(2), grid.Total())
}

func TestRasterize_HalfOpenMembership(t *testing.T) {
	t.Parallel()

	// A point exactly on a shared edge belongs to the higher cell only.
	pc := &cloud.PointCloud{
		CRS: geo.WebMercator(),
		Points: []cloud.Point{
			{X: 0, Y: 0},
			{X: 10, Y: 0},
			{X: 20, Y: 0},
		},
	}
	grid, err := New(10.0).Rasterize(pc)
	require.NoError(t, err)
	require.Equal(t, 3, grid.Cols)
	require.Equal(t, 1, grid.Rows)
	assert.Equal(t, uint32(1), grid.At(0, 0))
	assert.Equal(t, uint32(1), grid.At(1, 0))
	assert.Equal(t, uint32(1), grid.At(2, 0))
}

func TestRasterize_TotalPreserved(t *testing.T) {
	t.Parallel()

	const n = 5000
	grid, err := New(2.5).Rasterize(testCloud(n))
	require.NoError(t, err)
	assert.Equal(t, uint64(n), grid.Total(), "every point lands in exactly one cell")
}

func TestRasterize_WorkerCountInvariant(t *testing.T) {
	t.Parallel()

	pc := testCloud(10000)
	base, err := Rasterizer{CellSize: 3.0, Workers: 1}.Rasterize(pc)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 8, 64} {
		grid, err := Rasterizer{CellSize: 3.0, Workers: workers}.Rasterize(pc)
		require.NoError(t, err)
		assert.Equal(t, base.Counts, grid.Counts, "workers=%d must match the sequential result", workers)
	}
}

func TestRasterize_OrderIndependent(t *testing.T) {
	t.Parallel()

	pc := testCloud(5000)
	base, err := New(2.0).Rasterize(pc)
	require.NoError(t, err)

	shuffled := &cloud.PointCloud{CRS: pc.CRS, Points: make([]cloud.Point, len(pc.Points))}
	copy(shuffled.Points, pc.Points)
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled.Points), func(i, j int) {
		shuffled.Points[i], shuffled.Points[j] = shuffled.Points[j], shuffled.Points[i]
	})

	grid, err := New(2.0).Rasterize(shuffled)
	require.NoError(t, err)
	if diff := cmp.Diff(base, grid); diff != "" {
		t.Errorf("permuted input changed the grid (-base +shuffled):\n%s", diff)
	}
}

func TestRasterize_SinglePointNegativeCoords(t *testing.T) {
	t.Parallel()

	pc := &cloud.PointCloud{
		CRS:    geo.WebMercator(),
		Points: []cloud.Point{{X: -7.2, Y: -0.1}},
	}
	grid, err := New(5.0).Rasterize(pc)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.Cols)
	assert.Equal(t, 1, grid.Rows)
	assert.Equal(t, -10.0, grid.Transform.OriginX)
	assert.Equal(t, -5.0, grid.Transform.OriginY)
	assert.Equal(t, uint32(1), grid.At(0, 0))
}

func TestLayoutFor_CoversMaxCorner(t *testing.T) {
	t.Parallel()

	pc := &cloud.PointCloud{
		CRS: geo.WebMercator(),
		Points: []cloud.Point{
			{X: 0, Y: 0},
			{X: 99.999, Y: 99.999},
		},
	}
	layout, err := LayoutFor(pc, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 100, layout.Cols)
	assert.Equal(t, 100, layout.Rows)

	col, row := layout.Transform.Cell(99.999, 99.999)
	assert.True(t, layout.InBounds(col, row))
}
