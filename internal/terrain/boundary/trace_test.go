package boundary

import (
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
)

// maskFrom builds a mask from rows listed north to south, 'X' marking valid
// cells, on a unit grid with origin (0,0).
func maskFrom(rows ...string) *raster.Mask {
	h := len(rows)
	w := len(rows[0])
	m := raster.NewMask(raster.Layout{
		Cols:      w,
		Rows:      h,
		Transform: geo.GridTransform{CellSize: 1},
		CRS:       geo.WebMercator(),
	})
	for i, line := range rows {
		row := h - 1 - i
		for col, ch := range line {
			if ch == 'X' {
				m.Valid[m.Idx(col, row)] = true
			}
		}
	}
	return m
}

func TestExtract_AllFalse(t *testing.T) {
	t.Parallel()

	b, err := Extract(maskFrom("...", "..."))
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Equal(t, geo.WebMercator(), b.CRS)
}

func TestExtract_EmptyMask(t *testing.T) {
	t.Parallel()

	m := raster.NewMask(raster.Layout{Transform: geo.GridTransform{CellSize: 1}})
	b, err := Extract(m)
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestExtract_AllTrueCoversExtent(t *testing.T) {
	t.Parallel()

	m := raster.NewMask(raster.Layout{
		Cols:      3,
		Rows:      2,
		Transform: geo.GridTransform{OriginX: 100, OriginY: 200, CellSize: 2},
		CRS:       geo.WebMercator(),
	})
	for i := range m.Valid {
		m.Valid[i] = true
	}

	b, err := Extract(m)
	require.NoError(t, err)
	require.Len(t, b.Polygons, 1)
	require.Len(t, b.Polygons[0], 1)
	assert.Equal(t, geom.Path{
		{X: 100, Y: 200},
		{X: 106, Y: 200},
		{X: 106, Y: 204},
		{X: 100, Y: 204},
	}, b.Polygons[0][0], "outer ring starts at the origin corner and winds CCW")
}

func TestExtract_SingleCell(t *testing.T) {
	t.Parallel()

	b, err := Extract(maskFrom(
		"...",
		".X.",
		"...",
	))
	require.NoError(t, err)
	require.Len(t, b.Polygons, 1)
	s := StatsFor(b.Polygons[0])
	assert.Equal(t, PolygonStats{Rings: 1, Vertices: 4, Perimeter: 4, Area: 1}, s)
}

func TestExtract_BlockPerimeter(t *testing.T) {
	t.Parallel()

	// 40x40 valid block inside a 100x100 mask.
	m := raster.NewMask(raster.Layout{
		Cols:      100,
		Rows:      100,
		Transform: geo.GridTransform{CellSize: 1},
		CRS:       geo.WebMercator(),
	})
	for row := 30; row < 70; row++ {
		for col := 20; col < 60; col++ {
			m.Valid[m.Idx(col, row)] = true
		}
	}

	b, err := Extract(m)
	require.NoError(t, err)
	require.Len(t, b.Polygons, 1)
	s := StatsFor(b.Polygons[0])
	assert.Equal(t, 1, s.Rings)
	assert.Equal(t, 4, s.Vertices, "collinear cell corners merge away")
	assert.Equal(t, 160.0, s.Perimeter)
	assert.Equal(t, 1600.0, s.Area)
}

func TestExtract_HoleWindsClockwise(t *testing.T) {
	t.Parallel()

	b, err := Extract(maskFrom(
		"XXX",
		"X.X",
		"XXX",
	))
	require.NoError(t, err)
	require.Len(t, b.Polygons, 1)
	p := b.Polygons[0]
	require.Len(t, p, 2)

	assert.Positive(t, ringArea(p[0]), "outer ring CCW")
	assert.Negative(t, ringArea(p[1]), "hole CW")
	assert.Equal(t, 9.0, ringArea(p[0]))
	assert.Equal(t, -1.0, ringArea(p[1]))

	s := StatsFor(p)
	assert.Equal(t, 8.0, s.Area, "hole subtracts from the enclosed area")
	assert.Equal(t, 16.0, s.Perimeter, "perimeter counts hole rings too")
}

func TestExtract_SeparateRegions(t *testing.T) {
	t.Parallel()

	b, err := Extract(maskFrom("X.X"))
	require.NoError(t, err)
	require.Len(t, b.Polygons, 2)
	for _, p := range b.Polygons {
		assert.Equal(t, 1.0, StatsFor(p).Area)
	}
}

func TestExtract_PinchCornerStaysOneLoop(t *testing.T) {
	t.Parallel()

	// Two lobes of one region meet at a single corner; the diagonal invalid
	// cells connect through that corner to the outside, so no hole forms and
	// the walk takes the sharpest left turn to keep the ring simple.
	b, err := Extract(maskFrom(
		"..XX",
		".X.X",
		".XXX",
	))
	require.NoError(t, err)
	require.Len(t, b.Polygons, 1)
	s := StatsFor(b.Polygons[0])
	assert.Equal(t, 1, s.Rings)
	assert.Equal(t, 10, s.Vertices)
	assert.Equal(t, 7.0, s.Area, "area equals the cell count")
	assert.Equal(t, 16.0, s.Perimeter)
}

func TestExtract_RegionNestedInHole(t *testing.T) {
	t.Parallel()

	b, err := Extract(maskFrom(
		"XXXXX",
		"X...X",
		"X.X.X",
		"X...X",
		"XXXXX",
	))
	require.NoError(t, err)
	require.Len(t, b.Polygons, 2)

	border := StatsFor(b.Polygons[0])
	assert.Equal(t, 2, border.Rings)
	assert.Equal(t, 16.0, border.Area)

	island := StatsFor(b.Polygons[1])
	assert.Equal(t, 1, island.Rings)
	assert.Equal(t, 1.0, island.Area)
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()

	m := maskFrom(
		"XX..X",
		"X.X.X",
		"XXXXX",
	)
	first, err := Extract(m)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Extract(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
