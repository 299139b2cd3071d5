package derive

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

func testLayout(cols, rows int) raster.Layout {
	return raster.Layout{
		Cols:      cols,
		Rows:      rows,
		Transform: geo.GridTransform{CellSize: 1},
		CRS:       geo.WebMercator(),
	}
}

func rasterOf(l raster.Layout, values ...float64) *raster.Raster {
	r := raster.NewRaster(l)
	copy(r.Values, values)
	return r
}

func TestApply_UnknownOp(t *testing.T) {
	t.Parallel()

	l := testLayout(1, 1)
	_, err := Apply(rasterOf(l, 1), rasterOf(l, 2), Op("modulo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modulo")
}

func TestApply_ShapeMismatch(t *testing.T) {
	t.Parallel()

	base := rasterOf(testLayout(2, 2), 1, 2, 3, 4)

	t.Run("different dimensions", func(t *testing.T) {
		t.Parallel()
		_, err := Apply(base, rasterOf(testLayout(2, 3), 1, 2, 3, 4, 5, 6), Subtract)
		require.Error(t, err)
		assert.True(t, terrain.IsShapeMismatch(err))
	})

	t.Run("same dimensions, shifted transform", func(t *testing.T) {
		t.Parallel()
		l := testLayout(2, 2)
		l.Transform.OriginX = 0.5
		_, err := Apply(base, rasterOf(l, 1, 2, 3, 4), Subtract)
		require.Error(t, err)
		assert.True(t, terrain.IsShapeMismatch(err), "a shifted grid is not reconciled even at equal size")
	})

	t.Run("different CRS", func(t *testing.T) {
		t.Parallel()
		l := testLayout(2, 2)
		l.CRS = geo.LongLat()
		_, err := Apply(base, rasterOf(l, 1, 2, 3, 4), Subtract)
		require.Error(t, err)
		assert.True(t, terrain.IsShapeMismatch(err))
	})
}

func TestApply_SubtractStats(t *testing.T) {
	t.Parallel()

	l := testLayout(2, 2)
	surface := rasterOf(l, 11, 14, 18, 24)
	ground := rasterOf(l, 10, 12, 15, 20)

	res, err := Apply(surface, ground, Subtract)
	require.NoError(t, err)
	assert.Equal(t, Subtract, res.Op)
	assert.Equal(t, []float64{1, 2, 3, 4}, res.Raster.Values)

	assert.Equal(t, 1.0, res.Stats.Min)
	assert.Equal(t, 4.0, res.Stats.Max)
	assert.Equal(t, 2.5, res.Stats.Mean)
	assert.InDelta(t, math.Sqrt(5.0/3.0), res.Stats.StdDev, 1e-12)
	assert.Equal(t, 4, res.Stats.ValidCells)
	assert.Equal(t, 100.0, res.Stats.ValidPct)
}

func TestApply_NodataPropagates(t *testing.T) {
	t.Parallel()

	l := testLayout(3, 1)
	a := rasterOf(l, 10, math.NaN(), 30)
	b := rasterOf(l, 1, 2, math.NaN())

	res, err := Apply(a, b, Subtract)
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.Raster.At(0, 0))
	assert.True(t, res.Raster.IsNoData(res.Raster.At(1, 0)), "nodata in a propagates")
	assert.True(t, res.Raster.IsNoData(res.Raster.At(2, 0)), "nodata in b propagates")
	assert.Equal(t, 1, res.Stats.ValidCells)
	assert.InDelta(t, 100.0/3, res.Stats.ValidPct, 1e-12)
}

func TestApply_FiniteSentinelRespected(t *testing.T) {
	t.Parallel()

	l := testLayout(2, 1)
	a := rasterOf(l, 5, -9999)
	a.NoData = -9999
	b := rasterOf(l, 2, 2)

	res, err := Apply(a, b, Subtract)
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Raster.At(0, 0))
	assert.True(t, res.Raster.IsNoData(res.Raster.At(1, 0)), "sentinel cells are nodata, not values")
}

func TestApply_DivideByZero(t *testing.T) {
	t.Parallel()

	l := testLayout(3, 1)
	a := rasterOf(l, 10, 10, 10)
	b := rasterOf(l, 2, 0, 5)

	res, err := Apply(a, b, Divide)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Raster.At(0, 0))
	assert.True(t, res.Raster.IsNoData(res.Raster.At(1, 0)), "zero divisor yields nodata")
	assert.Equal(t, 2.0, res.Raster.At(2, 0))
}

func TestApply_AddMultiply(t *testing.T) {
	t.Parallel()

	l := testLayout(2, 1)
	a := rasterOf(l, 3, 4)
	b := rasterOf(l, 5, 6)

	sum, err := Apply(a, b, Add)
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 10}, sum.Raster.Values)

	prod, err := Apply(a, b, Multiply)
	require.NoError(t, err)
	assert.Equal(t, []float64{15, 24}, prod.Raster.Values)
}

func TestApply_NoValidCells(t *testing.T) {
	t.Parallel()

	l := testLayout(2, 1)
	res, err := Apply(raster.NewRaster(l), raster.NewRaster(l), Subtract)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.ValidCells)
	assert.Equal(t, 0.0, res.Stats.ValidPct)
	assert.True(t, math.IsNaN(res.Stats.Min))
	assert.True(t, math.IsNaN(res.Stats.Mean))
}
