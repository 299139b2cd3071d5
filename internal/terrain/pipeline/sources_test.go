package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/fsutil"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

func TestFileCloudSourceRoundTrip(t *testing.T) {
	fs := fsutil.NewMemFS()
	pc := &cloud.PointCloud{
		CRS: geo.WebMercator(),
		Points: []cloud.Point{
			{X: 1.5, Y: 2.5, Z: 10, Intensity: 42, Classification: 2},
			{X: 3.25, Y: 4.75, Z: 12.5},
		},
	}
	require.NoError(t, cloud.WriteXYZFile(fs, "clouds/parcel.xyz", pc))

	src := FileCloudSource{FS: fs, Path: "clouds/parcel.xyz"}
	got, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, got.CRS.Equal(pc.CRS))
	require.Len(t, got.Points, 2)
	assert.Equal(t, pc.Points[0], got.Points[0])
}

func TestFileCloudSourceCRSFallback(t *testing.T) {
	fs := fsutil.NewMemFS()
	headerless := []byte("1.5 2.5 10\n3.25 4.75 12.5\n")
	require.NoError(t, fs.WriteFile("clouds/bare.xyz", headerless, 0o644))

	src := FileCloudSource{FS: fs, Path: "clouds/bare.xyz", CRS: geo.WebMercator()}
	got, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, got.CRS.Equal(geo.WebMercator()))

	// A header CRS wins over the source's fallback.
	withHeader := &cloud.PointCloud{CRS: geo.LongLat(), Points: []cloud.Point{{X: 1, Y: 2, Z: 3}}}
	require.NoError(t, cloud.WriteXYZFile(fs, "clouds/tagged.xyz", withHeader))
	src = FileCloudSource{FS: fs, Path: "clouds/tagged.xyz", CRS: geo.WebMercator()}
	got, err = src.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, got.CRS.Equal(geo.LongLat()))
}

func TestFileCloudSourceMissingFile(t *testing.T) {
	src := FileCloudSource{FS: fsutil.NewMemFS(), Path: "absent.xyz"}
	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, terrain.IsUpstreamIO(err))
}

func TestFileRasterSourceRoundTrip(t *testing.T) {
	fs := fsutil.NewMemFS()
	r := raster.NewRaster(raster.Layout{
		Cols:      2,
		Rows:      2,
		Transform: geo.GridTransform{CellSize: 1},
		CRS:       geo.WebMercator(),
	})
	for i := range r.Values {
		r.Values[i] = float64(i)
	}
	var buf bytes.Buffer
	require.NoError(t, raster.WriteASC(&buf, r))
	require.NoError(t, fs.WriteFile("ref/terrain.asc", buf.Bytes(), 0o644))

	src := FileRasterSource{FS: fs, Path: "ref/terrain.asc", CRS: geo.WebMercator()}
	got, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.Layout.Cols, got.Cols)
	assert.Equal(t, r.Layout.Rows, got.Rows)
	assert.Equal(t, r.Values, got.Values)
	assert.True(t, got.CRS.Equal(geo.WebMercator()))
}

func TestFileRasterSourceMissingFile(t *testing.T) {
	src := FileRasterSource{FS: fsutil.NewMemFS(), Path: "absent.asc"}
	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, terrain.IsUpstreamIO(err))
}

func TestFileSourcesHonorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FileCloudSource{FS: fsutil.NewMemFS(), Path: "x"}.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = FileRasterSource{FS: fsutil.NewMemFS(), Path: "x"}.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
