package cloud

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overstory-data/canopy.report/internal/fsutil"
	"github.com/overstory-data/canopy.report/internal/geo"
)

func samplePoints() []Point {
	return []Point{
		{X: 100.25, Y: 200.5, Z: 31.125, Intensity: 180, Classification: 2, GPSTime: 315964800.5},
		{X: -17.0625, Y: 0, Z: -4.5, Intensity: 0, Classification: 5},
		{X: 0.1, Y: 0.2, Z: 0.3},
	}
}

func TestXYZ_RoundTrip(t *testing.T) {
	t.Parallel()

	pc := &PointCloud{CRS: geo.WebMercator(), Points: samplePoints()}

	var buf bytes.Buffer
	require.NoError(t, WriteXYZ(&buf, pc))

	back, err := ReadXYZ(&buf)
	require.NoError(t, err)

	assert.True(t, back.CRS.Equal(geo.WebMercator()), "CRS should survive via header")
	assert.Equal(t, pc.Points, back.Points, "points and attributes should round-trip in order")
}

func TestXYZ_RoundTrip_CustomProj4(t *testing.T) {
	t.Parallel()

	crs := geo.FromProj4("SURVEY:1", "+proj=merc +lon_0=-120 +datum=WGS84")
	pc := &PointCloud{CRS: crs, Points: samplePoints()[:1]}

	var buf bytes.Buffer
	require.NoError(t, WriteXYZ(&buf, pc))

	back, err := ReadXYZ(&buf)
	require.NoError(t, err)
	assert.Equal(t, crs.Code, back.CRS.Code)
	assert.Equal(t, crs.Proj4, back.CRS.Proj4)
}

func TestReadXYZ_FlexibleColumns(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# CRS EPSG:4326",
		"",
		"1.5 2.5 3.5",
		"4,5,6,120",
		"7 8 9 40 2",
	}, "\n")

	pc, err := ReadXYZ(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 3, pc.Len())

	assert.Equal(t, Point{X: 1.5, Y: 2.5, Z: 3.5}, pc.Points[0])
	assert.Equal(t, Point{X: 4, Y: 5, Z: 6, Intensity: 120}, pc.Points[1])
	assert.Equal(t, Point{X: 7, Y: 8, Z: 9, Intensity: 40, Classification: 2}, pc.Points[2])
	assert.True(t, pc.CRS.Equal(geo.LongLat()))
}

func TestReadXYZ_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "1 2\n"},
		{"bad coordinate", "a 2 3\n"},
		{"bad intensity", "1 2 3 -5\n"},
		{"bad classification", "1 2 3 10 300\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadXYZ(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestReadXYZ_UnknownCRSCodeKept(t *testing.T) {
	t.Parallel()

	pc, err := ReadXYZ(strings.NewReader("# CRS EPSG:32610\n1 2 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32610", pc.CRS.Code)
	assert.Empty(t, pc.CRS.Proj4, "unknown code carries no proj4")
}

func TestXYZFile_GzipRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemFS()
	pc := &PointCloud{CRS: geo.WebMercator(), Points: samplePoints()}

	require.NoError(t, WriteXYZFile(fsys, "/data/survey.xyz.gz", pc))

	raw, err := fsys.ReadFile("/data/survey.xyz.gz")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "canopy.report", "gz payload should be compressed")

	back, err := ReadXYZFile(fsys, "/data/survey.xyz.gz")
	require.NoError(t, err)
	assert.Equal(t, pc.Points, back.Points)
}

func TestXYZFile_PlainRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemFS()
	pc := &PointCloud{CRS: geo.LongLat(), Points: samplePoints()[:2]}

	require.NoError(t, WriteXYZFile(fsys, "/data/survey.xyz", pc))
	back, err := ReadXYZFile(fsys, "/data/survey.xyz")
	require.NoError(t, err)
	assert.Equal(t, pc.Points, back.Points)
	assert.True(t, back.CRS.Equal(geo.LongLat()))
}

func TestReadXYZFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadXYZFile(fsutil.NewMemFS(), "/missing.xyz")
	assert.Error(t, err)
}
