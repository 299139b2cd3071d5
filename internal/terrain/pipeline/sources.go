package pipeline

import (
	"context"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/fsutil"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

// CloudSource produces the point cloud a run derives from. Implementations
// are I/O collaborators; failures surface as UpstreamIOFailure.
type CloudSource interface {
	Read(ctx context.Context) (*cloud.PointCloud, error)
}

// RasterSource produces the reference terrain raster the derived product is
// computed against.
type RasterSource interface {
	Read(ctx context.Context) (*raster.Raster, error)
}

// SurfaceModeler derives an elevation raster from a point cloud. The
// in-module surface.Modeler satisfies this; an external derivation service
// can replace it at this seam.
type SurfaceModeler interface {
	Model(ctx context.Context, pc *cloud.PointCloud, cellSize float64) (*raster.Raster, error)
}

// FileCloudSource reads an XYZ text point cloud through the filesystem seam.
// CRS fills in for files whose header carries no crs line; a header CRS wins
// over it.
type FileCloudSource struct {
	FS   fsutil.FileSystem
	Path string
	CRS  geo.CRS
}

// Read loads the cloud, honoring context cancellation before the read.
func (s FileCloudSource) Read(ctx context.Context) (*cloud.PointCloud, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := cloud.ReadXYZFile(s.fs(), s.Path)
	if err != nil {
		return nil, terrain.NewUpstreamIO("read point cloud "+s.Path, err)
	}
	if pc.CRS.IsZero() {
		pc.CRS = s.CRS
	}
	return pc, nil
}

func (s FileCloudSource) fs() fsutil.FileSystem {
	if s.FS != nil {
		return s.FS
	}
	return fsutil.OSFileSystem{}
}

// FileRasterSource reads an ESRI ASCII grid through the filesystem seam. CRS
// rides as a side channel because the format does not carry one.
type FileRasterSource struct {
	FS   fsutil.FileSystem
	Path string
	CRS  geo.CRS
}

// Read loads the raster, honoring context cancellation before the read.
func (s FileRasterSource) Read(ctx context.Context) (*raster.Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fsys := s.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	f, err := fsys.Open(s.Path)
	if err != nil {
		return nil, terrain.NewUpstreamIO("open raster "+s.Path, err)
	}
	defer f.Close()
	r, err := raster.ReadASC(f, s.CRS)
	if err != nil {
		return nil, terrain.NewUpstreamIO("read raster "+s.Path, err)
	}
	return r, nil
}
