// Package mask derives validity masks from density count grids. A cell is
// valid when enough returns landed in it; everything below the threshold is
// treated as a sensing artifact.
package mask

import (
	"github.com/overstory-data/canopy.report/internal/raster"
)

// Builder thresholds a count grid into a validity mask.
type Builder struct {
	// MinCount is the minimum per-cell point count for a cell to be valid.
	// Zero marks every cell valid.
	MinCount uint32
}

// Coverage summarizes a built mask. ValidPct and ArtifactPct always sum to
// 100.
type Coverage struct {
	TotalCells    int     `json:"total_cells"`
	ValidCells    int     `json:"valid_cells"`
	ArtifactCells int     `json:"artifact_cells"`
	ValidPct      float64 `json:"valid_pct"`
	ArtifactPct   float64 `json:"artifact_pct"`
}

// New returns a Builder with the given minimum count.
func New(minCount uint32) Builder {
	return Builder{MinCount: minCount}
}

// CoverageOf recomputes coverage statistics from an existing mask, such as
// one decoded from the artifact store.
func CoverageOf(m *raster.Mask) Coverage {
	cov := Coverage{
		TotalCells: m.NumCells(),
		ValidCells: m.CountValid(),
	}
	cov.ArtifactCells = cov.TotalCells - cov.ValidCells
	if cov.TotalCells > 0 {
		cov.ValidPct = 100 * float64(cov.ValidCells) / float64(cov.TotalCells)
	}
	cov.ArtifactPct = 100 - cov.ValidPct
	return cov
}

// Build marks each cell valid when its count reaches the threshold and
// reports coverage statistics. Pure function of the grid and the threshold.
// An empty grid yields an empty mask with 0% valid.
func (b Builder) Build(grid *raster.CountGrid) (*raster.Mask, Coverage) {
	m := raster.NewMask(grid.Layout)
	valid := 0
	for i, c := range grid.Counts {
		if c >= b.MinCount {
			m.Valid[i] = true
			valid++
		}
	}

	cov := Coverage{
		TotalCells:    grid.NumCells(),
		ValidCells:    valid,
		ArtifactCells: grid.NumCells() - valid,
	}
	if cov.TotalCells > 0 {
		cov.ValidPct = 100 * float64(valid) / float64(cov.TotalCells)
	}
	cov.ArtifactPct = 100 - cov.ValidPct
	return m, cov
}
