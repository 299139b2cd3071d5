// Package align reconciles rasters onto a common reference layout. The
// general path reprojects and resamples per reference cell; copying a pixel
// window is only a fast path behind explicit alignment checks, never an
// assumption.
package align

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
)

// Method selects how source values are sampled.
type Method string

const (
	// Bilinear interpolates the four surrounding source cells. For
	// continuous data such as elevation.
	Bilinear Method = "bilinear"
	// Nearest copies the covering source cell. For categorical data.
	Nearest Method = "nearest"
)

func (m Method) valid() bool { return m == Bilinear || m == Nearest }

// Reconciler resamples rasters onto reference layouts.
type Reconciler struct {
	// Workers caps the number of sampling goroutines. Zero means
	// runtime.NumCPU().
	Workers int
	// Tolerance is the relative cell-size and cell-fraction tolerance for
	// the aligned-window fast path. Zero means 1e-9.
	Tolerance float64
}

func (rc Reconciler) workers() int {
	if rc.Workers > 0 {
		return rc.Workers
	}
	return runtime.NumCPU()
}

func (rc Reconciler) tol() float64 {
	if rc.Tolerance > 0 {
		return rc.Tolerance
	}
	return 1e-9
}

// Reconcile resamples src onto ref's exact transform, CRS, and dimensions.
// The result uses the NaN nodata convention regardless of the source
// sentinel. Reference cells with no valid source support become nodata;
// a source sharing no spatial overlap with the reference fails with
// IncompatibleExtent instead of silently producing an all-nodata raster.
func (rc Reconciler) Reconcile(src *raster.Raster, ref raster.Layout, method Method) (*raster.Raster, error) {
	if !method.valid() {
		return nil, fmt.Errorf("align: unknown resampling method %q", method)
	}
	if err := checkCellSize(src.Transform.CellSize); err != nil {
		return nil, err
	}
	if err := checkCellSize(ref.Transform.CellSize); err != nil {
		return nil, err
	}
	out := raster.NewRaster(ref)
	if ref.NumCells() == 0 {
		return out, nil
	}
	if err := checkOverlap(src, ref); err != nil {
		return nil, err
	}
	if rc.windowCopy(out, src, ref) {
		return out, nil
	}
	return out, rc.resample(out, src, ref, method)
}

// ReconcileAll reconciles each source onto ref, preserving input order.
func (rc Reconciler) ReconcileAll(srcs []*raster.Raster, ref raster.Layout, method Method) ([]*raster.Raster, error) {
	outs := make([]*raster.Raster, len(srcs))
	for i, src := range srcs {
		r, err := rc.Reconcile(src, ref, method)
		if err != nil {
			return nil, fmt.Errorf("align: source %d: %w", i, err)
		}
		outs[i] = r
	}
	return outs, nil
}

func checkCellSize(s float64) error {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return terrain.NewInvalidResolution(s)
	}
	return nil
}

// checkOverlap transforms the reference corners into the source CRS and
// requires a positive-area intersection with the source extent.
func checkOverlap(src *raster.Raster, ref raster.Layout) error {
	refBounds := ref.Bounds()
	srcBounds := src.Bounds()
	if src.CRS.Equal(ref.CRS) {
		if !strictOverlaps(refBounds, srcBounds) {
			return terrain.NewIncompatibleExtent(fmt.Sprintf(
				"reference extent %v shares no area with source extent %v", refBounds, srcBounds))
		}
		return nil
	}

	tr, err := geo.NewTransform(ref.CRS, src.CRS)
	if err != nil {
		return err
	}
	corners := [4][2]float64{
		{refBounds.Min.X, refBounds.Min.Y},
		{refBounds.Max.X, refBounds.Min.Y},
		{refBounds.Max.X, refBounds.Max.Y},
		{refBounds.Min.X, refBounds.Max.Y},
	}
	proj := geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, c := range corners {
		x, y, err := tr(c[0], c[1])
		if err != nil {
			return fmt.Errorf("align: transform reference corner (%v,%v): %w", c[0], c[1], err)
		}
		proj.Min.X = math.Min(proj.Min.X, x)
		proj.Min.Y = math.Min(proj.Min.Y, y)
		proj.Max.X = math.Max(proj.Max.X, x)
		proj.Max.Y = math.Max(proj.Max.Y, y)
	}
	if !strictOverlaps(&proj, srcBounds) {
		return terrain.NewIncompatibleExtent(fmt.Sprintf(
			"reference extent projects to %v, outside source extent %v", &proj, srcBounds))
	}
	return nil
}

func strictOverlaps(a, b *geom.Bounds) bool {
	return a.Min.X < b.Max.X && a.Max.X > b.Min.X &&
		a.Min.Y < b.Max.Y && a.Max.Y > b.Min.Y
}

// windowCopy copies a pixel window when the grids verifiably align: equal
// CRS, equal cell size within tolerance, and a whole-cell origin offset.
// Reports whether it ran.
func (rc Reconciler) windowCopy(out, src *raster.Raster, ref raster.Layout) bool {
	if !src.CRS.Equal(ref.CRS) {
		return false
	}
	colOff, rowOff, ok := src.Transform.AlignedOffset(ref.Transform, rc.tol())
	if !ok {
		return false
	}
	for row := 0; row < ref.Rows; row++ {
		sr := row + rowOff
		for col := 0; col < ref.Cols; col++ {
			sc := col + colOff
			if !src.InBounds(sc, sr) {
				continue
			}
			if v := src.At(sc, sr); !src.IsNoData(v) {
				out.Set(col, row, v)
			}
		}
	}
	return true
}

// resample fills out by sampling src at every reference cell center,
// reprojecting centers when the systems differ. Row ranges fill
// concurrently; each worker owns disjoint rows of the output.
func (rc Reconciler) resample(out, src *raster.Raster, ref raster.Layout, method Method) error {
	workers := rc.workers()
	if workers > ref.Rows {
		workers = ref.Rows
	}
	needTransform := !src.CRS.Equal(ref.CRS)

	// One transformer per worker; a transformer is a closure and is not
	// shared across goroutines.
	transforms := make([]proj.Transformer, workers)
	if needTransform {
		for w := 0; w < workers; w++ {
			tr, err := geo.NewTransform(ref.CRS, src.CRS)
			if err != nil {
				return err
			}
			transforms[w] = tr
		}
	}

	chunk := (ref.Rows + workers - 1) / workers
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > ref.Rows {
			hi = ref.Rows
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			errs[w] = fillRows(out, src, ref, method, transforms[w], lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func fillRows(out, src *raster.Raster, ref raster.Layout, method Method, tr proj.Transformer, rowLo, rowHi int) error {
	for row := rowLo; row < rowHi; row++ {
		for col := 0; col < ref.Cols; col++ {
			x, y := ref.Transform.CellCenter(col, row)
			if tr != nil {
				var err error
				x, y, err = tr(x, y)
				if err != nil {
					return fmt.Errorf("align: transform cell center (%d,%d): %w", col, row, err)
				}
			}
			// Half-open extent test: centers outside the source stay nodata.
			sc, sr := src.Transform.Cell(x, y)
			if !src.InBounds(sc, sr) {
				continue
			}
			var v float64
			var ok bool
			if method == Nearest {
				v = src.At(sc, sr)
				ok = !src.IsNoData(v)
			} else {
				v, ok = bilinear(src, x, y)
			}
			if ok {
				out.Set(col, row, v)
			}
		}
	}
	return nil
}

// bilinear interpolates the four source cells around the sample position.
// Weights renormalize over the valid neighbors so nodata is never averaged
// into a valid value; no valid neighbor means no value.
func bilinear(src *raster.Raster, x, y float64) (float64, bool) {
	fc, fr := src.Transform.Fractional(x, y)
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	dx := fc - float64(c0)
	dy := fr - float64(r0)

	var sum, wsum float64
	for _, n := range [4]struct {
		c, r int
		w    float64
	}{
		{c0, r0, (1 - dx) * (1 - dy)},
		{c0 + 1, r0, dx * (1 - dy)},
		{c0, r0 + 1, (1 - dx) * dy},
		{c0 + 1, r0 + 1, dx * dy},
	} {
		if n.w == 0 || !src.InBounds(n.c, n.r) {
			continue
		}
		v := src.At(n.c, n.r)
		if src.IsNoData(v) {
			continue
		}
		sum += v * n.w
		wsum += n.w
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}
