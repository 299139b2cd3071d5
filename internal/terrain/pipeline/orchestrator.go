package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/monitoring"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/terrain"
	"github.com/overstory-data/canopy.report/internal/terrain/align"
	"github.com/overstory-data/canopy.report/internal/terrain/boundary"
	"github.com/overstory-data/canopy.report/internal/terrain/crop"
	"github.com/overstory-data/canopy.report/internal/terrain/density"
	"github.com/overstory-data/canopy.report/internal/terrain/derive"
	"github.com/overstory-data/canopy.report/internal/terrain/mask"
	"github.com/overstory-data/canopy.report/internal/terrain/storage"
	"github.com/overstory-data/canopy.report/internal/terrain/surface"
	"github.com/overstory-data/canopy.report/internal/timeutil"
)

// Orchestrator sequences the derivation stages for one or more concurrent
// runs. Runs share only the artifact store; stage components are stateless.
type Orchestrator struct {
	Store  storage.Store
	Runs   storage.RunStore // optional; nil skips run persistence
	Clouds CloudSource
	Ref    RasterSource
	// Surface overrides the in-module modeler; nil uses surface.Modeler
	// with the run's statistic.
	Surface SurfaceModeler
	// Clock defaults to the real clock.
	Clock timeutil.Clock

	latchOnce sync.Once
	latch     *keyedLatch
}

// New returns an Orchestrator over the given collaborators.
func New(store storage.Store, runs storage.RunStore, clouds CloudSource, ref RasterSource) *Orchestrator {
	return &Orchestrator{
		Store:  store,
		Runs:   runs,
		Clouds: clouds,
		Ref:    ref,
		Clock:  timeutil.RealClock{},
		latch:  newKeyedLatch(),
	}
}

func (o *Orchestrator) clock() timeutil.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return timeutil.RealClock{}
}

func (o *Orchestrator) modeler(p Params) SurfaceModeler {
	if o.Surface != nil {
		return o.Surface
	}
	return surface.Modeler{Statistic: p.Statistic, Workers: p.Workers}
}

// Execute runs the pipeline once for params and returns the finalized Run.
// The Run is returned on failure too, with its failing stage and typed error
// recorded; a quality run never silently downgrades to standard on a stage
// failure. Cancellation is cooperative: the context is checked at stage
// boundaries only, so the stage in progress always runs to completion or
// failure first.
func (o *Orchestrator) Execute(ctx context.Context, params Params) (*Run, error) {
	params = params.withDefaults()
	run := &Run{
		RunID:     uuid.New().String(),
		Params:    params,
		State:     StateRunning,
		StartedAt: o.clock().Now(),
	}
	if !params.Mode.valid() {
		return o.fail(ctx, run, StageIdle, fmt.Errorf("pipeline: unknown mode %q", params.Mode))
	}
	if params.CloudID == "" {
		return o.fail(ctx, run, StageIdle, fmt.Errorf("pipeline: empty cloud ID"))
	}
	o.saveRun(ctx, run)
	monitoring.Logf("[Pipeline] run %s: %s mode, cloud %s, cell %g, min count %d",
		run.RunID, params.Mode, params.CloudID, params.CellSize, params.MinCount)

	// Rasterizing. The cloud read is the stage's suspension point.
	if err := o.boundaryCheck(ctx, run, StageRasterizing); err != nil {
		return run, err
	}
	var rawCloud *cloud.PointCloud
	err := o.collab(ctx, params, "read point cloud", func(cctx context.Context) error {
		var err error
		rawCloud, err = o.Clouds.Read(cctx)
		return err
	})
	if err != nil {
		return o.fail(ctx, run, StageRasterizing, err)
	}
	grid, res, err := o.densityStage(ctx, run, params, rawCloud)
	if err != nil {
		return o.fail(ctx, run, StageRasterizing, err)
	}
	run.record(res)

	// Masking.
	if err := o.boundaryCheck(ctx, run, StageMasking); err != nil {
		return run, err
	}
	vmask, res, err := o.maskStage(ctx, run, params, grid)
	if err != nil {
		return o.fail(ctx, run, StageMasking, err)
	}
	run.record(res)

	deriveCloud := rawCloud
	if params.Mode == ModeQuality {
		// BoundaryExtracting.
		if err := o.boundaryCheck(ctx, run, StageBoundaryExtracting); err != nil {
			return run, err
		}
		bnd, res, err := o.boundaryStage(ctx, run, params, vmask)
		if err != nil {
			return o.fail(ctx, run, StageBoundaryExtracting, err)
		}
		run.record(res)

		// Cropping.
		if err := o.boundaryCheck(ctx, run, StageCropping); err != nil {
			return run, err
		}
		deriveCloud, res, err = o.cropStage(ctx, run, params, rawCloud, bnd)
		if err != nil {
			return o.fail(ctx, run, StageCropping, err)
		}
		run.record(res)
	}

	// Reconciling: derive the surface from the (cropped or raw) cloud, read
	// the reference terrain, and reconcile it onto the surface layout.
	if err := o.boundaryCheck(ctx, run, StageReconciling); err != nil {
		return run, err
	}
	surf, ref, res, err := o.reconcileStage(ctx, run, params, deriveCloud)
	if err != nil {
		return o.fail(ctx, run, StageReconciling, err)
	}
	run.record(res)

	// Deriving.
	if err := o.boundaryCheck(ctx, run, StageDeriving); err != nil {
		return run, err
	}
	res, err = o.deriveStage(ctx, run, params, surf, ref)
	if err != nil {
		return o.fail(ctx, run, StageDeriving, err)
	}
	run.record(res)

	run.State = StateComplete
	run.FinishedAt = o.clock().Now()
	o.saveRun(ctx, run)
	monitoring.Logf("[Pipeline] run %s: complete in %s, coverage %.2f%%, retention %.2f%%",
		run.RunID, run.FinishedAt.Sub(run.StartedAt), run.Stats.Coverage.ValidPct,
		100*run.Stats.Crop.Fraction)
	return run, nil
}

// boundaryCheck enforces cooperative cancellation between stages.
func (o *Orchestrator) boundaryCheck(ctx context.Context, run *Run, next Stage) error {
	if err := ctx.Err(); err != nil {
		_, ferr := o.fail(ctx, run, next, classifyCtxErr(err))
		return ferr
	}
	return nil
}

func classifyCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return terrain.NewTimeout("run budget", err)
	}
	return err
}

// collab wraps a collaborator I/O call with the run's stage timeout and maps
// a deadline hit to the Timeout classification.
func (o *Orchestrator) collab(ctx context.Context, p Params, op string, f func(context.Context) error) error {
	cctx := ctx
	if p.StageTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.StageTimeout)
		defer cancel()
	}
	err := f(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return terrain.NewTimeout(op, err)
	}
	return err
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, stage Stage, err error) (*Run, error) {
	serr := &StageError{RunID: run.RunID, Stage: stage, Err: err}
	run.record(StageResult{Stage: stage, Err: err})
	run.State = StateFailed
	run.FailStage = stage
	run.Err = serr
	run.FinishedAt = o.clock().Now()
	o.saveRun(ctx, run)
	monitoring.Logf("[Pipeline] run %s: failed at %s: %v", run.RunID, stage, err)
	return run, serr
}

// saveRun persists the run record when a run store is configured. Record
// persistence never masks a pipeline outcome; save failures are logged.
func (o *Orchestrator) saveRun(ctx context.Context, run *Run) {
	if o.Runs == nil {
		return
	}
	// Persist even when the surrounding context was cancelled.
	if err := o.Runs.SaveRun(context.WithoutCancel(ctx), run.Record()); err != nil {
		monitoring.Logf("[Pipeline] run %s: save record: %v", run.RunID, err)
	}
}

// Artifact keys. Density depends only on the resolution; mask, boundary, and
// cropped points depend on the threshold too. Surface and derived artifacts
// under quality mode depend on the threshold through the cropped cloud;
// standard mode stores them at threshold 0, which is exact because a zero
// threshold crops nothing.

func (o *Orchestrator) densityKey(p Params) storage.Key {
	return storage.Key{CloudID: p.CloudID, Kind: storage.KindDensity, CellSize: p.CellSize}
}

func (o *Orchestrator) maskKey(p Params) storage.Key {
	return storage.Key{CloudID: p.CloudID, Kind: storage.KindMask, CellSize: p.CellSize, MinCount: p.MinCount}
}

func (o *Orchestrator) boundaryKey(p Params) storage.Key {
	return storage.Key{CloudID: p.CloudID, Kind: storage.KindBoundary, CellSize: p.CellSize, MinCount: p.MinCount}
}

func (o *Orchestrator) croppedKey(p Params) storage.Key {
	return storage.Key{CloudID: p.CloudID, Kind: storage.KindCroppedPoints, CellSize: p.CellSize, MinCount: p.MinCount}
}

func (o *Orchestrator) surfaceKey(p Params) storage.Key {
	k := storage.Key{CloudID: p.CloudID, Kind: storage.KindSurface, CellSize: p.CellSize}
	if p.Mode == ModeQuality {
		k.MinCount = p.MinCount
	}
	return k
}

func (o *Orchestrator) derivedKey(p Params) storage.Key {
	k := storage.Key{CloudID: p.CloudID, Kind: storage.DerivedKind(string(p.Operation)), CellSize: p.CellSize}
	if p.Mode == ModeQuality {
		k.MinCount = p.MinCount
	}
	return k
}

// lookup resolves the ordered candidate keys against the store, returning
// nil on a clean miss.
func (o *Orchestrator) lookup(ctx context.Context, keys ...storage.Key) (*storage.Artifact, error) {
	art, err := storage.Resolve(ctx, o.Store, keys)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return art, err
}

// getLatch lazily builds the latch so literal-constructed orchestrators work.
func (o *Orchestrator) getLatch() *keyedLatch {
	o.latchOnce.Do(func() {
		if o.latch == nil {
			o.latch = newKeyedLatch()
		}
	})
	return o.latch
}

// putArtifact stores a computed payload under the per-key latch so two
// concurrent runs on the same key write once.
func (o *Orchestrator) putArtifact(ctx context.Context, p Params, key storage.Key, payload []byte) error {
	release := o.getLatch().acquire(key.String())
	defer release()
	return o.collab(ctx, p, "store "+string(key.Kind), func(cctx context.Context) error {
		return o.Store.Put(cctx, key, payload)
	})
}

func (o *Orchestrator) densityStage(ctx context.Context, run *Run, p Params, pc *cloud.PointCloud) (*raster.CountGrid, StageResult, error) {
	start := o.clock().Now()
	key := o.densityKey(p)

	if art, err := o.lookup(ctx, key); err != nil {
		return nil, StageResult{}, err
	} else if art != nil {
		grid, err := raster.DecodeCountGrid(art.Payload)
		if err != nil {
			return nil, StageResult{}, fmt.Errorf("pipeline: stored density: %w", err)
		}
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
		return grid, StageResult{Stage: StageRasterizing, Key: &key, Reused: true, Duration: o.clock().Since(start)}, nil
	}

	grid, err := density.Rasterizer{CellSize: p.CellSize, Workers: p.Workers}.Rasterize(pc)
	if err != nil {
		return nil, StageResult{}, err
	}
	payload, err := raster.EncodeCountGrid(grid)
	if err != nil {
		return nil, StageResult{}, err
	}
	if err := o.putArtifact(ctx, p, key, payload); err != nil {
		return nil, StageResult{}, err
	}
	return grid, StageResult{Stage: StageRasterizing, Key: &key, Duration: o.clock().Since(start)}, nil
}

func (o *Orchestrator) maskStage(ctx context.Context, run *Run, p Params, grid *raster.CountGrid) (*raster.Mask, StageResult, error) {
	start := o.clock().Now()
	key := o.maskKey(p)

	if art, err := o.lookup(ctx, key); err != nil {
		return nil, StageResult{}, err
	} else if art != nil {
		m, err := raster.DecodeMask(art.Payload)
		if err != nil {
			return nil, StageResult{}, fmt.Errorf("pipeline: stored mask: %w", err)
		}
		run.Stats.Coverage = mask.CoverageOf(m)
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
		return m, StageResult{Stage: StageMasking, Key: &key, Reused: true, Duration: o.clock().Since(start)}, nil
	}

	m, cov := mask.New(p.MinCount).Build(grid)
	run.Stats.Coverage = cov
	payload, err := raster.EncodeMask(m)
	if err != nil {
		return nil, StageResult{}, err
	}
	if err := o.putArtifact(ctx, p, key, payload); err != nil {
		return nil, StageResult{}, err
	}
	return m, StageResult{Stage: StageMasking, Key: &key, Duration: o.clock().Since(start)}, nil
}

func (o *Orchestrator) boundaryStage(ctx context.Context, run *Run, p Params, m *raster.Mask) (*boundary.Boundary, StageResult, error) {
	start := o.clock().Now()
	key := o.boundaryKey(p)

	if art, err := o.lookup(ctx, key); err != nil {
		return nil, StageResult{}, err
	} else if art != nil {
		var b boundary.Boundary
		if err := json.Unmarshal(art.Payload, &b); err != nil {
			return nil, StageResult{}, fmt.Errorf("pipeline: stored boundary: %w", err)
		}
		run.Stats.Boundary = b.Summarize()
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
		return &b, StageResult{Stage: StageBoundaryExtracting, Key: &key, Reused: true, Duration: o.clock().Since(start)}, nil
	}

	b, err := boundary.Extract(m)
	if err != nil {
		return nil, StageResult{}, err
	}
	run.Stats.Boundary = b.Summarize()
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, StageResult{}, err
	}
	if err := o.putArtifact(ctx, p, key, payload); err != nil {
		return nil, StageResult{}, err
	}
	return b, StageResult{Stage: StageBoundaryExtracting, Key: &key, Duration: o.clock().Since(start)}, nil
}

func (o *Orchestrator) cropStage(ctx context.Context, run *Run, p Params, pc *cloud.PointCloud, b *boundary.Boundary) (*cloud.PointCloud, StageResult, error) {
	start := o.clock().Now()
	key := o.croppedKey(p)

	if art, err := o.lookup(ctx, key); err != nil {
		return nil, StageResult{}, err
	} else if art != nil {
		cropped, err := cloud.DecodePointCloud(art.Payload)
		if err != nil {
			return nil, StageResult{}, fmt.Errorf("pipeline: stored cropped cloud: %w", err)
		}
		run.Stats.Crop = retention(pc.Len(), cropped.Len())
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
		return cropped, StageResult{Stage: StageCropping, Key: &key, Reused: true, Duration: o.clock().Since(start)}, nil
	}

	cropped, stats, err := crop.Cropper{Workers: p.Workers}.Crop(pc, b)
	if err != nil {
		return nil, StageResult{}, err
	}
	run.Stats.Crop = stats
	payload, err := cloud.EncodePointCloud(cropped)
	if err != nil {
		return nil, StageResult{}, err
	}
	if err := o.putArtifact(ctx, p, key, payload); err != nil {
		return nil, StageResult{}, err
	}
	return cropped, StageResult{Stage: StageCropping, Key: &key, Duration: o.clock().Since(start)}, nil
}

func retention(original, retained int) crop.Stats {
	s := crop.Stats{Original: original, Retained: retained}
	if original > 0 {
		s.Fraction = float64(retained) / float64(original)
	}
	return s
}

// reconcileStage derives the surface raster and reconciles the reference
// terrain onto its layout. The surface is the run's designated reference
// grid; the external terrain is the one resampled or reprojected.
func (o *Orchestrator) reconcileStage(ctx context.Context, run *Run, p Params, pc *cloud.PointCloud) (*raster.Raster, *raster.Raster, StageResult, error) {
	start := o.clock().Now()
	key := o.surfaceKey(p)

	var surf *raster.Raster
	if art, err := o.lookup(ctx, key); err != nil {
		return nil, nil, StageResult{}, err
	} else if art != nil {
		surf, err = raster.DecodeRaster(art.Payload)
		if err != nil {
			return nil, nil, StageResult{}, fmt.Errorf("pipeline: stored surface: %w", err)
		}
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
	}
	reused := surf != nil

	if surf == nil {
		err := o.collab(ctx, p, "model surface", func(cctx context.Context) error {
			var err error
			surf, err = o.modeler(p).Model(cctx, pc, p.CellSize)
			return err
		})
		if err != nil {
			return nil, nil, StageResult{}, err
		}
		payload, err := raster.EncodeRaster(surf)
		if err != nil {
			return nil, nil, StageResult{}, err
		}
		if err := o.putArtifact(ctx, p, key, payload); err != nil {
			return nil, nil, StageResult{}, err
		}
	}

	var refRaw *raster.Raster
	err := o.collab(ctx, p, "read reference raster", func(cctx context.Context) error {
		var err error
		refRaw, err = o.Ref.Read(cctx)
		return err
	})
	if err != nil {
		return nil, nil, StageResult{}, err
	}

	ref, err := align.Reconciler{Workers: p.Workers}.Reconcile(refRaw, surf.Layout, p.Method)
	if err != nil {
		return nil, nil, StageResult{}, err
	}
	return surf, ref, StageResult{Stage: StageReconciling, Key: &key, Reused: reused, Duration: o.clock().Since(start)}, nil
}

func (o *Orchestrator) deriveStage(ctx context.Context, run *Run, p Params, surf, ref *raster.Raster) (StageResult, error) {
	start := o.clock().Now()
	key := o.derivedKey(p)

	if art, err := o.lookup(ctx, key); err != nil {
		return StageResult{}, err
	} else if art != nil {
		derived, err := raster.DecodeRaster(art.Payload)
		if err != nil {
			return StageResult{}, fmt.Errorf("pipeline: stored derived raster: %w", err)
		}
		run.Stats.Derive = derive.Summarize(derived)
		monitoring.Debugf("[Pipeline] run %s: reusing %s", run.RunID, key)
		return StageResult{Stage: StageDeriving, Key: &key, Reused: true, Duration: o.clock().Since(start)}, nil
	}

	result, err := derive.Apply(surf, ref, p.Operation)
	if err != nil {
		return StageResult{}, err
	}
	run.Stats.Derive = result.Stats
	payload, err := raster.EncodeRaster(result.Raster)
	if err != nil {
		return StageResult{}, err
	}
	if err := o.putArtifact(ctx, p, key, payload); err != nil {
		return StageResult{}, err
	}
	return StageResult{Stage: StageDeriving, Key: &key, Duration: o.clock().Since(start)}, nil
}

// Artifact returns the stored artifact at key, or storage.ErrNotFound. It is
// the read path the CLI and diagnostics use.
func (o *Orchestrator) Artifact(ctx context.Context, key storage.Key) (*storage.Artifact, error) {
	return o.Store.Get(ctx, key)
}
