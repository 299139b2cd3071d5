package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/overstory-data/canopy.report/internal/terrain"
	"github.com/overstory-data/canopy.report/internal/terrain/align"
	"github.com/overstory-data/canopy.report/internal/terrain/boundary"
	"github.com/overstory-data/canopy.report/internal/terrain/crop"
	"github.com/overstory-data/canopy.report/internal/terrain/derive"
	"github.com/overstory-data/canopy.report/internal/terrain/mask"
	"github.com/overstory-data/canopy.report/internal/terrain/storage"
	"github.com/overstory-data/canopy.report/internal/terrain/surface"
)

// Params configures one derivation run. CloudID is the point-cloud identity
// under which every artifact is stored; CellSize and MinCount are the cache
// key parameters.
type Params struct {
	CloudID      string            `json:"cloud_id"`
	CellSize     float64           `json:"cell_size"`
	MinCount     uint32            `json:"min_count"`
	Mode         Mode              `json:"mode"`
	Operation    derive.Op         `json:"operation"`
	Method       align.Method      `json:"method"`
	Statistic    surface.Statistic `json:"statistic"`
	StageTimeout time.Duration     `json:"stage_timeout"`
	// Workers caps per-stage parallelism. Zero sizes from the CPU count.
	Workers int `json:"workers,omitempty"`
}

func (p Params) withDefaults() Params {
	if p.Mode == "" {
		p.Mode = ModeQuality
	}
	if p.Operation == "" {
		p.Operation = derive.DefaultOp
	}
	if p.Method == "" {
		p.Method = align.Bilinear
	}
	if p.Statistic == "" {
		p.Statistic = surface.MeanZ
	}
	return p
}

// State is the lifecycle of a run record.
type State string

const (
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// RunStats aggregates the per-stage statistics a run reports.
type RunStats struct {
	Coverage mask.Coverage    `json:"coverage"`
	Boundary boundary.Summary `json:"boundary"`
	Crop     crop.Stats       `json:"crop"`
	Derive   derive.Stats     `json:"derive"`
}

// Run records one execution of the pipeline: parameters, per-stage tagged
// outcomes, statistics, and the final state. The orchestrator owns the Run
// and treats it as immutable once finalized.
type Run struct {
	RunID  string        `json:"run_id"`
	Params Params        `json:"params"`
	State  State         `json:"state"`
	Stages []StageResult `json:"stages"`
	Stats  RunStats      `json:"stats"`

	// FailStage and Err are set only for failed runs.
	FailStage Stage `json:"fail_stage,omitempty"`
	Err       error `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Run) record(res StageResult) { r.Stages = append(r.Stages, res) }

// StageOutcome returns the recorded result for a stage, if the run reached
// it.
func (r *Run) StageOutcome(s Stage) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == s {
			return res, true
		}
	}
	return StageResult{}, false
}

// Record converts the run to its persisted form.
func (r *Run) Record() *storage.RunRecord {
	rec := &storage.RunRecord{
		RunID:      r.RunID,
		CloudID:    r.Params.CloudID,
		Mode:       string(r.Params.Mode),
		CellSize:   r.Params.CellSize,
		MinCount:   r.Params.MinCount,
		Operation:  string(r.Params.Operation),
		State:      string(r.State),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.State == StateFailed {
		rec.FailStage = r.FailStage.String()
		if code := terrain.CodeOf(r.Err); code != "" {
			rec.ErrorCode = string(code)
		}
		if r.Err != nil {
			rec.ErrorText = r.Err.Error()
		}
	}
	if stats, err := json.Marshal(r.Stats); err == nil {
		rec.StatsJSON = stats
	}
	return rec
}

// RunFromRecord rebuilds a run from its persisted form. Per-stage results
// are not persisted, so Stages comes back empty; stats and failure details
// survive the round trip.
func RunFromRecord(rec *storage.RunRecord) (*Run, error) {
	run := &Run{
		RunID: rec.RunID,
		Params: Params{
			CloudID:   rec.CloudID,
			CellSize:  rec.CellSize,
			MinCount:  rec.MinCount,
			Mode:      Mode(rec.Mode),
			Operation: derive.Op(rec.Operation),
		},
		State:      State(rec.State),
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.FailStage != "" {
		for s, name := range stageNames {
			if name == rec.FailStage {
				run.FailStage = s
				break
			}
		}
	}
	if rec.ErrorText != "" {
		run.Err = errors.New(rec.ErrorText)
	}
	if len(rec.StatsJSON) > 0 {
		if err := json.Unmarshal(rec.StatsJSON, &run.Stats); err != nil {
			return nil, fmt.Errorf("decode run stats: %w", err)
		}
	}
	return run, nil
}
