// Package pipeline orchestrates the quality-mode derivation pipeline:
// density rasterization, artifact masking, boundary extraction, cloud
// cropping, surface derivation, spatial reconciliation, and the derived
// raster. Stages run strictly in order within a run; artifacts persist in a
// write-once store keyed by inputs and parameters, never by wall-clock time.
package pipeline

import (
	"fmt"
	"time"

	"github.com/overstory-data/canopy.report/internal/terrain"
	"github.com/overstory-data/canopy.report/internal/terrain/storage"
)

// Stage names one step of the derivation state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageRasterizing
	StageMasking
	StageBoundaryExtracting
	StageCropping
	StageReconciling
	StageDeriving
	StageComplete
)

var stageNames = map[Stage]string{
	StageIdle:               "idle",
	StageRasterizing:        "rasterizing",
	StageMasking:            "masking",
	StageBoundaryExtracting: "boundary-extracting",
	StageCropping:           "cropping",
	StageReconciling:        "reconciling",
	StageDeriving:           "deriving",
	StageComplete:           "complete",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Mode selects how much of the pipeline a run executes.
type Mode string

const (
	// ModeQuality runs every stage and derives the surface from the
	// artifact-cropped cloud.
	ModeQuality Mode = "quality"
	// ModeStandard skips boundary extraction and cropping and derives the
	// surface from the raw cloud. Faster, more artifact-prone.
	ModeStandard Mode = "standard"
)

func (m Mode) valid() bool { return m == ModeQuality || m == ModeStandard }

// StageResult is the tagged outcome of one stage: an artifact key on
// success, a typed error on failure. Exactly one of Key and Err is set for
// artifact stages; pure computation stages (reconciling) succeed with a nil
// Key.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Key      *storage.Key  `json:"key,omitempty"`
	Reused   bool          `json:"reused,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK reports whether the stage succeeded.
func (r StageResult) OK() bool { return r.Err == nil }

// StageError attaches run and stage context to a component failure.
type StageError struct {
	RunID string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailureCode returns the terrain error code carried by a stage failure, or
// "" when the failure carries none.
func FailureCode(err error) terrain.Code { return terrain.CodeOf(err) }
