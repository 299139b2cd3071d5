// Package storage defines the artifact store shared by derivation runs. The
// store is read-many/write-once: an artifact key is fully determined by the
// inputs and parameters that produced it, so a second writer on the same key
// reuses the first write instead of racing it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound reports a key with no stored artifact.
var ErrNotFound = errors.New("storage: artifact not found")

// Kind names an artifact family within a point cloud's namespace.
type Kind string

const (
	KindDensity       Kind = "density"
	KindMask          Kind = "mask"
	KindBoundary      Kind = "boundary"
	KindCroppedPoints Kind = "cropped-points"
	KindSurface       Kind = "surface"
)

// DerivedKind names the derived raster of one cell operation, such as
// "derived/subtract".
func DerivedKind(op string) Kind { return Kind("derived/" + op) }

// Key identifies one artifact: the point-cloud identity plus every parameter
// that shaped the artifact. Wall-clock time is deliberately absent so reuse
// depends only on inputs.
type Key struct {
	CloudID  string
	Kind     Kind
	CellSize float64
	MinCount uint32
}

// CellSizeTag formats the cell size canonically for storage and display.
// Keys compare through this string, never through float equality.
func (k Key) CellSizeTag() string {
	return strconv.FormatFloat(k.CellSize, 'g', -1, 64)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@r%s/t%d", k.CloudID, k.Kind, k.CellSizeTag(), k.MinCount)
}

// Artifact is one stored payload with its creation time.
type Artifact struct {
	Key       Key
	Payload   []byte
	CreatedAt time.Time
}

// Store persists artifacts write-once. Put never overwrites: when the key
// already holds a payload the stored payload wins and Put reports success.
type Store interface {
	Put(ctx context.Context, key Key, payload []byte) error
	Get(ctx context.Context, key Key) (*Artifact, error)
	List(ctx context.Context, cloudID string) ([]Key, error)
}

// Resolve returns the first artifact found for keys, tried in order. The
// lookup order is data supplied by the caller, so fallback chains are
// testable instead of being buried in conditionals. Returns ErrNotFound when
// no key resolves.
func Resolve(ctx context.Context, s Store, keys []Key) (*Artifact, error) {
	for _, k := range keys {
		art, err := s.Get(ctx, k)
		if err == nil {
			return art, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("storage: resolve %s: %w", k, err)
		}
	}
	return nil, ErrNotFound
}

// RunRecord is the persisted form of one pipeline run. Stats are carried as
// pre-encoded JSON so the store stays independent of the pipeline types.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	CloudID    string    `json:"cloud_id"`
	Mode       string    `json:"mode"`
	CellSize   float64   `json:"cell_size"`
	MinCount   uint32    `json:"min_count"`
	Operation  string    `json:"operation"`
	State      string    `json:"state"`
	FailStage  string    `json:"fail_stage,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	ErrorText  string    `json:"error_text,omitempty"`
	StatsJSON  []byte    `json:"stats_json,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunStore persists run records. SaveRun upserts by run ID: a run is saved
// once when it starts and once more when it finalizes.
type RunStore interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, cloudID string, limit int) ([]*RunRecord, error)
}
