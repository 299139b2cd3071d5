package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/overstory-data/canopy.report/internal/terrain/align"
	"github.com/overstory-data/canopy.report/internal/terrain/derive"
	"github.com/overstory-data/canopy.report/internal/terrain/surface"
)

// PipelineConfig holds the run parameters read from a JSON config file.
// Every field is a pointer so an omitted field falls through to the
// documented default; partial configs are safe. CLI flags override
// anything set here.
type PipelineConfig struct {
	// Grid params
	CellSize *float64 `json:"cell_size,omitempty"`
	MinCount *int     `json:"min_count,omitempty"`

	// Run params
	Mode      *string `json:"mode,omitempty"`      // "quality" or "standard"
	Operation *string `json:"operation,omitempty"` // derived-raster operation
	Method    *string `json:"method,omitempty"`    // resampling method
	Statistic *string `json:"statistic,omitempty"` // surface statistic

	// Execution params
	Workers      *int    `json:"workers,omitempty"`
	StageTimeout *string `json:"stage_timeout,omitempty"` // duration string like "2m"

	// Storage params
	DatabasePath *string `json:"database_path,omitempty"`
	OutputDir    *string `json:"output_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultPipelineConfig returns a PipelineConfig populated with the
// stock defaults: 1 m cells, no density threshold, quality mode.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		CellSize:     ptrFloat64(1.0),
		MinCount:     ptrInt(0),
		Mode:         ptrString("quality"),
		Operation:    ptrString(string(derive.DefaultOp)),
		Method:       ptrString(string(align.Bilinear)),
		Statistic:    ptrString(string(surface.MeanZ)),
		Workers:      ptrInt(0),
		StageTimeout: ptrString("0s"),
		DatabasePath: ptrString("canopy.db"),
		OutputDir:    ptrString("out"),
	}
}

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
// Use LoadPipelineConfig to load actual values from a file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON keep their defaults,
// so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks every set field for a usable value. Unset fields are
// skipped since the Get* accessors supply defaults for those.
func (c *PipelineConfig) Validate() error {
	if c.CellSize != nil {
		if *c.CellSize <= 0 {
			return fmt.Errorf("cell_size must be positive, got %f", *c.CellSize)
		}
	}

	if c.MinCount != nil {
		if *c.MinCount < 0 {
			return fmt.Errorf("min_count must be non-negative, got %d", *c.MinCount)
		}
	}

	if c.Mode != nil {
		switch *c.Mode {
		case "quality", "standard":
		default:
			return fmt.Errorf("mode must be \"quality\" or \"standard\", got %q", *c.Mode)
		}
	}

	if c.Operation != nil {
		switch derive.Op(*c.Operation) {
		case derive.Subtract, derive.Add, derive.Multiply, derive.Divide:
		default:
			return fmt.Errorf("unknown operation %q", *c.Operation)
		}
	}

	if c.Method != nil {
		switch align.Method(*c.Method) {
		case align.Bilinear, align.Nearest:
		default:
			return fmt.Errorf("unknown method %q", *c.Method)
		}
	}

	if c.Statistic != nil {
		switch surface.Statistic(*c.Statistic) {
		case surface.MeanZ, surface.MinZ, surface.MaxZ:
		default:
			return fmt.Errorf("unknown statistic %q", *c.Statistic)
		}
	}

	if c.Workers != nil {
		if *c.Workers < 0 {
			return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
		}
	}

	if c.StageTimeout != nil && *c.StageTimeout != "" {
		if _, err := time.ParseDuration(*c.StageTimeout); err != nil {
			return fmt.Errorf("invalid stage_timeout '%s': %w", *c.StageTimeout, err)
		}
	}

	return nil
}

// GetCellSize returns the raster resolution in cloud units.
func (c *PipelineConfig) GetCellSize() float64 {
	if c.CellSize == nil {
		return 1.0 // default
	}
	return *c.CellSize
}

// GetMinCount returns the density threshold for the artifact mask.
func (c *PipelineConfig) GetMinCount() int {
	if c.MinCount == nil {
		return 0 // default
	}
	return *c.MinCount
}

// GetMode returns the derivation mode name.
func (c *PipelineConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return "quality" // default
	}
	return *c.Mode
}

// GetOperation returns the derived-raster operation.
func (c *PipelineConfig) GetOperation() derive.Op {
	if c.Operation == nil || *c.Operation == "" {
		return derive.DefaultOp
	}
	return derive.Op(*c.Operation)
}

// GetMethod returns the reconciliation resampling method.
func (c *PipelineConfig) GetMethod() align.Method {
	if c.Method == nil || *c.Method == "" {
		return align.Bilinear
	}
	return align.Method(*c.Method)
}

// GetStatistic returns the surface modeling statistic.
func (c *PipelineConfig) GetStatistic() surface.Statistic {
	if c.Statistic == nil || *c.Statistic == "" {
		return surface.MeanZ
	}
	return surface.Statistic(*c.Statistic)
}

// GetWorkers returns the worker cap for parallel stages. Zero lets each
// stage size itself from GOMAXPROCS.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // default
	}
	return *c.Workers
}

// GetStageTimeout parses and returns the StageTimeout as a time.Duration.
// Zero disables per-stage timeouts.
func (c *PipelineConfig) GetStageTimeout() time.Duration {
	if c.StageTimeout == nil || *c.StageTimeout == "" {
		return 0 // default
	}
	d, err := time.ParseDuration(*c.StageTimeout)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}

// GetDatabasePath returns the artifact database location.
func (c *PipelineConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "canopy.db" // default
	}
	return *c.DatabasePath
}

// GetOutputDir returns the directory exports and reports are written to.
func (c *PipelineConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "out" // default
	}
	return *c.OutputDir
}

// Merge returns a copy of c with any fields set in override replacing
// the corresponding fields of c. Neither argument is modified.
func (c *PipelineConfig) Merge(override *PipelineConfig) *PipelineConfig {
	out := *c
	if override == nil {
		return &out
	}
	if override.CellSize != nil {
		out.CellSize = override.CellSize
	}
	if override.MinCount != nil {
		out.MinCount = override.MinCount
	}
	if override.Mode != nil {
		out.Mode = override.Mode
	}
	if override.Operation != nil {
		out.Operation = override.Operation
	}
	if override.Method != nil {
		out.Method = override.Method
	}
	if override.Statistic != nil {
		out.Statistic = override.Statistic
	}
	if override.Workers != nil {
		out.Workers = override.Workers
	}
	if override.StageTimeout != nil {
		out.StageTimeout = override.StageTimeout
	}
	if override.DatabasePath != nil {
		out.DatabasePath = override.DatabasePath
	}
	if override.OutputDir != nil {
		out.OutputDir = override.OutputDir
	}
	return &out
}
