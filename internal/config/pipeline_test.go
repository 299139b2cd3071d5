package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/overstory-data/canopy.report/internal/terrain/align"
	"github.com/overstory-data/canopy.report/internal/terrain/derive"
	"github.com/overstory-data/canopy.report/internal/terrain/surface"
)

func TestDefaultPipelineConfig(t *testing.T) {
	cfg := DefaultPipelineConfig()

	// Test that defaults are set via pointers
	if cfg.CellSize == nil || *cfg.CellSize != 1.0 {
		t.Errorf("Expected CellSize 1.0, got %v", cfg.CellSize)
	}
	if cfg.Mode == nil || *cfg.Mode != "quality" {
		t.Errorf("Expected Mode 'quality', got %v", cfg.Mode)
	}
	if cfg.Operation == nil || *cfg.Operation != "subtract" {
		t.Errorf("Expected Operation 'subtract', got %v", cfg.Operation)
	}
	if cfg.DatabasePath == nil || *cfg.DatabasePath != "canopy.db" {
		t.Errorf("Expected DatabasePath 'canopy.db', got %v", cfg.DatabasePath)
	}

	// Test getter methods
	if cfg.GetCellSize() != 1.0 {
		t.Errorf("GetCellSize() = %f, want 1.0", cfg.GetCellSize())
	}
	if cfg.GetMinCount() != 0 {
		t.Errorf("GetMinCount() = %d, want 0", cfg.GetMinCount())
	}
	if cfg.GetMethod() != align.Bilinear {
		t.Errorf("GetMethod() = %v, want bilinear", cfg.GetMethod())
	}
	if cfg.GetStatistic() != surface.MeanZ {
		t.Errorf("GetStatistic() = %v, want mean", cfg.GetStatistic())
	}
	if cfg.GetStageTimeout() != 0 {
		t.Errorf("GetStageTimeout() = %v, want 0", cfg.GetStageTimeout())
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	// Every accessor must fall through to its default on a nil field.
	cfg := EmptyPipelineConfig()

	if cfg.GetCellSize() != 1.0 {
		t.Errorf("GetCellSize() = %f, want 1.0", cfg.GetCellSize())
	}
	if cfg.GetMode() != "quality" {
		t.Errorf("GetMode() = %q, want 'quality'", cfg.GetMode())
	}
	if cfg.GetOperation() != derive.Subtract {
		t.Errorf("GetOperation() = %v, want subtract", cfg.GetOperation())
	}
	if cfg.GetWorkers() != 0 {
		t.Errorf("GetWorkers() = %d, want 0", cfg.GetWorkers())
	}
	if cfg.GetOutputDir() != "out" {
		t.Errorf("GetOutputDir() = %q, want 'out'", cfg.GetOutputDir())
	}
}

func TestLoadPipelineConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "cell_size": 0.5,
  "min_count": 3,
  "mode": "standard",
  "operation": "divide",
  "method": "nearest",
  "stage_timeout": "90s",
  "database_path": "/var/lib/canopy/run.db"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPipelineConfig(configPath)
	if err != nil {
		t.Fatalf("LoadPipelineConfig failed: %v", err)
	}

	if cfg.GetCellSize() != 0.5 {
		t.Errorf("GetCellSize() = %f, want 0.5", cfg.GetCellSize())
	}
	if cfg.GetMinCount() != 3 {
		t.Errorf("GetMinCount() = %d, want 3", cfg.GetMinCount())
	}
	if cfg.GetMode() != "standard" {
		t.Errorf("GetMode() = %q, want 'standard'", cfg.GetMode())
	}
	if cfg.GetOperation() != derive.Divide {
		t.Errorf("GetOperation() = %v, want divide", cfg.GetOperation())
	}
	if cfg.GetMethod() != align.Nearest {
		t.Errorf("GetMethod() = %v, want nearest", cfg.GetMethod())
	}
	if cfg.GetStageTimeout() != 90*time.Second {
		t.Errorf("GetStageTimeout() = %v, want 90s", cfg.GetStageTimeout())
	}
	if cfg.GetDatabasePath() != "/var/lib/canopy/run.db" {
		t.Errorf("GetDatabasePath() = %q", cfg.GetDatabasePath())
	}

	// Omitted fields keep defaults.
	if cfg.Statistic != nil {
		t.Errorf("Expected Statistic nil for omitted field, got %v", *cfg.Statistic)
	}
	if cfg.GetStatistic() != surface.MeanZ {
		t.Errorf("GetStatistic() = %v, want mean", cfg.GetStatistic())
	}
}

func TestLoadPipelineConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	// Wrong extension
	badExt := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(badExt, []byte("{}"), 0644)
	if _, err := LoadPipelineConfig(badExt); err == nil {
		t.Error("Expected error for non-.json extension")
	}

	// Missing file
	if _, err := LoadPipelineConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	// Malformed JSON
	badJSON := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(badJSON, []byte("{not json"), 0644)
	if _, err := LoadPipelineConfig(badJSON); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *PipelineConfig
		wantErr bool
	}{
		{"empty is valid", EmptyPipelineConfig(), false},
		{"defaults are valid", DefaultPipelineConfig(), false},
		{"zero cell size", &PipelineConfig{CellSize: ptrFloat64(0)}, true},
		{"negative cell size", &PipelineConfig{CellSize: ptrFloat64(-2)}, true},
		{"negative min count", &PipelineConfig{MinCount: ptrInt(-1)}, true},
		{"unknown mode", &PipelineConfig{Mode: ptrString("fast")}, true},
		{"unknown operation", &PipelineConfig{Operation: ptrString("modulo")}, true},
		{"unknown method", &PipelineConfig{Method: ptrString("cubic")}, true},
		{"unknown statistic", &PipelineConfig{Statistic: ptrString("median")}, true},
		{"negative workers", &PipelineConfig{Workers: ptrInt(-4)}, true},
		{"bad timeout", &PipelineConfig{StageTimeout: ptrString("soon")}, true},
		{"good timeout", &PipelineConfig{StageTimeout: ptrString("2m30s")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultPipelineConfig()
	override := &PipelineConfig{
		CellSize: ptrFloat64(0.25),
		Mode:     ptrString("standard"),
	}

	merged := base.Merge(override)

	if merged.GetCellSize() != 0.25 {
		t.Errorf("merged GetCellSize() = %f, want 0.25", merged.GetCellSize())
	}
	if merged.GetMode() != "standard" {
		t.Errorf("merged GetMode() = %q, want 'standard'", merged.GetMode())
	}
	// Untouched fields come from the base.
	if merged.GetDatabasePath() != "canopy.db" {
		t.Errorf("merged GetDatabasePath() = %q, want 'canopy.db'", merged.GetDatabasePath())
	}
	// Base must not be modified.
	if base.GetCellSize() != 1.0 {
		t.Errorf("base mutated: GetCellSize() = %f", base.GetCellSize())
	}
}
