package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/config"
	"github.com/overstory-data/canopy.report/internal/geo"
	"github.com/overstory-data/canopy.report/internal/monitoring"
	"github.com/overstory-data/canopy.report/internal/raster"
	"github.com/overstory-data/canopy.report/internal/security"
	"github.com/overstory-data/canopy.report/internal/terrain/align"
	"github.com/overstory-data/canopy.report/internal/terrain/derive"
	"github.com/overstory-data/canopy.report/internal/terrain/monitor"
	"github.com/overstory-data/canopy.report/internal/terrain/pipeline"
	"github.com/overstory-data/canopy.report/internal/terrain/storage"
	"github.com/overstory-data/canopy.report/internal/terrain/storage/sqlite"
	"github.com/overstory-data/canopy.report/internal/terrain/surface"
	"github.com/overstory-data/canopy.report/internal/units"
)

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}

// loadConfig builds the effective config: file values if --config was given,
// stock defaults otherwise.
func loadConfig(path string) *config.PipelineConfig {
	if path == "" {
		return config.DefaultPipelineConfig()
	}
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		fatalf("config: %v", err)
	}
	return config.DefaultPipelineConfig().Merge(cfg)
}

func openStore(path string) *sqlite.Store {
	store, err := sqlite.Open(path)
	if err != nil {
		fatalf("open database %s: %v", path, err)
	}
	return store
}

// lookupCRS resolves a CRS flag value, accepting the registered EPSG codes.
func lookupCRS(code string) geo.CRS {
	crs, ok := geo.Lookup(code)
	if !ok {
		fatalf("unknown CRS %q (try EPSG:3857)", code)
	}
	return crs
}

func handleRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cloudPath := fs.String("cloud", "", "Point cloud XYZ file (required)")
	cloudID := fs.String("cloud-id", "", "Cloud identity for artifact storage (default: cloud file name)")
	refPath := fs.String("reference", "", "Reference terrain ASC file (required)")
	crsCode := fs.String("crs", "EPSG:3857", "CRS of the cloud and reference raster")
	cellSize := fs.Float64("cell-size", 0, "Raster cell size in cloud units")
	minCount := fs.Int("min-count", -1, "Density threshold for artifact masking")
	mode := fs.String("mode", "", "Derivation mode: quality or standard")
	operation := fs.String("operation", "", "Derived raster operation: subtract, add, multiply, divide")
	method := fs.String("method", "", "Reconciliation resampling: bilinear or nearest")
	statistic := fs.String("statistic", "", "Surface statistic: mean, min or max")
	workers := fs.Int("workers", 0, "Per-stage worker cap (0 sizes from CPU count)")
	unit := fs.String("units", units.Meters, "Linear units for summary lines: "+units.GetValidUnitsString())
	stageTimeout := fs.Duration("stage-timeout", 0, "Per-collaborator timeout (0 disables)")
	dbPath := fs.String("db", "", "Artifact database path")
	configPath := fs.String("config", "", "JSON config file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	if *cloudPath == "" || *refPath == "" {
		fatalf("run: --cloud and --reference are required")
	}
	if !units.IsValid(*unit) {
		fatalf("run: invalid units %q (valid: %s)", *unit, units.GetValidUnitsString())
	}
	monitoring.SetDebug(*debug)

	cfg := loadConfig(*configPath)
	if *cellSize <= 0 {
		*cellSize = cfg.GetCellSize()
	}
	if *minCount < 0 {
		*minCount = cfg.GetMinCount()
	}
	if *mode == "" {
		*mode = cfg.GetMode()
	}
	if *operation == "" {
		*operation = string(cfg.GetOperation())
	}
	if *method == "" {
		*method = string(cfg.GetMethod())
	}
	if *statistic == "" {
		*statistic = string(cfg.GetStatistic())
	}
	if *workers == 0 {
		*workers = cfg.GetWorkers()
	}
	if *stageTimeout == 0 {
		*stageTimeout = cfg.GetStageTimeout()
	}
	if *dbPath == "" {
		*dbPath = cfg.GetDatabasePath()
	}
	if *cloudID == "" {
		base := filepath.Base(*cloudPath)
		*cloudID = security.SanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
	}

	store := openStore(*dbPath)
	defer store.Close()

	crs := lookupCRS(*crsCode)
	orch := pipeline.New(store, store,
		pipeline.FileCloudSource{Path: *cloudPath, CRS: crs},
		pipeline.FileRasterSource{Path: *refPath, CRS: crs},
	)

	params := pipeline.Params{
		CloudID:      *cloudID,
		CellSize:     *cellSize,
		MinCount:     uint32(*minCount),
		Mode:         pipeline.Mode(*mode),
		Operation:    derive.Op(*operation),
		Method:       align.Method(*method),
		Statistic:    surface.Statistic(*statistic),
		StageTimeout: *stageTimeout,
		Workers:      *workers,
	}

	run, err := orch.Execute(context.Background(), params)
	if run != nil {
		printRun(run, *unit)
	}
	if err != nil {
		fatalf("run failed: %v", err)
	}
}

func printRun(run *pipeline.Run, unit string) {
	fmt.Printf("run %s: %s\n", run.RunID, run.State)
	for _, res := range run.Stages {
		status := "computed"
		if res.Reused {
			status = "reused"
		}
		if res.Err != nil {
			status = "failed: " + res.Err.Error()
		}
		key := ""
		if res.Key != nil {
			key = "  " + res.Key.String()
		}
		fmt.Printf("  %-20s %-10s %8s%s\n", res.Stage, status, res.Duration.Round(time.Millisecond), key)
	}
	for _, line := range summaryLines(run, unit) {
		fmt.Println("  " + line)
	}
}

// summaryLines renders the completed-run summary. Stored statistics are
// metric; area and point density convert to the requested units.
func summaryLines(run *pipeline.Run, unit string) []string {
	if run.State != pipeline.StateComplete {
		return nil
	}
	cs := run.Params.CellSize
	area := float64(run.Stats.Coverage.ValidCells) * cs * cs
	lines := []string{fmt.Sprintf("coverage: %.1f%% valid cells (%d of %d), %.1f %s² valid area",
		run.Stats.Coverage.ValidPct, run.Stats.Coverage.ValidCells, run.Stats.Coverage.TotalCells,
		units.ConvertArea(area, unit), unit)}
	if run.Stats.Crop.Retained > 0 && area > 0 {
		density := float64(run.Stats.Crop.Retained) / area
		lines = append(lines, fmt.Sprintf("density:  %.2f points/%s² over the valid area",
			units.ConvertDensity(density, unit), unit))
	}
	lines = append(lines, fmt.Sprintf("derived:  mean %.3f  stddev %.3f  (%d valid cells)",
		run.Stats.Derive.Mean, run.Stats.Derive.StdDev, run.Stats.Derive.ValidCells))
	return lines
}

func handleRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	cloudID := fs.String("cloud-id", "", "Filter by cloud identity")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	fs.Parse(args)

	store := openStore(*dbPath)
	defer store.Close()

	recs, err := store.ListRuns(context.Background(), *cloudID, *limit)
	if err != nil {
		fatalf("list runs: %v", err)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(recs); err != nil {
			fatalf("encode runs: %v", err)
		}
		return
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%s  %-9s %-8s %s r%g t%d %s",
			rec.StartedAt.Format(time.RFC3339), rec.State, rec.Mode,
			rec.CloudID, rec.CellSize, rec.MinCount, rec.RunID)
		if rec.State == string(pipeline.StateFailed) {
			line += fmt.Sprintf("  [%s at %s: %s]", rec.ErrorCode, rec.FailStage, rec.ErrorText)
		}
		fmt.Println(line)
	}
}

func handleArtifacts(args []string) {
	fs := flag.NewFlagSet("artifacts", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	cloudID := fs.String("cloud-id", "", "Cloud identity (required)")
	fs.Parse(args)

	if *cloudID == "" {
		fatalf("artifacts: --cloud-id is required")
	}

	store := openStore(*dbPath)
	defer store.Close()

	keys, err := store.List(context.Background(), *cloudID)
	if err != nil {
		fatalf("list artifacts: %v", err)
	}
	if len(keys) == 0 {
		fmt.Printf("no artifacts stored for %s\n", *cloudID)
		return
	}
	for _, key := range keys {
		fmt.Println(key)
	}
}

func handleExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	cloudID := fs.String("cloud-id", "", "Cloud identity (required)")
	kind := fs.String("kind", "", "Artifact kind, e.g. surface or derived/subtract (required)")
	cellSize := fs.Float64("cell-size", 1.0, "Cell size of the stored artifact")
	minCount := fs.Int("min-count", 0, "Density threshold of the stored artifact")
	unit := fs.String("units", units.Meters, "Elevation units for raster exports: "+units.GetValidUnitsString())
	outDir := fs.String("out", "out", "Output directory")
	fs.Parse(args)

	if *cloudID == "" || *kind == "" {
		fatalf("export: --cloud-id and --kind are required")
	}
	if !units.IsValid(*unit) {
		fatalf("export: invalid units %q (valid: %s)", *unit, units.GetValidUnitsString())
	}

	store := openStore(*dbPath)
	defer store.Close()

	key := storage.Key{
		CloudID:  *cloudID,
		Kind:     storage.Kind(*kind),
		CellSize: *cellSize,
		MinCount: uint32(*minCount),
	}
	art, err := store.Get(context.Background(), key)
	if err != nil {
		fatalf("get %s: %v", key, err)
	}

	name := exportName(key)
	path := filepath.Join(*outDir, name)
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatalf("create output dir: %v", err)
	}
	if err := security.ValidateOutputPath(path, *outDir); err != nil {
		fatalf("export: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := writeArtifact(f, key.Kind, art.Payload, *unit); err != nil {
		fatalf("export %s: %v", key, err)
	}
	fmt.Printf("wrote %s\n", path)
}

// exportName maps an artifact key to a file name whose extension matches the
// payload format.
func exportName(key storage.Key) string {
	base := fmt.Sprintf("%s_%s_r%s_t%d",
		security.SanitizeFilename(key.CloudID),
		security.SanitizeFilename(string(key.Kind)),
		key.CellSizeTag(), key.MinCount)
	switch key.Kind {
	case storage.KindBoundary:
		return base + ".json"
	case storage.KindCroppedPoints:
		return base + ".xyz"
	default:
		return base + ".asc"
	}
}

// writeArtifact decodes a stored payload and writes it in its interchange
// format: rasters as ESRI ASCII grids, clouds as XYZ, boundaries as JSON.
// Elevation rasters are converted from stored meters to unit; counts, masks,
// boundaries and clouds are unit-independent.
func writeArtifact(w io.Writer, kind storage.Kind, payload []byte, unit string) error {
	switch kind {
	case storage.KindDensity:
		grid, err := raster.DecodeCountGrid(payload)
		if err != nil {
			return err
		}
		return raster.WriteASC(w, countsAsRaster(grid))
	case storage.KindMask:
		m, err := raster.DecodeMask(payload)
		if err != nil {
			return err
		}
		return raster.WriteASC(w, maskAsRaster(m))
	case storage.KindBoundary:
		// Boundaries are stored as JSON already.
		_, err := w.Write(payload)
		return err
	case storage.KindCroppedPoints:
		pc, err := cloud.DecodePointCloud(payload)
		if err != nil {
			return err
		}
		return cloud.WriteXYZ(w, pc)
	default:
		r, err := raster.DecodeRaster(payload)
		if err != nil {
			return err
		}
		if unit != units.Meters {
			r = r.Clone()
			for i, v := range r.Values {
				if !r.IsNoData(v) {
					r.Values[i] = units.ConvertLength(v, unit)
				}
			}
		}
		return raster.WriteASC(w, r)
	}
}

func countsAsRaster(g *raster.CountGrid) *raster.Raster {
	r := raster.NewRaster(g.Layout)
	for i, c := range g.Counts {
		r.Values[i] = float64(c)
	}
	return r
}

func maskAsRaster(m *raster.Mask) *raster.Raster {
	r := raster.NewRaster(m.Layout)
	for i, valid := range m.Valid {
		if valid {
			r.Values[i] = 1
		} else {
			r.Values[i] = 0
		}
	}
	return r
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	runID := fs.String("run", "", "Run ID (default: most recent run)")
	cloudID := fs.String("cloud-id", "", "Cloud identity used when --run is omitted")
	outPath := fs.String("out", "report.html", "Output HTML file")
	fs.Parse(args)

	store := openStore(*dbPath)
	defer store.Close()

	ctx := context.Background()
	var rec *storage.RunRecord
	var err error
	if *runID != "" {
		rec, err = store.GetRun(ctx, *runID)
	} else {
		var recs []*storage.RunRecord
		recs, err = store.ListRuns(ctx, *cloudID, 1)
		if err == nil {
			if len(recs) == 0 {
				fatalf("report: no recorded runs")
			}
			rec = recs[0]
		}
	}
	if err != nil {
		fatalf("load run: %v", err)
	}

	run, err := pipeline.RunFromRecord(rec)
	if err != nil {
		fatalf("report: %v", err)
	}

	if err := security.ValidateOutputPath(*outPath, filepath.Dir(*outPath)); err != nil {
		fatalf("report: %v", err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		fatalf("create %s: %v", *outPath, err)
	}
	defer f.Close()

	if err := monitor.WriteReport(f, run); err != nil {
		fatalf("render report: %v", err)
	}
	fmt.Printf("wrote %s\n", *outPath)
}

func handlePlot(args []string) {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	cloudID := fs.String("cloud-id", "", "Cloud identity (required)")
	kind := fs.String("kind", "surface", "Raster artifact kind to plot")
	cellSize := fs.Float64("cell-size", 1.0, "Cell size of the stored artifact")
	minCount := fs.Int("min-count", 0, "Density threshold of the stored artifact")
	profileRow := fs.Int("profile-row", -1, "Render an elevation profile of this row instead of a histogram")
	outPath := fs.String("out", "plot.png", "Output PNG file")
	fs.Parse(args)

	if *cloudID == "" {
		fatalf("plot: --cloud-id is required")
	}

	store := openStore(*dbPath)
	defer store.Close()

	key := storage.Key{
		CloudID:  *cloudID,
		Kind:     storage.Kind(*kind),
		CellSize: *cellSize,
		MinCount: uint32(*minCount),
	}
	art, err := store.Get(context.Background(), key)
	if err != nil {
		fatalf("get %s: %v", key, err)
	}
	r, err := raster.DecodeRaster(art.Payload)
	if err != nil {
		fatalf("decode %s: %v", key, err)
	}

	if err := security.ValidateOutputPath(*outPath, filepath.Dir(*outPath)); err != nil {
		fatalf("plot: %v", err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		fatalf("create %s: %v", *outPath, err)
	}
	defer f.Close()

	title := fmt.Sprintf("%s %s", *cloudID, *kind)
	if *profileRow >= 0 {
		err = monitor.WriteProfile(f, r, *profileRow, title)
	} else {
		err = monitor.WriteHistogram(f, r, title)
	}
	if err != nil {
		fatalf("render plot: %v", err)
	}
	fmt.Printf("wrote %s\n", *outPath)
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "canopy.db", "Artifact database path")
	fs.Parse(args)

	// Open applies any pending migrations.
	store := openStore(*dbPath)
	store.Close()
	fmt.Printf("database %s is up to date\n", *dbPath)
}
