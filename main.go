package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/overstory-data/canopy.report/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "run":
		handleRun(args)
	case "runs":
		handleRuns(args)
	case "artifacts":
		handleArtifacts(args)
	case "export":
		handleExport(args)
	case "report":
		handleReport(args)
	case "plot":
		handlePlot(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`canopy - elevation raster derivation for classified point clouds

Usage: canopy <command> [options]

Commands:
  run        Derive an elevation raster from a point cloud
  runs       List recorded derivation runs
  artifacts  List stored artifacts for a point cloud
  export     Export a stored artifact to a file
  report     Render an HTML report for a recorded run
  plot       Render a histogram or profile plot of a stored raster
  migrate    Apply database migrations and exit
  version    Show canopy version
  help       Show this help message

Common Flags:
  --db <file>          Artifact database path (default: canopy.db)
  --config <file>      JSON config file; flags override its values

Examples:
  # Quality-mode derivation against a reference terrain model
  canopy run --cloud parcel7.xyz --reference terrain.asc --cell-size 0.5 --min-count 3

  # Standard-mode derivation, skipping artifact cropping
  canopy run --cloud parcel7.xyz --reference terrain.asc --mode standard

  # Inspect what a cloud has cached
  canopy artifacts --cloud-id parcel7

  # Export the derived raster as an ESRI ASCII grid
  canopy export --cloud-id parcel7 --kind derived/subtract --cell-size 0.5 --min-count 3 --out ./out

  # Render the report for the most recent run
  canopy report --cloud-id parcel7 --out report.html`)
}
