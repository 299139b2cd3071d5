// Command cloudgen generates synthetic XYZ point clouds for testing the
// derivation pipeline: a smooth terrain surface with configurable point
// density, noise, and optional low-density voids that the artifact mask
// should catch.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/overstory-data/canopy.report/internal/cloud"
	"github.com/overstory-data/canopy.report/internal/geo"
)

func main() {
	output := flag.String("o", "sample.xyz", "output path")
	extent := flag.Float64("extent", 50, "square extent in meters")
	density := flag.Float64("density", 20, "mean points per square meter")
	baseZ := flag.Float64("base-z", 100, "base elevation")
	relief := flag.Float64("relief", 5, "terrain relief amplitude")
	noise := flag.Float64("noise", 0.05, "vertical noise sigma")
	voids := flag.Int("voids", 0, "number of low-density voids to punch")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	n := int(*extent * *extent * *density)

	type void struct{ x, y, r float64 }
	holes := make([]void, *voids)
	for i := range holes {
		holes[i] = void{
			x: rng.Float64() * *extent,
			y: rng.Float64() * *extent,
			r: *extent * (0.02 + 0.05*rng.Float64()),
		}
	}

	pc := &cloud.PointCloud{CRS: geo.WebMercator()}
	kept := 0
	for i := 0; i < n; i++ {
		x := rng.Float64() * *extent
		y := rng.Float64() * *extent

		// Voids keep roughly one point in twenty, enough to register
		// as cells below any sensible density threshold.
		inVoid := false
		for _, h := range holes {
			if math.Hypot(x-h.x, y-h.y) < h.r {
				inVoid = true
				break
			}
		}
		if inVoid && rng.Float64() > 0.05 {
			continue
		}

		z := *baseZ +
			*relief*math.Sin(x/(*extent)*2*math.Pi)*math.Cos(y/(*extent)*2*math.Pi) +
			rng.NormFloat64()**noise
		pc.Points = append(pc.Points, cloud.Point{
			X: x, Y: y, Z: z,
			Intensity:      uint16(rng.Intn(4096)),
			Classification: 2, // ground
			GPSTime:        float64(i) * 1e-4,
		})
		kept++
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()
	if err := cloud.WriteXYZ(f, pc); err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d points, %d voids)", *output, kept, len(holes))
}
