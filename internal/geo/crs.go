// Package geo provides coordinate reference system handling and the affine
// grid georeferencing shared by all raster products.
package geo

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ctessum/geom/proj"
)

// Proj4 definitions for the built-in systems. The mercator string matches the
// spatial reference commonly used for web map output.
const (
	longLatProj4     = "+proj=longlat +datum=WGS84 +no_defs"
	webMercatorProj4 = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"
)

// CRS identifies a coordinate reference system by a canonical code plus the
// proj4 definition used for transforms. The zero value means "no CRS".
type CRS struct {
	Code  string `json:"code,omitempty"`
	Proj4 string `json:"proj4,omitempty"`
}

// LongLat returns WGS84 geographic coordinates.
func LongLat() CRS { return CRS{Code: "EPSG:4326", Proj4: longLatProj4} }

// WebMercator returns the spherical mercator system used by web maps.
func WebMercator() CRS { return CRS{Code: "EPSG:3857", Proj4: webMercatorProj4} }

// FromProj4 builds a CRS from an arbitrary proj4 definition. Code may be
// empty for ad hoc local systems.
func FromProj4(code, proj4 string) CRS {
	return CRS{Code: code, Proj4: proj4}
}

// Lookup resolves a built-in CRS by code.
func Lookup(code string) (CRS, bool) {
	switch code {
	case "EPSG:4326":
		return LongLat(), true
	case "EPSG:3857":
		return WebMercator(), true
	}
	return CRS{}, false
}

// IsZero reports whether no CRS was set.
func (c CRS) IsZero() bool { return c.Code == "" && c.Proj4 == "" }

// Equal compares by code when both sides carry one, otherwise by normalized
// proj4 definition. Two zero CRS compare equal.
func (c CRS) Equal(o CRS) bool {
	if c.Code != "" && o.Code != "" {
		return c.Code == o.Code
	}
	return normalizeProj4(c.Proj4) == normalizeProj4(o.Proj4)
}

func (c CRS) String() string {
	if c.Code != "" {
		return c.Code
	}
	if c.Proj4 != "" {
		return c.Proj4
	}
	return "unset"
}

func normalizeProj4(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// srCache shares parsed spatial references across callers. Parsing is pure,
// so entries never invalidate.
var srCache = struct {
	sync.RWMutex
	byProj4 map[string]*proj.SR
}{byProj4: make(map[string]*proj.SR)}

// SR returns the parsed spatial reference for the CRS, caching the result.
func (c CRS) SR() (*proj.SR, error) {
	if c.Proj4 == "" {
		return nil, fmt.Errorf("geo: CRS %s has no proj4 definition", c)
	}
	key := normalizeProj4(c.Proj4)
	srCache.RLock()
	sr := srCache.byProj4[key]
	srCache.RUnlock()
	if sr != nil {
		return sr, nil
	}
	sr, err := proj.Parse(c.Proj4)
	if err != nil {
		return nil, fmt.Errorf("geo: parsing %s: %w", c, err)
	}
	srCache.Lock()
	srCache.byProj4[key] = sr
	srCache.Unlock()
	return sr, nil
}

// NewTransform returns a point transform from src to dst coordinates.
// Callers that already know src.Equal(dst) should skip the transform rather
// than round-trip through it.
func NewTransform(src, dst CRS) (proj.Transformer, error) {
	srcSR, err := src.SR()
	if err != nil {
		return nil, err
	}
	dstSR, err := dst.SR()
	if err != nil {
		return nil, err
	}
	t, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("geo: transform %s -> %s: %w", src, dst, err)
	}
	return t, nil
}
