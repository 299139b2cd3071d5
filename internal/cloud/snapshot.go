package cloud

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/overstory-data/canopy.report/internal/geo"
)

// SnapshotFormat versions the gob+gzip cloud payloads stored as artifacts.
// Bump on any Point field change so stale store rows fail loudly instead of
// decoding wrong.
const SnapshotFormat = 1

type cloudSnapshot struct {
	Format int
	CRS    geo.CRS
	Points []Point
}

// EncodePointCloud serializes a cloud for artifact storage.
func EncodePointCloud(pc *PointCloud) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(cloudSnapshot{Format: SnapshotFormat, CRS: pc.CRS, Points: pc.Points}); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePointCloud restores a cloud from an artifact payload.
func DecodePointCloud(blob []byte) (*PointCloud, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("cloud: empty snapshot blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("cloud: gzip reader: %w", err)
	}
	defer gz.Close()
	var s cloudSnapshot
	if err := gob.NewDecoder(gz).Decode(&s); err != nil {
		return nil, fmt.Errorf("cloud: decode snapshot: %w", err)
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("cloud: unsupported snapshot format %d", s.Format)
	}
	return &PointCloud{CRS: s.CRS, Points: s.Points}, nil
}
