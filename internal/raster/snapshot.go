package raster

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// SnapshotFormat versions the gob+gzip artifact payloads. Bump on any layout
// or field change so stale store rows fail loudly instead of decoding wrong.
const SnapshotFormat = 1

type countGridSnapshot struct {
	Format int
	Layout Layout
	Counts []uint32
}

type maskSnapshot struct {
	Format int
	Layout Layout
	Valid  []bool
}

type rasterSnapshot struct {
	Format int
	Layout Layout
	NoData float64
	Values []float64
}

// encodeSnapshot compresses a snapshot envelope using gob encoding and gzip.
func encodeSnapshot(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeSnapshot decompresses and decodes a snapshot envelope.
func decodeSnapshot(blob []byte, v interface{}) error {
	if len(blob) == 0 {
		return fmt.Errorf("raster: empty snapshot blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("raster: gzip reader: %w", err)
	}
	defer gz.Close()
	if err := gob.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("raster: decode snapshot: %w", err)
	}
	return nil
}

// EncodeCountGrid serializes a density grid for artifact storage.
func EncodeCountGrid(g *CountGrid) ([]byte, error) {
	return encodeSnapshot(countGridSnapshot{Format: SnapshotFormat, Layout: g.Layout, Counts: g.Counts})
}

// DecodeCountGrid restores a density grid from an artifact payload.
func DecodeCountGrid(blob []byte) (*CountGrid, error) {
	var s countGridSnapshot
	if err := decodeSnapshot(blob, &s); err != nil {
		return nil, err
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("raster: unsupported count grid snapshot format %d", s.Format)
	}
	return &CountGrid{Layout: s.Layout, Counts: s.Counts}, nil
}

// EncodeMask serializes a validity mask for artifact storage.
func EncodeMask(m *Mask) ([]byte, error) {
	return encodeSnapshot(maskSnapshot{Format: SnapshotFormat, Layout: m.Layout, Valid: m.Valid})
}

// DecodeMask restores a validity mask from an artifact payload.
func DecodeMask(blob []byte) (*Mask, error) {
	var s maskSnapshot
	if err := decodeSnapshot(blob, &s); err != nil {
		return nil, err
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("raster: unsupported mask snapshot format %d", s.Format)
	}
	return &Mask{Layout: s.Layout, Valid: s.Valid}, nil
}

// EncodeRaster serializes a float raster for artifact storage. NaN values
// survive gob round trips, so the nodata plane is preserved exactly.
func EncodeRaster(r *Raster) ([]byte, error) {
	return encodeSnapshot(rasterSnapshot{Format: SnapshotFormat, Layout: r.Layout, NoData: r.NoData, Values: r.Values})
}

// DecodeRaster restores a float raster from an artifact payload.
func DecodeRaster(blob []byte) (*Raster, error) {
	var s rasterSnapshot
	if err := decodeSnapshot(blob, &s); err != nil {
		return nil, err
	}
	if s.Format != SnapshotFormat {
		return nil, fmt.Errorf("raster: unsupported raster snapshot format %d", s.Format)
	}
	return &Raster{Layout: s.Layout, NoData: s.NoData, Values: s.Values}, nil
}
