package cloud

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/overstory-data/canopy.report/internal/fsutil"
	"github.com/overstory-data/canopy.report/internal/geo"
)

// WriteXYZ writes the cloud as whitespace-separated text, one point per line.
// Header comments carry the CRS so the file reads back with it. Coordinates
// use the shortest exact decimal form.
func WriteXYZ(w io.Writer, pc *PointCloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# canopy.report point cloud\n")
	if pc.CRS.Code != "" {
		fmt.Fprintf(bw, "# CRS %s\n", pc.CRS.Code)
	}
	if pc.CRS.Proj4 != "" {
		fmt.Fprintf(bw, "# Proj4 %s\n", pc.CRS.Proj4)
	}
	fmt.Fprintf(bw, "# Format: x y z intensity classification gpstime\n")
	for i := range pc.Points {
		p := &pc.Points[i]
		fmt.Fprintf(bw, "%s %s %s %d %d %s\n",
			formatCoord(p.X), formatCoord(p.Y), formatCoord(p.Z),
			p.Intensity, p.Classification, formatCoord(p.GPSTime))
	}
	return bw.Flush()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadXYZ parses the text form. Data rows need at least x y z and may carry
// intensity, classification and gpstime columns; comma separators are
// accepted. The CRS comes from the header comments when present, otherwise
// the cloud reads back with a zero CRS for the caller to fill.
func ReadXYZ(r io.Reader) (*PointCloud, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pc := &PointCloud{}
	var code, proj4 string
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			meta := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if v, ok := cutPrefixFold(meta, "crs "); ok {
				code = strings.TrimSpace(v)
			} else if v, ok := cutPrefixFold(meta, "proj4 "); ok {
				proj4 = strings.TrimSpace(v)
			}
			continue
		}

		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) < 3 {
			return nil, fmt.Errorf("cloud: line %d: need at least x y z, got %d fields", lineNo, len(fields))
		}
		var p Point
		var err error
		if p.X, err = strconv.ParseFloat(fields[0], 64); err != nil {
			return nil, fmt.Errorf("cloud: line %d x: %w", lineNo, err)
		}
		if p.Y, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return nil, fmt.Errorf("cloud: line %d y: %w", lineNo, err)
		}
		if p.Z, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return nil, fmt.Errorf("cloud: line %d z: %w", lineNo, err)
		}
		if len(fields) > 3 {
			u, err := strconv.ParseUint(fields[3], 10, 16)
			if err != nil {
				return nil, fmt.Errorf("cloud: line %d intensity: %w", lineNo, err)
			}
			p.Intensity = uint16(u)
		}
		if len(fields) > 4 {
			u, err := strconv.ParseUint(fields[4], 10, 8)
			if err != nil {
				return nil, fmt.Errorf("cloud: line %d classification: %w", lineNo, err)
			}
			p.Classification = uint8(u)
		}
		if len(fields) > 5 {
			if p.GPSTime, err = strconv.ParseFloat(fields[5], 64); err != nil {
				return nil, fmt.Errorf("cloud: line %d gpstime: %w", lineNo, err)
			}
		}
		pc.Points = append(pc.Points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cloud: reading xyz: %w", err)
	}

	switch {
	case code != "" && proj4 != "":
		pc.CRS = geo.FromProj4(code, proj4)
	case code != "":
		if crs, ok := geo.Lookup(code); ok {
			pc.CRS = crs
		} else {
			pc.CRS = geo.CRS{Code: code}
		}
	case proj4 != "":
		pc.CRS = geo.FromProj4("", proj4)
	}
	return pc, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// ReadXYZFile opens and parses path, transparently decompressing .gz files.
func ReadXYZFile(fsys fsutil.FileSystem, path string) (*PointCloud, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cloud: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("cloud: gunzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	return ReadXYZ(r)
}

// WriteXYZFile writes the cloud to path, gzip-compressing .gz targets.
func WriteXYZFile(fsys fsutil.FileSystem, path string, pc *PointCloud) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("cloud: create %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		if err := WriteXYZ(gz, pc); err != nil {
			gz.Close()
			f.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := WriteXYZ(f, pc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
