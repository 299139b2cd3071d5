package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/overstory-data/canopy.report/internal/geo"
)

// ascNoData substitutes for a NaN sentinel on write; the format requires a
// literal number in the NODATA_value header.
const ascNoData = -9999.0

// WriteASC writes the raster as an ESRI ASCII grid. Rows are emitted north to
// south per the format, so storage row Rows-1 comes first. Values use the
// shortest exact decimal form: the valid plane round-trips bit-identical, and
// a NaN nodata sentinel maps to -9999 (documented codec fidelity).
func WriteASC(w io.Writer, r *Raster) error {
	if r.Cols <= 0 || r.Rows <= 0 {
		return fmt.Errorf("raster: cannot write empty %dx%d grid", r.Cols, r.Rows)
	}
	nodata := r.NoData
	if math.IsNaN(nodata) {
		nodata = ascNoData
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", r.Cols)
	fmt.Fprintf(bw, "nrows %d\n", r.Rows)
	fmt.Fprintf(bw, "xllcorner %s\n", formatASCFloat(r.Transform.OriginX))
	fmt.Fprintf(bw, "yllcorner %s\n", formatASCFloat(r.Transform.OriginY))
	fmt.Fprintf(bw, "cellsize %s\n", formatASCFloat(r.Transform.CellSize))
	fmt.Fprintf(bw, "NODATA_value %s\n", formatASCFloat(nodata))
	for row := r.Rows - 1; row >= 0; row-- {
		for col := 0; col < r.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			v := r.At(col, row)
			if r.IsNoData(v) {
				bw.WriteString(formatASCFloat(nodata))
			} else {
				bw.WriteString(formatASCFloat(v))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func formatASCFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadASC parses an ESRI ASCII grid. The format carries no CRS, so the caller
// supplies one (zero CRS is accepted).
func ReadASC(rd io.Reader, crs geo.CRS) (*Raster, error) {
	sc := bufio.NewScanner(rd)
	sc.Split(bufio.ScanWords)
	next := func() (string, bool) {
		if sc.Scan() {
			return sc.Text(), true
		}
		return "", false
	}

	header := make(map[string]float64)
	var pending string
	for {
		tok, ok := next()
		if !ok {
			return nil, fmt.Errorf("raster: asc input ends inside header")
		}
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			pending = tok
			break
		}
		key := strings.ToLower(tok)
		switch key {
		case "ncols", "nrows", "xllcorner", "yllcorner", "cellsize", "nodata_value":
		default:
			return nil, fmt.Errorf("raster: unsupported asc header key %q", tok)
		}
		valTok, ok := next()
		if !ok {
			return nil, fmt.Errorf("raster: missing value for asc header %q", tok)
		}
		v, err := strconv.ParseFloat(valTok, 64)
		if err != nil {
			return nil, fmt.Errorf("raster: asc header %s: %w", tok, err)
		}
		header[key] = v
	}

	for _, required := range []string{"ncols", "nrows", "xllcorner", "yllcorner", "cellsize"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("raster: asc header missing %s", required)
		}
	}
	cols := int(header["ncols"])
	rows := int(header["nrows"])
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("raster: invalid asc dimensions %dx%d", cols, rows)
	}
	cellSize := header["cellsize"]
	if cellSize <= 0 {
		return nil, fmt.Errorf("raster: invalid asc cellsize %v", cellSize)
	}
	nodata := math.NaN()
	if v, ok := header["nodata_value"]; ok {
		nodata = v
	}

	r := &Raster{
		Layout: Layout{
			Cols: cols,
			Rows: rows,
			Transform: geo.GridTransform{
				OriginX:  header["xllcorner"],
				OriginY:  header["yllcorner"],
				CellSize: cellSize,
			},
			CRS: crs,
		},
		NoData: nodata,
		Values: make([]float64, cols*rows),
	}

	total := cols * rows
	for i := 0; i < total; i++ {
		tok := pending
		if i > 0 {
			var ok bool
			tok, ok = next()
			if !ok {
				return nil, fmt.Errorf("raster: asc data truncated at value %d of %d", i, total)
			}
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("raster: asc value %d: %w", i, err)
		}
		// Stream order is north to south; storage rows grow south to north.
		row := rows - 1 - i/cols
		col := i % cols
		r.Values[r.Idx(col, row)] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("raster: reading asc: %w", err)
	}
	return r, nil
}
