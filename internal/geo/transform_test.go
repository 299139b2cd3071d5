package geo

import (
	"math"
	"testing"
)

func TestSnapOrigin(t *testing.T) {
	tests := []struct {
		minX, minY, cellSize float64
		wantX, wantY         float64
	}{
		{3.7, 10.2, 0.5, 3.5, 10.0},
		{-3.7, -0.1, 0.5, -4.0, -0.5},
		{4.0, 8.0, 2.0, 4.0, 8.0},
		{0.0, 0.0, 1.0, 0.0, 0.0},
		{99.99, 100.01, 10.0, 90.0, 100.0},
	}

	for _, tt := range tests {
		got := SnapOrigin(tt.minX, tt.minY, tt.cellSize)
		if got.OriginX != tt.wantX || got.OriginY != tt.wantY {
			t.Errorf("SnapOrigin(%v,%v,%v) = (%v,%v), want (%v,%v)",
				tt.minX, tt.minY, tt.cellSize, got.OriginX, got.OriginY, tt.wantX, tt.wantY)
		}
		if got.CellSize != tt.cellSize {
			t.Errorf("cell size %v, want %v", got.CellSize, tt.cellSize)
		}
	}
}

func TestGridTransform_Cell_HalfOpen(t *testing.T) {
	tr := GridTransform{OriginX: 10, OriginY: 20, CellSize: 2}

	tests := []struct {
		x, y     float64
		col, row int
	}{
		{10, 20, 0, 0},
		{11.999, 21.999, 0, 0},
		{12, 22, 1, 1}, // exactly on the shared edge lands in the higher cell
		{10, 22, 0, 1},
		{9.999, 20, -1, 0},
		{16.5, 25.5, 3, 2},
	}

	for _, tt := range tests {
		col, row := tr.Cell(tt.x, tt.y)
		if col != tt.col || row != tt.row {
			t.Errorf("Cell(%v,%v) = (%d,%d), want (%d,%d)", tt.x, tt.y, col, row, tt.col, tt.row)
		}
	}
}

func TestGridTransform_CellCorners(t *testing.T) {
	tr := GridTransform{OriginX: -4, OriginY: 6, CellSize: 0.5}

	x, y := tr.CellOrigin(3, 2)
	if x != -2.5 || y != 7.0 {
		t.Errorf("CellOrigin(3,2) = (%v,%v), want (-2.5,7)", x, y)
	}

	cx, cy := tr.CellCenter(0, 0)
	if cx != -3.75 || cy != 6.25 {
		t.Errorf("CellCenter(0,0) = (%v,%v), want (-3.75,6.25)", cx, cy)
	}

	// Center of any cell maps back into that cell.
	col, row := tr.Cell(tr.CellCenter(7, 9))
	if col != 7 || row != 9 {
		t.Errorf("center round trip = (%d,%d), want (7,9)", col, row)
	}
}

func TestGridTransform_Fractional(t *testing.T) {
	tr := GridTransform{OriginX: 100, OriginY: 200, CellSize: 4}

	fc, fr := tr.Fractional(tr.CellCenter(2, 5))
	if math.Abs(fc-2) > 1e-12 || math.Abs(fr-5) > 1e-12 {
		t.Errorf("Fractional(center(2,5)) = (%v,%v), want (2,5)", fc, fr)
	}

	// Halfway between two cell centers.
	fc, _ = tr.Fractional(100+3*4, 200)
	if math.Abs(fc-2.5) > 1e-12 {
		t.Errorf("fractional col = %v, want 2.5", fc)
	}
}

func TestGridTransform_Bounds(t *testing.T) {
	tr := GridTransform{OriginX: 1, OriginY: 2, CellSize: 0.25}
	b := tr.Bounds(8, 4)
	if b.Min.X != 1 || b.Min.Y != 2 || b.Max.X != 3 || b.Max.Y != 3 {
		t.Errorf("Bounds = %+v, want min(1,2) max(3,3)", b)
	}
}

func TestGridTransform_AlignedOffset(t *testing.T) {
	base := GridTransform{OriginX: 0, OriginY: 0, CellSize: 2}

	tests := []struct {
		name   string
		other  GridTransform
		col    int
		row    int
		wantOK bool
	}{
		{"whole cells", GridTransform{OriginX: 6, OriginY: -4, CellSize: 2}, 3, -2, true},
		{"identity", GridTransform{OriginX: 0, OriginY: 0, CellSize: 2}, 0, 0, true},
		{"fractional offset", GridTransform{OriginX: 1, OriginY: 0, CellSize: 2}, 0, 0, false},
		{"different cell size", GridTransform{OriginX: 6, OriginY: -4, CellSize: 1}, 0, 0, false},
	}

	for _, tt := range tests {
		col, row, ok := base.AlignedOffset(tt.other, 1e-9)
		if ok != tt.wantOK {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && (col != tt.col || row != tt.row) {
			t.Errorf("%s: offset = (%d,%d), want (%d,%d)", tt.name, col, row, tt.col, tt.row)
		}
	}
}
