// Package sector partitions a fixed-size playfield into a grid of square
// cells. Cell ids order deterministically and serve as actor identities for
// spatially partitioned entities. All geometry is integer arithmetic so
// results are identical across platforms.
package sector

import "fmt"

// Point is a position in world units with the origin at the grid center.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ID names one grid cell by column and row, both zero-based from the
// bottom-left corner.
type ID struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// Less orders ids row-major so grid iteration and sorted-map iteration
// agree.
func (id ID) Less(other ID) bool {
	if id.Row != other.Row {
		return id.Row < other.Row
	}
	return id.Col < other.Col
}

// Grid describes the playfield partition: Cols x Rows square cells of
// Scale world units each, centered on the origin.
type Grid struct {
	Cols  int
	Rows  int
	Scale int
}

// NewGrid constructs a grid. Dimensions and scale must be positive.
func NewGrid(cols, rows, scale int) Grid {
	if cols < 1 || rows < 1 || scale < 1 {
		panic(fmt.Sprintf("sector: invalid grid %dx%d scale %d", cols, rows, scale))
	}
	return Grid{Cols: cols, Rows: rows, Scale: scale}
}

// Contains reports whether id names a cell inside the grid.
func (g Grid) Contains(id ID) bool {
	return id.Col >= 0 && id.Col < g.Cols && id.Row >= 0 && id.Row < g.Rows
}

// Index returns the dense row-major index of id.
func (g Grid) Index(id ID) int {
	return id.Row*g.Cols + id.Col
}

// Cells returns the total cell count.
func (g Grid) Cells() int {
	return g.Cols * g.Rows
}

// floorDiv is integer division rounding toward negative infinity, so the
// point-to-cell mapping has no seam at the origin.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// cellOf maps a point to unclamped cell coordinates.
func (g Grid) cellOf(p Point) ID {
	return ID{
		Col: floorDiv(p.X+g.Cols*g.Scale/2, g.Scale),
		Row: floorDiv(p.Y+g.Rows*g.Scale/2, g.Scale),
	}
}

// CellAt maps a point to its containing cell, failing for points outside
// the grid.
func (g Grid) CellAt(p Point) (ID, bool) {
	id := g.cellOf(p)
	return id, g.Contains(id)
}

// CellClamped maps a point to its containing cell, saturating at the grid
// edges for points outside.
func (g Grid) CellClamped(p Point) ID {
	id := g.cellOf(p)
	if id.Col < 0 {
		id.Col = 0
	} else if id.Col >= g.Cols {
		id.Col = g.Cols - 1
	}
	if id.Row < 0 {
		id.Row = 0
	} else if id.Row >= g.Rows {
		id.Row = g.Rows - 1
	}
	return id
}

// BottomLeft returns the minimum corner of a cell.
func (g Grid) BottomLeft(id ID) Point {
	return Point{
		X: id.Col*g.Scale - g.Cols*g.Scale/2,
		Y: id.Row*g.Scale - g.Rows*g.Scale/2,
	}
}

// TopRight returns the maximum corner of a cell.
func (g Grid) TopRight(id ID) Point {
	bl := g.BottomLeft(id)
	return Point{X: bl.X + g.Scale, Y: bl.Y + g.Scale}
}

// Center returns the midpoint of a cell.
func (g Grid) Center(id ID) Point {
	bl := g.BottomLeft(id)
	return Point{X: bl.X + g.Scale/2, Y: bl.Y + g.Scale/2}
}

var (
	offsets4 = [4]ID{{Col: 0, Row: 1}, {Col: -1, Row: 0}, {Col: 1, Row: 0}, {Col: 0, Row: -1}}
	offsets8 = [8]ID{
		{Col: -1, Row: 1}, {Col: 0, Row: 1}, {Col: 1, Row: 1},
		{Col: -1, Row: 0}, {Col: 1, Row: 0},
		{Col: -1, Row: -1}, {Col: 0, Row: -1}, {Col: 1, Row: -1},
	}
)

// Neighbors4 visits the in-grid orthogonal neighbors of id. Return false
// from fn to stop early.
func (g Grid) Neighbors4(id ID, fn func(ID) bool) {
	g.visit(id, offsets4[:], fn)
}

// Neighbors8 visits the in-grid orthogonal and diagonal neighbors of id.
func (g Grid) Neighbors8(id ID, fn func(ID) bool) {
	g.visit(id, offsets8[:], fn)
}

func (g Grid) visit(id ID, offsets []ID, fn func(ID) bool) {
	for _, off := range offsets {
		n := ID{Col: id.Col + off.Col, Row: id.Row + off.Row}
		if !g.Contains(n) {
			continue
		}
		if !fn(n) {
			return
		}
	}
}

// Coverage classifies a cell's overlap with a query circle.
type Coverage int

const (
	// Inside means the whole cell lies within the circle; entities in it
	// need no per-entity distance check.
	Inside Coverage = iota
	// Boundary means the cell straddles the circle edge; entities in it
	// must be distance-checked individually.
	Boundary
)

// InRadius visits every cell overlapping the circle of the given radius
// around center. Candidates are bounded by the enclosing square of cells,
// then refined exactly: cells fully outside are skipped, cells fully
// inside report Inside, and edge cells report Boundary. Return false from
// fn to stop early.
func (g Grid) InRadius(center Point, radius int, fn func(ID, Coverage) bool) {
	if radius < 0 {
		return
	}
	// The bound is one unit slack on each side so circles tangent to a
	// cell edge still reach that cell; the exact per-cell test below
	// filters anything the slack lets through.
	lo := g.CellClamped(Point{X: center.X - radius - 1, Y: center.Y - radius - 1})
	hi := g.CellClamped(Point{X: center.X + radius + 1, Y: center.Y + radius + 1})
	rr := int64(radius) * int64(radius)

	for row := lo.Row; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			id := ID{Col: col, Row: row}
			near, far := g.cellDistances(id, center)
			if near > rr {
				continue
			}
			cov := Boundary
			if far <= rr {
				cov = Inside
			}
			if !fn(id, cov) {
				return
			}
		}
	}
}

// cellDistances returns the squared distances from p to the nearest and
// farthest points of the cell.
func (g Grid) cellDistances(id ID, p Point) (near, far int64) {
	bl := g.BottomLeft(id)
	tr := g.TopRight(id)

	nearAxis := func(v, lo, hi int) int64 {
		if v < lo {
			return int64(lo - v)
		}
		if v > hi {
			return int64(v - hi)
		}
		return 0
	}
	farAxis := func(v, lo, hi int) int64 {
		a := int64(v - lo)
		if a < 0 {
			a = -a
		}
		b := int64(hi - v)
		if b < 0 {
			b = -b
		}
		if a > b {
			return a
		}
		return b
	}

	nx := nearAxis(p.X, bl.X, tr.X)
	ny := nearAxis(p.Y, bl.Y, tr.Y)
	fx := farAxis(p.X, bl.X, tr.X)
	fy := farAxis(p.Y, bl.Y, tr.Y)
	return nx*nx + ny*ny, fx*fx + fy*fy
}
