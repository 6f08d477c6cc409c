// Package grid holds the immutable map of the run and the path graph derived from it.
package grid

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadLayout = errors.New("grid: bad layout")

// Grid is a rectangular array of cells with fixed dimensions.
// It is immutable after construction and safe for concurrent readers.
type Grid struct {
	rows  int
	cols  int
	cells []Cell

	graph *Graph
}

// New builds a rows x cols grid, asking typeAt for every cell type.
func New(rows, cols int, typeAt func(Pos) CellType) (*Grid, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: rows=%d cols=%d", ErrBadLayout, rows, cols)
	}
	g := &Grid{rows: rows, cols: cols, cells: make([]Cell, 0, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			p := Pos{Row: r, Col: c}
			g.cells = append(g.cells, Cell{Pos: p, Type: typeAt(p)})
		}
	}
	g.graph = BuildGraph(g)
	return g, nil
}

// ParseLayout builds a grid from one string per row using the cell legend
// (P or . path, B building, F field, # obstacle, M manufacturing center).
func ParseLayout(lines []string) (*Grid, error) {
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		rows = append(rows, l)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadLayout)
	}
	cols := len(rows[0])
	for i, l := range rows {
		if len(l) != cols {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrBadLayout, i, len(l), cols)
		}
		for j := 0; j < len(l); j++ {
			if _, ok := legend[l[j]]; !ok {
				return nil, fmt.Errorf("%w: unknown symbol %q at (%d,%d)", ErrBadLayout, l[j], i, j)
			}
		}
	}
	return New(len(rows), cols, func(p Pos) CellType {
		return legend[rows[p.Row][p.Col]]
	})
}

func (g *Grid) Rows() int { return g.rows }
func (g *Grid) Cols() int { return g.cols }

func (g *Grid) InBounds(p Pos) bool {
	return p.Row >= 0 && p.Row < g.rows && p.Col >= 0 && p.Col < g.cols
}

func (g *Grid) At(p Pos) (Cell, bool) {
	if !g.InBounds(p) {
		return Cell{}, false
	}
	return g.cells[p.Row*g.cols+p.Col], true
}

// Cells returns all cells in row-major order.
func (g *Grid) Cells() []Cell {
	out := make([]Cell, len(g.cells))
	copy(out, g.cells)
	return out
}

func (g *Grid) CellsOfType(t CellType) []Cell {
	var out []Cell
	for _, c := range g.cells {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// orthogonal offsets: up, down, left, right.
var offsets = [4]Pos{{Row: -1}, {Row: 1}, {Col: -1}, {Col: 1}}

// NeighborsOf returns the in-bounds orthogonal neighbours of p. Diagonals are never included.
func (g *Grid) NeighborsOf(p Pos) []Cell {
	out := make([]Cell, 0, 4)
	for _, d := range offsets {
		n := Pos{Row: p.Row + d.Row, Col: p.Col + d.Col}
		if c, ok := g.At(n); ok {
			out = append(out, c)
		}
	}
	return out
}

// PathNeighborsOf is NeighborsOf restricted to path cells.
func (g *Grid) PathNeighborsOf(p Pos) []Cell {
	out := make([]Cell, 0, 4)
	for _, c := range g.NeighborsOf(p) {
		if c.IsPath() {
			out = append(out, c)
		}
	}
	return out
}

// Graph returns the path graph computed when the grid was built.
func (g *Grid) Graph() *Graph { return g.graph }

// Layout encodes the grid back into legend rows.
func (g *Grid) Layout() []string {
	out := make([]string, 0, g.rows)
	buf := make([]byte, g.cols)
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			buf[c] = symbolFor(g.cells[r*g.cols+c].Type)
		}
		out = append(out, string(buf))
	}
	return out
}
