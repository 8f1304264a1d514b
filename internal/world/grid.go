// Package world generates synthetic precinct landscapes: a square grid of
// precincts grouped into rectangular counties and striped districts, with
// population density and partisan lean drawn from layered simplex noise.
package world

import "fmt"

// Coord is a column/row position on the precinct grid.
type Coord struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// Neighbors returns the four rook-adjacent coordinates.
func (c Coord) Neighbors() [4]Coord {
	return [4]Coord{
		{c.Col + 1, c.Row}, {c.Col - 1, c.Row},
		{c.Col, c.Row + 1}, {c.Col, c.Row - 1},
	}
}

// Distance returns the Chebyshev distance between two coordinates.
func Distance(a, b Coord) int {
	dc, dr := a.Col-b.Col, a.Row-b.Row
	if dc < 0 {
		dc = -dc
	}
	if dr < 0 {
		dr = -dr
	}
	if dc > dr {
		return dc
	}
	return dr
}

// Cell is one generated precinct.
type Cell struct {
	Coord      Coord
	Density    float64 // 0 rural … 1 urban core
	Lean       float64 // Red two-party share
	Population int
	Red        int
	Blue       int
}

// ID returns the precinct id of the cell.
func (c *Cell) ID() string {
	return fmt.Sprintf("P%03d%03d", c.Coord.Col, c.Coord.Row)
}

// Grid holds every generated cell.
type Grid struct {
	Cols, Rows int
	Cells      map[Coord]*Cell
}

// NewGrid creates an empty grid.
func NewGrid(cols, rows int) *Grid {
	return &Grid{Cols: cols, Rows: rows, Cells: make(map[Coord]*Cell, cols*rows)}
}

// Get returns the cell at c, or nil when out of bounds.
func (g *Grid) Get(c Coord) *Cell {
	return g.Cells[c]
}

// Set places a cell.
func (g *Grid) Set(cell *Cell) {
	g.Cells[cell.Coord] = cell
}

// InBounds reports whether c lies on the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.Col >= 0 && c.Col < g.Cols && c.Row >= 0 && c.Row < g.Rows
}

// SnakeOrder lists coordinates column by column, alternating direction, so
// consecutive coordinates are always adjacent.
func (g *Grid) SnakeOrder() []Coord {
	out := make([]Coord, 0, g.Cols*g.Rows)
	for col := 0; col < g.Cols; col++ {
		for i := 0; i < g.Rows; i++ {
			row := i
			if col%2 == 1 {
				row = g.Rows - 1 - i
			}
			out = append(out, Coord{col, row})
		}
	}
	return out
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, cells=%d)", g.Cols, g.Rows, len(g.Cells))
}
