package grid

// Vertex wraps one cell; identity is the cell position.
type Vertex struct {
	Cell Cell
}

// Edge is a directed, unit-weight connection between two adjacent path cells.
type Edge struct {
	From   Pos
	To     Pos
	Weight int
}

// Graph is the movement graph of a grid: one vertex per cell, edges only
// between orthogonally adjacent path cells (one edge per direction).
type Graph struct {
	vertices []Vertex
	edges    []Edge
	index    map[Pos]int
	adj      map[Pos][]Pos
}

// BuildGraph derives the graph from g. Vertices are in row-major order and
// edges follow the NeighborsOf order of each source cell.
func BuildGraph(g *Grid) *Graph {
	gr := &Graph{
		vertices: make([]Vertex, 0, len(g.cells)),
		index:    make(map[Pos]int, len(g.cells)),
		adj:      map[Pos][]Pos{},
	}
	for _, c := range g.cells {
		gr.index[c.Pos] = len(gr.vertices)
		gr.vertices = append(gr.vertices, Vertex{Cell: c})
	}
	for _, v := range gr.vertices {
		if !v.Cell.IsPath() {
			continue
		}
		for _, n := range g.PathNeighborsOf(v.Cell.Pos) {
			gr.edges = append(gr.edges, Edge{From: v.Cell.Pos, To: n.Pos, Weight: 1})
			gr.adj[v.Cell.Pos] = append(gr.adj[v.Cell.Pos], n.Pos)
		}
	}
	return gr
}

func (gr *Graph) VertexCount() int { return len(gr.vertices) }
func (gr *Graph) EdgeCount() int   { return len(gr.edges) }

func (gr *Graph) Vertices() []Vertex {
	out := make([]Vertex, len(gr.vertices))
	copy(out, gr.vertices)
	return out
}

func (gr *Graph) Edges() []Edge {
	out := make([]Edge, len(gr.edges))
	copy(out, gr.edges)
	return out
}

func (gr *Graph) HasVertex(p Pos) bool {
	_, ok := gr.index[p]
	return ok
}

// Adjacent reports whether there is an edge a -> b.
func (gr *Graph) Adjacent(a, b Pos) bool {
	for _, n := range gr.adj[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Neighbors returns the edge targets of p.
func (gr *Graph) Neighbors(p Pos) []Pos {
	ns := gr.adj[p]
	out := make([]Pos, len(ns))
	copy(out, ns)
	return out
}
