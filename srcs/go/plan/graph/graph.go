package graph

import (
	"bytes"
	"fmt"
	"sort"
)

type Vertices []int

func (vs *Vertices) Append(v int) {
	*vs = append(*vs, v)
}

type Node struct {
	ID    int
	Prevs Vertices
	Nexts Vertices
}

func (n *Node) isIsolated() bool {
	return len(n.Prevs) == 0 && len(n.Nexts) == 0
}

// Graph is a directed graph over vertices numbered from 0 to n - 1.
type Graph struct {
	Nodes []Node
}

func New(n int) *Graph {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i].ID = i
	}
	return &Graph{Nodes: nodes}
}

// FromRing builds the directed ring order[0] -> order[1] -> ... -> order[0]
// over n vertices. It returns false if order is not a permutation of a
// subset of [0, n).
func FromRing(n int, order []int) (*Graph, bool) {
	g := New(n)
	seen := make(map[int]struct{})
	for _, v := range order {
		if v < 0 || v >= n {
			return nil, false
		}
		if _, ok := seen[v]; ok {
			return nil, false
		}
		seen[v] = struct{}{}
	}
	if k := len(order); k > 1 {
		for i, v := range order {
			g.AddEdge(v, order[(i+1)%k])
		}
	}
	return g, true
}

// AddEdge adds i -> j. Self loops and repeated edges are ignored.
func (g *Graph) AddEdge(i, j int) {
	if i == j || g.HasEdge(i, j) {
		return
	}
	g.Nodes[i].Nexts.Append(j)
	g.Nodes[j].Prevs.Append(i)
}

// AddUndirected adds both i -> j and j -> i.
func (g *Graph) AddUndirected(i, j int) {
	g.AddEdge(i, j)
	g.AddEdge(j, i)
}

func (g Graph) HasEdge(i, j int) bool {
	for _, k := range g.Nodes[i].Nexts {
		if k == j {
			return true
		}
	}
	return false
}

func (g Graph) IsIsolated(i int) bool {
	return g.Nodes[i].isIsolated()
}

func (g Graph) Prevs(i int) []int {
	return g.Nodes[i].Prevs
}

func (g Graph) Nexts(i int) []int {
	return g.Nodes[i].Nexts
}

func (g Graph) EdgeCount() int {
	var n int
	for _, node := range g.Nodes {
		n += len(node.Nexts)
	}
	return n
}

// Component returns the vertices reachable from v following out edges,
// including v itself, in ascending order.
func (g Graph) Component(v int) []int {
	visited := map[int]struct{}{v: {}}
	queue := []int{v}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, w := range g.Nodes[u].Nexts {
			if _, ok := visited[w]; !ok {
				visited[w] = struct{}{}
				queue = append(queue, w)
			}
		}
	}
	var vs []int
	for u := range visited {
		vs = append(vs, u)
	}
	sort.Ints(vs)
	return vs
}

// IsComplete reports whether every ordered pair of distinct vertices in vs
// is connected by an edge.
func (g Graph) IsComplete(vs []int) bool {
	for _, i := range vs {
		for _, j := range vs {
			if i != j && !g.HasEdge(i, j) {
				return false
			}
		}
	}
	return true
}

func (g Graph) Reverse() *Graph {
	r := New(len(g.Nodes))
	for i, n := range g.Nodes {
		for _, j := range n.Nexts {
			r.AddEdge(j, i)
		}
	}
	return r
}

func (g *Graph) DebugString() string {
	b := &bytes.Buffer{}
	fmt.Fprintf(b, "[%d]{", len(g.Nodes))
	for i, n := range g.Nodes {
		for _, j := range n.Nexts {
			fmt.Fprintf(b, "(%d->%d)", i, j)
		}
	}
	fmt.Fprintf(b, "}")
	return b.String()
}
