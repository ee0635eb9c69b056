package topology

import (
	"errors"
	"fmt"

	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

var ErrNode = errors.New("topology: node index out of range")

// Graph is an undirected adjacency list over 0-based bus indices.
type Graph struct {
	adjacencyList map[int][]int
	n             int
}

// New returns a graph of n buses and no edges.
func New(n int) Graph {
	al := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		al[i] = make([]int, 0)
	}
	return Graph{al, n}
}

// FromBranches builds the graph of an n bus system from 1-based branch records.
func FromBranches(n int, branches []ybus.Branch) (Graph, error) {
	g := New(n)
	for _, b := range branches {
		f, err := ybus.Index(b.From)
		if err != nil {
			return Graph{}, err
		}
		t, err := ybus.Index(b.To)
		if err != nil {
			return Graph{}, err
		}
		if err := g.AddEdge(f, t); err != nil {
			return Graph{}, err
		}
	}
	return g, nil
}

// Len is the number of buses in the graph.
func (g Graph) Len() int {
	return g.n
}

// AddEdge connects two buses in both directions.
func (g *Graph) AddEdge(i, j int) error {
	if !g.has(i) {
		return fmt.Errorf("%w: start node %d of %d", ErrNode, i, g.n)
	}
	if !g.has(j) {
		return fmt.Errorf("%w: end node %d of %d", ErrNode, j, g.n)
	}
	g.adjacencyList[i] = append(g.adjacencyList[i], j)
	g.adjacencyList[j] = append(g.adjacencyList[j], i)
	return nil
}

// Edges returns the neighbours of node i.
func (g Graph) Edges(i int) []int {
	if edges, exists := g.adjacencyList[i]; exists {
		return edges
	}
	return make([]int, 0)
}

// Islanded returns, in ascending order, every bus with no path to the slack.
func (g Graph) Islanded(slack int) ([]int, error) {
	if !g.has(slack) {
		return nil, fmt.Errorf("%w: slack %d of %d", ErrNode, slack, g.n)
	}

	visited := make([]bool, g.n)
	visited[slack] = true
	queue := []int{slack}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range g.adjacencyList[node] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	islanded := make([]int, 0)
	for i, ok := range visited {
		if !ok {
			islanded = append(islanded, i)
		}
	}
	return islanded, nil
}

func (g Graph) has(i int) bool {
	return i >= 0 && i < g.n
}
