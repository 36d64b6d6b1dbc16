// Package scope models the family-assignment graph that limits what a
// delegated group admin may see and act on.
package scope

import (
	"context"
	"sort"

	"github.com/richardliu001/treasury-service/internal/model"
)

// Graph is an arena of user ids with responsible -> assigned edges.
type Graph struct {
	index map[uint64]int
	ids   []uint64
	edges map[int]map[int]struct{}
}

func NewGraph() *Graph {
	return &Graph{index: make(map[uint64]int), edges: make(map[int]map[int]struct{})}
}

func (g *Graph) node(id uint64) int {
	if n, ok := g.index[id]; ok {
		return n
	}
	n := len(g.ids)
	g.ids = append(g.ids, id)
	g.index[id] = n
	return n
}

// Assign adds the edge responsible -> assigned. Duplicates are ignored.
func (g *Graph) Assign(responsible, assigned uint64) {
	from, to := g.node(responsible), g.node(assigned)
	set, ok := g.edges[from]
	if !ok {
		set = make(map[int]struct{})
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

// InScope reports whether target is directly assigned to responsible.
func (g *Graph) InScope(responsible, target uint64) bool {
	from, ok := g.index[responsible]
	if !ok {
		return false
	}
	to, ok := g.index[target]
	if !ok {
		return false
	}
	_, ok = g.edges[from][to]
	return ok
}

// Assignees lists the members assigned to responsible in ascending order.
func (g *Graph) Assignees(responsible uint64) []uint64 {
	from, ok := g.index[responsible]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		out = append(out, g.ids[to])
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EdgeSource loads the assignment edges owned by one responsible.
type EdgeSource interface {
	Assignments(ctx context.Context, responsibleID uint64) ([]model.FamilyAssignment, error)
}

// Directory answers scope queries from the store. It builds a fresh graph
// per call so assignment changes are visible immediately.
type Directory struct {
	src EdgeSource
}

func NewDirectory(src EdgeSource) *Directory { return &Directory{src: src} }

func (d *Directory) load(ctx context.Context, responsible uint64) (*Graph, error) {
	rows, err := d.src.Assignments(ctx, responsible)
	if err != nil {
		return nil, err
	}
	g := NewGraph()
	for _, row := range rows {
		g.Assign(row.ResponsibleID, row.AssignedID)
	}
	return g, nil
}

// Assignees lists members a group admin may act for.
func (d *Directory) Assignees(ctx context.Context, responsible uint64) ([]uint64, error) {
	g, err := d.load(ctx, responsible)
	if err != nil {
		return nil, err
	}
	return g.Assignees(responsible), nil
}

// InScope reports whether target is assigned to responsible.
func (d *Directory) InScope(ctx context.Context, responsible, target uint64) (bool, error) {
	g, err := d.load(ctx, responsible)
	if err != nil {
		return false, err
	}
	return g.InScope(responsible, target), nil
}
