// Package graph holds the plugin dependency graph. It is derived from the
// installed records on every operation and never persisted.
package graph

import (
	"errors"
	"fmt"
)

// CyclicDependencyError indicates an edge that would close a cycle.
type CyclicDependencyError struct {
	From string
	To   string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("Cyclic dependency from %s to %s", e.From, e.To)
}

// IsCyclicDependency returns true if the error is a dependency cycle.
func IsCyclicDependency(err error) bool {
	var cycleErr *CyclicDependencyError
	return errors.As(err, &cycleErr)
}

// Graph is a directed graph of plugin -> dependency edges.
// Cycles are rejected when the closing edge is added.
type Graph struct {
	nodes      []string
	known      map[string]bool
	dependsOn  map[string][]string // plugin ID -> dependency IDs, in insertion order
	dependedBy map[string][]string // plugin ID -> plugins that depend on it
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		known:      make(map[string]bool),
		dependsOn:  make(map[string][]string),
		dependedBy: make(map[string][]string),
	}
}

// AddNode registers a plugin without edges.
func (g *Graph) AddNode(id string) {
	if !g.known[id] {
		g.known[id] = true
		g.nodes = append(g.nodes, id)
	}
}

// Add inserts the edge parent -> child. If child already reaches parent the
// edge is not inserted and a *CyclicDependencyError is returned.
func (g *Graph) Add(parent, child string) error {
	if parent == child || g.reaches(child, parent) {
		return &CyclicDependencyError{From: parent, To: child}
	}

	g.AddNode(parent)
	g.AddNode(child)
	if g.HasEdge(parent, child) {
		return nil
	}
	g.dependsOn[parent] = append(g.dependsOn[parent], child)
	g.dependedBy[child] = append(g.dependedBy[child], parent)
	return nil
}

// HasEdge reports whether parent directly depends on child.
func (g *Graph) HasEdge(parent, child string) bool {
	for _, dep := range g.dependsOn[parent] {
		if dep == child {
			return true
		}
	}
	return false
}

// Nodes returns all plugins in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// DependenciesOf returns the direct dependencies of id.
func (g *Graph) DependenciesOf(id string) []string {
	return append([]string(nil), g.dependsOn[id]...)
}

// DependentsOf returns the plugins that directly depend on id.
func (g *Graph) DependentsOf(id string) []string {
	return append([]string(nil), g.dependedBy[id]...)
}

// Chain returns the transitive dependencies of id, leaves first, without
// duplicates and without id itself.
func (g *Graph) Chain(id string) []string {
	visited := map[string]bool{id: true}
	var chain []string

	var visit func(string)
	visit = func(node string) {
		for _, dep := range g.dependsOn[node] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			visit(dep)
			chain = append(chain, dep)
		}
	}
	visit(id)
	return chain
}

// Dependents returns the top-level plugins other than id whose chain contains id.
func (g *Graph) Dependents(id string, topLevel []string) []string {
	var dependents []string
	for _, tlp := range topLevel {
		if tlp == id {
			continue
		}
		if contains(g.Chain(tlp), id) {
			dependents = append(dependents, tlp)
		}
	}
	return dependents
}

// Danglers returns the dependencies of id that no other top-level plugin
// needs. Top-level plugins are never danglers. Order is leaves first.
func (g *Graph) Danglers(id string, topLevel []string) []string {
	needed := make(map[string]bool)
	for _, tlp := range topLevel {
		needed[tlp] = true
		if tlp == id {
			continue
		}
		for _, dep := range g.Chain(tlp) {
			needed[dep] = true
		}
	}

	var danglers []string
	for _, dep := range g.Chain(id) {
		if !needed[dep] {
			danglers = append(danglers, dep)
		}
	}
	return danglers
}

// DependencyLister returns the declared dependency ids of an installed plugin.
type DependencyLister func(id string) ([]string, error)

// FromRecord builds the graph for the installed plugins of one platform.
func FromRecord(installed []string, deps DependencyLister) (*Graph, error) {
	g := New()
	for _, id := range installed {
		g.AddNode(id)
		children, err := deps(id)
		if err != nil {
			return nil, fmt.Errorf("reading dependencies of %s: %w", id, err)
		}
		for _, child := range children {
			if err := g.Add(id, child); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// reaches reports whether a path from -> to exists.
func (g *Graph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.dependsOn[node] {
			if dep == to {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

func contains(list []string, id string) bool {
	for _, item := range list {
		if item == id {
			return true
		}
	}
	return false
}
