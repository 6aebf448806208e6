// Package graph provides the dependency graph used to order subtasks and allocations.
package graph

import (
	"fmt"
	"sync"

	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

// Node is one vertex of the graph and the ids it depends on.
type Node struct {
	ID        string
	DependsOn []string
}

// DependencyGraph represents a directed acyclic graph of id dependencies.
// Nodes keep their insertion order so every traversal is deterministic.
type DependencyGraph struct {
	mu sync.RWMutex
	// order holds node ids in insertion order.
	order []string
	// index maps node id to its insertion position.
	index map[string]int
	// edges maps node id to the ids it depends on.
	edges map[string][]string
	// completed tracks nodes marked complete.
	completed map[string]bool
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index:     make(map[string]int),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs the graph from nodes.
// Returns an error if ids repeat, a dependency is unknown or a cycle is detected.
func (g *DependencyGraph) Build(nodes []Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// First pass: register all nodes.
	for _, n := range nodes {
		if _, dup := g.index[n.ID]; dup {
			return swarmerr.Invalid("graph", "duplicate node %s", n.ID)
		}
		g.index[n.ID] = len(g.order)
		g.order = append(g.order, n.ID)
		g.edges[n.ID] = nil
	}

	// Second pass: edges, skipping self-duplicates.
	for _, n := range nodes {
		seen := make(map[string]bool)
		for _, dep := range n.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return swarmerr.Invalid("graph", "%s depends on unknown node %s", n.ID, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.edges[n.ID] = append(g.edges[n.ID], dep)
		}
	}

	if path := g.findCycleLocked(); path != nil {
		return fmt.Errorf("%w: %v", swarmerr.ErrCycleDetected, path)
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != nil
}

// findCycleLocked returns the ids along a back edge, or nil.
// Uses depth-first search with coloring; the caller holds the lock.
func (g *DependencyGraph) findCycleLocked() []string {
	// 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		stack = append(stack, id)
		for _, dep := range g.edges[id] {
			switch colors[dep] {
			case 1:
				for i, s := range stack {
					if s == dep {
						return append(append([]string{}, stack[i:]...), dep)
					}
				}
				return []string{dep, id}
			case 0:
				if path := visit(dep); path != nil {
					return path
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = 2
		return nil
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if path := visit(id); path != nil {
				return path
			}
		}
	}
	return nil
}

// TopologicalSort returns ids so that dependencies come first. Among nodes that
// are ready at the same time the one inserted first wins, so the order is stable
// with respect to declaration order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.findCycleLocked() != nil {
		return nil, swarmerr.ErrCycleDetected
	}

	remaining := make(map[string]int, len(g.order))
	for _, id := range g.order {
		remaining[id] = len(g.edges[id])
	}
	dependents := g.dependentsLocked()

	placed := make(map[string]bool, len(g.order))
	result := make([]string, 0, len(g.order))
	for len(result) < len(g.order) {
		// Pick the earliest-declared node whose dependencies are all placed.
		next := ""
		for _, id := range g.order {
			if !placed[id] && remaining[id] == 0 {
				next = id
				break
			}
		}
		placed[next] = true
		result = append(result, next)
		for _, d := range dependents[next] {
			remaining[d]--
		}
	}
	return result, nil
}

func (g *DependencyGraph) dependentsLocked() map[string][]string {
	out := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			out[dep] = append(out[dep], id)
		}
	}
	return out
}

// GetReady returns ids not yet completed whose dependencies are all completed,
// in insertion order.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if g.completed[id] {
			continue
		}
		ok := true
		for _, dep := range g.edges[id] {
			if !g.completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a node as completed. This affects subsequent calls to GetReady.
func (g *DependencyGraph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// Contains reports whether id is a node of the graph.
func (g *DependencyGraph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// GetDependencies returns the ids the given node depends on.
func (g *DependencyGraph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// GetDependents returns the ids that directly depend on the given node, in insertion order.
func (g *DependencyGraph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependentsLocked()[id]
}

// TransitiveDependents returns every id that depends on the given node directly or
// indirectly, in insertion order.
func (g *DependencyGraph) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dependents := g.dependentsLocked()
	reached := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range dependents[cur] {
			if !reached[d] {
				reached[d] = true
				queue = append(queue, d)
			}
		}
	}

	var out []string
	for _, nid := range g.order {
		if reached[nid] {
			out = append(out, nid)
		}
	}
	return out
}

// GetCompletedIDs returns the ids marked as completed, in insertion order.
func (g *DependencyGraph) GetCompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if g.completed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}
