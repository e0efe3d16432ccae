// Package dag provides the directed acyclic graph over processing stage
// kinds. It supports cycle detection, topological ordering, and downstream
// staleness propagation.
package dag

import (
	"fmt"
	"sort"

	"github.com/coastwise/swath/pkg/core"
)

// Graph is a DAG keyed by stage id. Edges point from a stage to the stages
// that consume its output.
type Graph struct {
	nodes    map[string]bool
	children map[string][]string // stage -> dependents
	parents  map[string][]string // stage -> dependencies
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]bool),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// NewPipeline builds the standard linear processing graph
// (convert -> orientation -> soundvelocity -> georeference -> grid).
func NewPipeline() *Graph {
	g := New()
	stages := core.Pipeline()
	for _, s := range stages {
		g.Add(string(s))
	}
	for i := 1; i < len(stages); i++ {
		// The pipeline is linear so edges cannot fail.
		_ = g.Depend(string(stages[i]), string(stages[i-1]))
	}
	return g
}

// Add inserts a node. Adding an existing node is a no-op.
func (g *Graph) Add(id string) {
	if !g.nodes[id] {
		g.nodes[id] = true
		g.children[id] = []string{}
		g.parents[id] = []string{}
	}
}

// Depend records that child consumes the output of parent.
func (g *Graph) Depend(child, parent string) error {
	if !g.nodes[parent] {
		return fmt.Errorf("unknown stage %q", parent)
	}
	if !g.nodes[child] {
		return fmt.Errorf("unknown stage %q", child)
	}
	if child == parent {
		return fmt.Errorf("stage %q cannot depend on itself", child)
	}
	if !contains(g.children[parent], child) {
		g.children[parent] = append(g.children[parent], child)
	}
	if !contains(g.parents[child], parent) {
		g.parents[child] = append(g.parents[child], parent)
	}
	return nil
}

// Parents returns the direct dependencies of a stage.
func (g *Graph) Parents(id string) []string { return g.parents[id] }

// Children returns the direct dependents of a stage.
func (g *Graph) Children(id string) []string { return g.children[id] }

// Len returns the number of stages in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// HasCycle reports whether the graph contains a cycle, with the offending
// path for error reporting.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	prev := make(map[string]string)

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, c := range g.children[id] {
			if !visited[c] {
				prev[c] = id
				if dfs(c) {
					return true
				}
			} else if onStack[c] {
				cycle = []string{c}
				for cur := id; cur != c; cur = prev[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{c}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for id := range g.nodes {
		if !visited[id] && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

// Sort returns stage ids in topological order (dependencies first).
func (g *Graph) Sort() ([]string, error) {
	if bad, path := g.HasCycle(); bad {
		return nil, fmt.Errorf("stage cycle: %v", path)
	}

	visited := make(map[string]bool)
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, p := range g.parents[id] {
			visit(p)
		}
		out = append(out, id)
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		visit(id)
	}
	return out, nil
}

// Downstream returns the given stages plus every stage reachable from them.
// This is the propagation set: a stale stage forces all of these.
func (g *Graph) Downstream(ids []string) []string {
	affected := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, c := range g.children[id] {
			mark(c)
		}
	}
	for _, id := range ids {
		if g.nodes[id] {
			mark(id)
		}
	}

	out := make([]string, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Upstream returns every stage the given stage transitively depends on.
func (g *Graph) Upstream(id string) []string {
	seen := make(map[string]bool)
	var mark func(nodeID string)
	mark = func(nodeID string) {
		for _, p := range g.parents[nodeID] {
			if !seen[p] {
				seen[p] = true
				mark(p)
			}
		}
	}
	mark(id)

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subgraph returns a new graph restricted to the given stages.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := New()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.nodes[id] {
			keep[id] = true
			sub.Add(id)
		}
	}
	for id := range keep {
		for _, c := range g.children[id] {
			if keep[c] {
				_ = sub.Depend(c, id)
			}
		}
	}
	return sub
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
