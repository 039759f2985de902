// Package depgraph orders services by their declared dependencies.
//
// Cycles are rejected at configuration-load time by the external
// collaborator that produces a config.Config: the loader's validation
// pass calls Validate and HasCycle before the daemon ever sees the
// config. TopologicalSort runs both checks again on every call, so a
// caller that orders a graph also gets it re-checked.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/sysg-dev/sysg/internal/config"
)

// Graph is a directed graph of service names to their dependency lists.
type Graph struct {
	nodes map[string][]string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string][]string)}
}

// FromConfig builds a Graph over every service in cfg.
func FromConfig(services map[string]*config.ServiceSpec) *Graph {
	g := New()
	for name, svc := range services {
		g.AddNode(name, svc.DependsOn)
	}
	return g
}

// AddNode registers a service and its dependency list.
func (g *Graph) AddNode(name string, deps []string) {
	g.nodes[name] = deps
}

// Dependents returns the services that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for svc, deps := range g.nodes {
		if contains(deps, name) {
			out = append(out, svc)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that every dependency refers to a known node and that
// no service depends on itself.
func (g *Graph) Validate() error {
	for name, deps := range g.nodes {
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("service %q depends on undeclared service %q", name, dep)
			}
			if dep == name {
				return fmt.Errorf("service %q depends on itself", name)
			}
		}
	}
	return nil
}

// HasCycle reports whether the graph contains a circular dependency and,
// if so, one offending path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	parent := make(map[string]string)

	var names []string
	for n := range g.nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if !visited[n] {
			if found, path := dfs(g, n, visited, onStack, parent); found {
				return true, path
			}
		}
	}
	return false, nil
}

func dfs(g *Graph, node string, visited, onStack map[string]bool, parent map[string]string) (bool, []string) {
	visited[node] = true
	onStack[node] = true
	defer func() { onStack[node] = false }()

	for _, dep := range g.nodes[node] {
		if !visited[dep] {
			parent[dep] = node
			if found, path := dfs(g, dep, visited, onStack, parent); found {
				return true, path
			}
		} else if onStack[dep] {
			path := []string{dep}
			for cur := node; cur != dep; cur = parent[cur] {
				path = append([]string{cur}, path...)
			}
			return true, append([]string{dep}, path...)
		}
	}
	return false, nil
}

// TopologicalSort returns a deterministic start order in which every
// service follows all of its dependencies, breaking ties alphabetically.
func (g *Graph) TopologicalSort() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if has, cycle := g.HasCycle(); has {
		return nil, fmt.Errorf("circular dependency: %v", cycle)
	}

	inDegree := make(map[string]int, len(g.nodes))
	for node, deps := range g.nodes {
		inDegree[node] = len(deps)
	}

	var queue []string
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		var unlocked []string
		for dependent, deps := range g.nodes {
			if contains(deps, node) {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					unlocked = append(unlocked, dependent)
				}
			}
		}
		sort.Strings(unlocked)
		queue = append(queue, unlocked...)
		sort.Strings(queue)
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("dependency graph did not fully resolve: cycle or dangling reference")
	}
	return result, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
