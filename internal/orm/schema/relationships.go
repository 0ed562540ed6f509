package schema

import (
	"fmt"
	"sort"
	"strings"
)

// RelationshipGraph is the dependency graph induced by many-to-one associations.
// An edge a -> b means records of a hold primary keys of b.
type RelationshipGraph struct {
	nodes map[string]*Model
	edges map[string][]string
}

// NewRelationshipGraph creates a new relationship graph
func NewRelationshipGraph(models map[string]*Model) *RelationshipGraph {
	graph := &RelationshipGraph{
		nodes: models,
		edges: make(map[string][]string),
	}

	for name, model := range models {
		for _, attr := range model.Associations() {
			if attr.Kind == KindModel && attr.Target != name {
				graph.edges[name] = append(graph.edges[name], attr.Target)
			}
		}
		sort.Strings(graph.edges[name])
	}

	return graph
}

func (g *RelationshipGraph) sortedNodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectCycles detects circular many-to-one chains. Self references are not cycles.
func (g *RelationshipGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				dfs(neighbor, path)
			} else if recursionStack[neighbor] {
				for i, n := range path {
					if n == neighbor {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		recursionStack[node] = false
	}

	for _, node := range g.sortedNodes() {
		if !visited[node] {
			dfs(node, nil)
		}
	}

	return cycles
}

// TopologicalSort returns models in dependency order (dependencies first)
func (g *RelationshipGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int)
	for node := range g.nodes {
		outDegree[node] = len(g.edges[node])
	}

	reverseEdges := make(map[string][]string)
	for source, targets := range g.edges {
		for _, target := range targets {
			reverseEdges[target] = append(reverseEdges[target], source)
		}
	}

	var queue []string
	for _, node := range g.sortedNodes() {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		dependents := reverseEdges[node]
		sort.Strings(dependents)
		for _, dependent := range dependents {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected:\n%s", formatCycles(g.DetectCycles()))
	}

	return result, nil
}

// GetDependencies returns the direct many-to-one targets of a model
func (g *RelationshipGraph) GetDependencies(identity string) []string {
	deps, exists := g.edges[identity]
	if !exists {
		return []string{}
	}
	return deps
}

// GetDependents returns all models that hold keys of the given model
func (g *RelationshipGraph) GetDependents(identity string) []string {
	dependents := []string{}
	for _, node := range g.sortedNodes() {
		for _, dep := range g.edges[node] {
			if dep == identity {
				dependents = append(dependents, node)
				break
			}
		}
	}
	return dependents
}

func formatCycles(cycles [][]string) string {
	var b strings.Builder
	for i, cycle := range cycles {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "  Cycle %d: %s -> %s", i+1, strings.Join(cycle, " -> "), cycle[0])
	}
	return b.String()
}

// DependencyAnalyzer analyzes association dependencies
type DependencyAnalyzer struct {
	graph *RelationshipGraph
}

// NewDependencyAnalyzer creates a new dependency analyzer
func NewDependencyAnalyzer(models map[string]*Model) *DependencyAnalyzer {
	return &DependencyAnalyzer{graph: NewRelationshipGraph(models)}
}

// Analyze performs dependency analysis
func (a *DependencyAnalyzer) Analyze() *DependencyReport {
	report := &DependencyReport{
		TotalModels:  len(a.graph.nodes),
		Dependencies: make(map[string][]string),
		Dependents:   make(map[string][]string),
	}

	for name := range a.graph.nodes {
		report.Dependencies[name] = a.graph.GetDependencies(name)
		report.Dependents[name] = a.graph.GetDependents(name)
	}

	report.CircularDeps = a.graph.DetectCycles()
	report.HasCycles = len(report.CircularDeps) > 0

	if order, err := a.graph.TopologicalSort(); err == nil {
		report.TopologicalOrder = order
	}

	return report
}

// DependencyReport contains the results of dependency analysis
type DependencyReport struct {
	TotalModels      int
	Dependencies     map[string][]string
	Dependents       map[string][]string
	CircularDeps     [][]string
	HasCycles        bool
	TopologicalOrder []string
}

// String formats the dependency report
func (r *DependencyReport) String() string {
	var b strings.Builder

	b.WriteString("Dependency Analysis Report\n")
	fmt.Fprintf(&b, "Total Models: %d\n\n", r.TotalModels)

	if r.HasCycles {
		// legal for associations, but there is no safe creation order
		b.WriteString("Circular dependencies:\n")
		b.WriteString(formatCycles(r.CircularDeps))
		b.WriteString("\n\n")
	}

	if len(r.TopologicalOrder) > 0 {
		b.WriteString("Dependency Order (safe creation order):\n")
		for i, identity := range r.TopologicalOrder {
			deps := r.Dependencies[identity]
			if len(deps) > 0 {
				fmt.Fprintf(&b, "  %d. %s (depends on: %s)\n", i+1, identity, strings.Join(deps, ", "))
			} else {
				fmt.Fprintf(&b, "  %d. %s (no dependencies)\n", i+1, identity)
			}
		}
	}

	return b.String()
}
