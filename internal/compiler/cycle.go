package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/loopsched/internal/ir"
)

// StageCycle is a set of stages that read each other's outputs. A workload
// is lowered in stage order, so any cycle means some stage reads a tensor
// before it is written.
type StageCycle struct {
	Path    []string `json:"path"` // Cycle path: ["B", "C", "B"]
	Message string   `json:"message"`
}

// AnalyzeCycles detects cycles in the stage dependency graph.
//
// The algorithm:
//  1. Build stage → producer-stage edges from each stage's inputs
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 as a cycle
//
// Self-reads are rejected earlier by Validate and never appear here.
// An acyclic workload returns an empty list.
func AnalyzeCycles(w ir.Workload) []StageCycle {
	graph, order := buildDependencyGraph(w)

	cycles := []StageCycle{}
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 {
			cycles = append(cycles, sccToCycle(scc, graph, order))
		}
	}
	return cycles
}

// dependencyGraph maps stage → stages whose outputs it reads.
type dependencyGraph map[string][]string

func buildDependencyGraph(w ir.Workload) (dependencyGraph, []string) {
	graph := make(dependencyGraph, len(w.Stages))
	order := make([]string, 0, len(w.Stages))
	produced := make(map[string]bool, len(w.Stages))
	for _, s := range w.Stages {
		produced[s.Name] = true
		order = append(order, s.Name)
	}
	for _, s := range w.Stages {
		if graph[s.Name] == nil {
			graph[s.Name] = []string{}
		}
		for _, in := range s.Inputs {
			if produced[in.Tensor] && in.Tensor != s.Name {
				graph[s.Name] = append(graph[s.Name], in.Tensor)
			}
		}
	}
	return graph, order
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in order, so the result is deterministic.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// sccToCycle reconstructs a cycle path starting at the earliest stage of
// the SCC.
func sccToCycle(scc []string, graph dependencyGraph, order []string) StageCycle {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	var start string
	for _, n := range order {
		if members[n] {
			start = n
			break
		}
	}

	path := []string{start}
	visited := map[string]bool{}
	current := start
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return StageCycle{
		Path:    path,
		Message: fmt.Sprintf("stage cycle: %s", strings.Join(path, " → ")),
	}
}
