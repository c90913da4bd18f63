package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dropcam/internal/ir"
)

// CycleWarning describes a suspicious dependency between autofill rules.
//
// Autofill runs once, in declaration order, so a cycle never loops forever;
// it just means some target is computed from a value that is itself derived.
type CycleWarning struct {
	Path    []string `json:"path"`    // field path: ["A", "B", "A"]
	Message string   `json:"message"` // human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeAutofill inspects the autofill rules of a rule set.
//
// It builds a field graph where target → each field referenced by its
// template and reports:
//   - every strongly connected component (or self-loop) as a "warning"
//   - every template that reads a field filled by a later autofill as
//     "info", since that template sees the value from before the fill
//
// Output order is deterministic.
func AnalyzeAutofill(rs *ir.RuleSet) []CycleWarning {
	autofills := make([]ir.Rule, 0)
	for _, r := range rs.Rules {
		if r.Kind == ir.RuleAutofill && r.Field != "" {
			autofills = append(autofills, r)
		}
	}
	if len(autofills) == 0 {
		return []CycleWarning{}
	}

	graph := buildFieldGraph(autofills)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	warnings = append(warnings, forwardReferences(autofills)...)
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// dependencyGraph maps field → fields its autofill template reads.
type dependencyGraph map[string][]string

func buildFieldGraph(autofills []ir.Rule) dependencyGraph {
	graph := make(dependencyGraph)
	for _, r := range autofills {
		if graph[r.Field] == nil {
			graph[r.Field] = []string{}
		}
		for _, ref := range TemplateFields(r.Template) {
			if ref == "" || slices.Contains(graph[r.Field], ref) {
				continue
			}
			graph[r.Field] = append(graph[r.Field], ref)
		}
	}
	return graph
}

// forwardReferences reports templates that read a field which a later
// autofill rule writes.
func forwardReferences(autofills []ir.Rule) []CycleWarning {
	firstWrite := make(map[string]int)
	for i, r := range autofills {
		if _, ok := firstWrite[r.Field]; !ok {
			firstWrite[r.Field] = i
		}
	}

	var out []CycleWarning
	for i, r := range autofills {
		for _, ref := range TemplateFields(r.Template) {
			j, ok := firstWrite[ref]
			if !ok || j <= i || ref == r.Field {
				continue
			}
			out = append(out, CycleWarning{
				Path: []string{r.Field, ref},
				Message: fmt.Sprintf("autofill %q reads %s before autofill %q fills it",
					r.ID, ref, autofills[j].ID),
				Level: "info",
			})
		}
	}
	return out
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are stable across runs.
func tarjanSCC(graph dependencyGraph) [][]string {
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

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		field := scc[0]
		return CycleWarning{
			Path:    []string{field, field},
			Message: fmt.Sprintf("autofill for %s reads its own value", field),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("autofill cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks the SCC from its smallest member, following
// edges inside the SCC until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := slices.Min(scc)
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
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

	return path
}
