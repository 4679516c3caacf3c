package graph

import (
	"fmt"
	"sort"
)

// Error codes reported by Validate. These are part of the external contract,
// clients match on the string values.
const (
	ErrUnsupportedService  = "UnsupportedService"
	ErrDuplicateNode       = "DuplicateNode"
	ErrDanglingEdge        = "DanglingEdge"
	ErrSelfLoop            = "SelfLoop"
	ErrDuplicateEdge       = "DuplicateEdge"
	ErrCircularDependency  = "CircularDependency"
	WarnUnconnectedService = "UnconnectedService"
)

// ValidationError describes one structural or semantic problem in a graph.
type ValidationError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	NodeID  string   `json:"node_id,omitempty"`
	Source  string   `json:"source,omitempty"`
	Target  string   `json:"target,omitempty"`
	Cycle   []string `json:"cycle,omitempty"`
}

// Result is the outcome of validating a graph.
type Result struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// Options tunes validation behavior.
type Options struct {
	// AllowSelfLoops disables the self-loop check.
	AllowSelfLoops bool
}

// Validate checks a graph against the structural invariants. It never
// mutates its input: node and edge data are copied into local sets before
// traversal, so a concurrent writer racing the snapshot cannot skew the
// result.
//
// Checks run in a fixed order: service whitelist, duplicate node ids,
// dangling edges, self-loops, duplicate (source,target) pairs, then cycle
// detection over the directed edge set.
func Validate(g Graph, opts Options) Result {
	var errs []ValidationError
	var warns []ValidationError

	// 1. Service whitelist.
	for _, n := range g.Nodes {
		if !IsSupportedService(n.Type) {
			errs = append(errs, ValidationError{
				Code:    ErrUnsupportedService,
				Message: fmt.Sprintf("node %q uses unsupported service type %q", n.ID, n.Type),
				NodeID:  n.ID,
			})
		}
	}

	// 2. Duplicate node ids.
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := seen[n.ID]; dup {
			errs = append(errs, ValidationError{
				Code:    ErrDuplicateNode,
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		seen[n.ID] = struct{}{}
	}

	// 3. Dangling edges.
	for _, e := range g.Edges {
		if _, ok := seen[e.Source]; !ok {
			errs = append(errs, ValidationError{
				Code:    ErrDanglingEdge,
				Message: fmt.Sprintf("edge source %q does not exist", e.Source),
				Source:  e.Source,
				Target:  e.Target,
			})
		}
		if _, ok := seen[e.Target]; !ok {
			errs = append(errs, ValidationError{
				Code:    ErrDanglingEdge,
				Message: fmt.Sprintf("edge target %q does not exist", e.Target),
				Source:  e.Source,
				Target:  e.Target,
			})
		}
	}

	// 4. Self-loops.
	if !opts.AllowSelfLoops {
		for _, e := range g.Edges {
			if e.Source == e.Target {
				errs = append(errs, ValidationError{
					Code:    ErrSelfLoop,
					Message: fmt.Sprintf("self-loop on node %q", e.Source),
					NodeID:  e.Source,
					Source:  e.Source,
					Target:  e.Target,
				})
			}
		}
	}

	// 5. Duplicate (source,target) pairs.
	pairs := make(map[[2]string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		key := [2]string{e.Source, e.Target}
		if _, dup := pairs[key]; dup {
			errs = append(errs, ValidationError{
				Code:    ErrDuplicateEdge,
				Message: fmt.Sprintf("duplicate edge %q -> %q", e.Source, e.Target),
				Source:  e.Source,
				Target:  e.Target,
			})
			continue
		}
		pairs[key] = struct{}{}
	}

	// 6. Cycle detection. Only meaningful over edges whose endpoints
	// resolve; dangling edges are already reported above. Self-loops are
	// reported as SelfLoop, not as a one-node cycle.
	if cycle := findCycle(g, seen); len(cycle) > 0 {
		errs = append(errs, ValidationError{
			Code:    ErrCircularDependency,
			Message: fmt.Sprintf("circular dependency: %v", cycle),
			NodeID:  cycle[0],
			Cycle:   cycle,
		})
	}

	// Warn on nodes with no edges at all; common LLM output defect worth
	// surfacing but not fatal.
	if len(g.Nodes) > 1 {
		connected := make(map[string]struct{}, len(g.Nodes))
		for _, e := range g.Edges {
			connected[e.Source] = struct{}{}
			connected[e.Target] = struct{}{}
		}
		for _, n := range g.Nodes {
			if _, ok := connected[n.ID]; !ok {
				warns = append(warns, ValidationError{
					Code:    WarnUnconnectedService,
					Message: fmt.Sprintf("node %q has no connections", n.ID),
					NodeID:  n.ID,
				})
			}
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

type color uint8

const (
	white color = iota // unvisited
	gray               // in progress
	black              // done
)

// findCycle runs a three-color DFS over the directed edge set and returns
// the first cycle found as a node sequence ending where it began, e.g.
// [A B A]. Returns nil when the graph is acyclic.
func findCycle(g Graph, nodeIDs map[string]struct{}) []string {
	adj := make(map[string][]string, len(nodeIDs))
	for _, e := range g.Edges {
		if e.Source == e.Target {
			continue
		}
		if _, ok := nodeIDs[e.Source]; !ok {
			continue
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	colors := make(map[string]color, len(nodeIDs))

	// Deterministic traversal order so reported cycles are stable.
	roots := make([]string, 0, len(nodeIDs))
	for id := range nodeIDs {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch colors[next] {
			case gray:
				// Back-edge: slice the current path from the repeated
				// node and close the loop.
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return false
	}

	for _, id := range roots {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
