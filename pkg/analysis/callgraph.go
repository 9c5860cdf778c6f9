package analysis

import (
	"context"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

// Runner is the slice of the executor the analysis services need.
type Runner interface {
	Run(ctx context.Context, q string, opts executor.Options) (*executor.Outcome, error)
	RunJSON(ctx context.Context, q string, opts executor.Options, v any) error
}

// Method is one method reference in a call-graph result. Depth-1
// caller/callee queries walk call sites and fill the call-site fields;
// deeper traversals return method definitions only.
type Method struct {
	Name           string `json:"name"`
	MethodFullName string `json:"methodFullName,omitempty"`
	Signature      string `json:"signature,omitempty"`
	Filename       string `json:"filename"`
	LineNumber     int    `json:"lineNumber"`
	Code           string `json:"code,omitempty"`
}

// CallersResult is the get_callers response.
type CallersResult struct {
	Success  bool     `json:"success"`
	Function string   `json:"function"`
	Depth    int      `json:"depth"`
	Callers  []Method `json:"callers"`
	Count    int      `json:"count"`
	Project  string   `json:"project,omitempty"`
}

// CalleesResult is the get_callees response.
type CalleesResult struct {
	Success  bool     `json:"success"`
	Function string   `json:"function"`
	Depth    int      `json:"depth"`
	Callees  []Method `json:"callees"`
	Count    int      `json:"count"`
	Project  string   `json:"project,omitempty"`
}

// ChainEntry is one method in a call chain. Per-hop depth is not
// recoverable from the traversal.
type ChainEntry struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Depth    string `json:"depth"`
}

// ChainResult is the get_call_chain response.
type ChainResult struct {
	Success   bool         `json:"success"`
	Function  string       `json:"function"`
	Direction string       `json:"direction"`
	MaxDepth  int          `json:"max_depth"`
	Chain     []ChainEntry `json:"chain"`
	Count     int          `json:"count"`
	Project   string       `json:"project,omitempty"`
}

// GraphNode is one node in a call-graph result. Type is "caller",
// "callee", or "target".
type GraphNode struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Filename   string `json:"filename"`
	LineNumber int    `json:"lineNumber"`
}

// GraphEdge is one directed call edge.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// GraphResult is the get_call_graph response.
type GraphResult struct {
	Success   bool        `json:"success"`
	Function  string      `json:"function"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	NodeCount int         `json:"node_count"`
	EdgeCount int         `json:"edge_count"`
	Project   string      `json:"project,omitempty"`
}

// CallGraph answers caller/callee questions about a CPG.
type CallGraph struct {
	runner Runner
}

// NewCallGraph builds a call-graph service over the executor.
func NewCallGraph(r Runner) *CallGraph {
	return &CallGraph{runner: r}
}

// Callers finds methods calling fn, to the given depth.
func (s *CallGraph) Callers(ctx context.Context, project, fn string, depth int) (*CallersResult, error) {
	if depth <= 0 {
		depth = 1
	}
	var methods []Method
	if err := s.runner.RunJSON(ctx, cpgql.Callers(project, fn, depth), executor.Options{}, &methods); err != nil {
		return nil, err
	}
	return &CallersResult{
		Success:  true,
		Function: fn,
		Depth:    depth,
		Callers:  methods,
		Count:    len(methods),
		Project:  project,
	}, nil
}

// Callees finds methods called by fn, to the given depth.
func (s *CallGraph) Callees(ctx context.Context, project, fn string, depth int) (*CalleesResult, error) {
	if depth <= 0 {
		depth = 1
	}
	var methods []Method
	if err := s.runner.RunJSON(ctx, cpgql.Callees(project, fn, depth), executor.Options{}, &methods); err != nil {
		return nil, err
	}
	return &CalleesResult{
		Success:  true,
		Function: fn,
		Depth:    depth,
		Callees:  methods,
		Count:    len(methods),
		Project:  project,
	}, nil
}

// Chain walks the call chain from fn. direction is "up" (callers) or
// "down" (callees); anything else is treated as down.
func (s *CallGraph) Chain(ctx context.Context, project, fn string, maxDepth int, direction string) (*ChainResult, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	up := direction == "up"
	var chain []ChainEntry
	if err := s.runner.RunJSON(ctx, cpgql.CallChain(project, fn, maxDepth, up), executor.Options{}, &chain); err != nil {
		return nil, err
	}
	dir := "down"
	if up {
		dir = "up"
	}
	return &ChainResult{
		Success:   true,
		Function:  fn,
		Direction: dir,
		MaxDepth:  maxDepth,
		Chain:     chain,
		Count:     len(chain),
		Project:   project,
	}, nil
}

// Graph builds a combined caller/callee graph around fn with deduped
// nodes. A failure on one side degrades to a partial graph rather than
// failing the whole call.
func (s *CallGraph) Graph(ctx context.Context, project, fn string, depth int, includeCallers, includeCallees bool) (*GraphResult, error) {
	if depth <= 0 {
		depth = 2
	}
	g := &GraphResult{
		Success:  true,
		Function: fn,
		Nodes:    []GraphNode{},
		Edges:    []GraphEdge{},
		Project:  project,
	}

	if includeCallers {
		if res, err := s.Callers(ctx, project, fn, depth); err == nil {
			for _, m := range res.Callers {
				g.Nodes = append(g.Nodes, GraphNode{
					ID:         m.Name,
					Type:       "caller",
					Filename:   m.Filename,
					LineNumber: m.LineNumber,
				})
				g.Edges = append(g.Edges, GraphEdge{From: m.Name, To: fn, Type: "calls"})
			}
		}
	}

	g.Nodes = append(g.Nodes, GraphNode{ID: fn, Type: "target", LineNumber: -1})

	if includeCallees {
		if res, err := s.Callees(ctx, project, fn, depth); err == nil {
			for _, m := range res.Callees {
				g.Nodes = append(g.Nodes, GraphNode{
					ID:         m.Name,
					Type:       "callee",
					Filename:   m.Filename,
					LineNumber: m.LineNumber,
				})
				g.Edges = append(g.Edges, GraphEdge{From: fn, To: m.Name, Type: "calls"})
			}
		}
	}

	seen := make(map[string]bool, len(g.Nodes))
	unique := g.Nodes[:0]
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			seen[n.ID] = true
			unique = append(unique, n)
		}
	}
	g.Nodes = unique
	g.NodeCount = len(g.Nodes)
	g.EdgeCount = len(g.Edges)
	return g, nil
}
