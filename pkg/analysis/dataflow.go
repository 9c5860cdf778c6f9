package analysis

import (
	"context"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

// FlowEndpoint is the head or tail of a tracked flow.
type FlowEndpoint struct {
	Code   string `json:"code"`
	Method string `json:"method,omitempty"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// FlowElement is one node along a flow path.
type FlowElement struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Line int    `json:"line"`
}

// Flow is one source-to-sink path.
type Flow struct {
	Variable   string        `json:"variable,omitempty"`
	Source     FlowEndpoint  `json:"source"`
	Sink       FlowEndpoint  `json:"sink"`
	PathLength int           `json:"pathLength"`
	Path       []FlowElement `json:"path,omitempty"`
}

// TrackResult is the track_dataflow response.
type TrackResult struct {
	Success      bool   `json:"success"`
	SourceMethod string `json:"source_method"`
	SinkMethod   string `json:"sink_method"`
	Flows        []Flow `json:"flows"`
	Count        int    `json:"count"`
	Project      string `json:"project,omitempty"`
}

// VariableFlowResult is the analyze_variable_flow response. Flows is
// populated when a sink was given; Occurrences otherwise.
type VariableFlowResult struct {
	Success     bool            `json:"success"`
	Variable    string          `json:"variable"`
	SinkMethod  string          `json:"sink_method,omitempty"`
	Flows       []Flow          `json:"flows,omitempty"`
	Occurrences []VariableUsage `json:"occurrences,omitempty"`
	Count       int             `json:"count"`
	Project     string          `json:"project,omitempty"`
}

// VariableUsage is one occurrence of an identifier.
type VariableUsage struct {
	Variable string `json:"variable"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Method   string `json:"method,omitempty"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// DependenciesResult is the find_data_dependencies response.
type DependenciesResult struct {
	Success      bool            `json:"success"`
	Function     string          `json:"function"`
	Variable     string          `json:"variable,omitempty"`
	Dependencies []VariableUsage `json:"dependencies"`
	Count        int             `json:"count"`
	Project      string          `json:"project,omitempty"`
}

// DataFlow tracks value propagation through a CPG.
type DataFlow struct {
	runner Runner
}

// NewDataFlow builds a data-flow service over the executor.
func NewDataFlow(r Runner) *DataFlow {
	return &DataFlow{runner: r}
}

// Track finds flows from the parameters of sourceMethod into the
// arguments of sinkMethod.
func (s *DataFlow) Track(ctx context.Context, project, sourceMethod, sinkMethod string, maxFlows int) (*TrackResult, error) {
	var flows []Flow
	q := cpgql.FlowsBetween(project, sourceMethod, sinkMethod, maxFlows)
	if err := s.runner.RunJSON(ctx, q, executor.Options{}, &flows); err != nil {
		return nil, err
	}
	return &TrackResult{
		Success:      true,
		SourceMethod: sourceMethod,
		SinkMethod:   sinkMethod,
		Flows:        flows,
		Count:        len(flows),
		Project:      project,
	}, nil
}

// VariableFlow analyzes where a named identifier flows. With a sink
// method it tracks reachability; without one it lists occurrences.
func (s *DataFlow) VariableFlow(ctx context.Context, project, variable, sinkMethod string, maxFlows int) (*VariableFlowResult, error) {
	res := &VariableFlowResult{
		Success:    true,
		Variable:   variable,
		SinkMethod: sinkMethod,
		Project:    project,
	}

	if sinkMethod != "" {
		q := cpgql.VariableFlowTo(project, variable, sinkMethod, maxFlows)
		if err := s.runner.RunJSON(ctx, q, executor.Options{}, &res.Flows); err != nil {
			return nil, err
		}
		res.Count = len(res.Flows)
		return res, nil
	}

	q := cpgql.VariableOccurrences(project, variable, maxFlows)
	if err := s.runner.RunJSON(ctx, q, executor.Options{}, &res.Occurrences); err != nil {
		return nil, err
	}
	res.Count = len(res.Occurrences)
	return res, nil
}

// Dependencies lists identifiers a function depends on, optionally
// narrowed to one variable.
func (s *DataFlow) Dependencies(ctx context.Context, project, fn, variable string) (*DependenciesResult, error) {
	var deps []VariableUsage
	q := cpgql.DataDependencies(project, fn, variable)
	if err := s.runner.RunJSON(ctx, q, executor.Options{}, &deps); err != nil {
		return nil, err
	}
	return &DependenciesResult{
		Success:      true,
		Function:     fn,
		Variable:     variable,
		Dependencies: deps,
		Count:        len(deps),
		Project:      project,
	}, nil
}
