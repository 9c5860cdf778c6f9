package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orneryd/joernmcp/pkg/analysis"
)

func (s *Server) registerCallGraphTools() {
	s.mcp.AddTool(mcp.NewTool("get_callers",
		mcp.WithDescription("Find functions that call the given function"),
		mcp.WithTitleAnnotation("Get Callers"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Traversal depth (default 1)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetCallers)

	s.mcp.AddTool(mcp.NewTool("get_callees",
		mcp.WithDescription("Find functions called by the given function"),
		mcp.WithTitleAnnotation("Get Callees"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Traversal depth (default 1)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetCallees)

	s.mcp.AddTool(mcp.NewTool("get_call_chain",
		mcp.WithDescription("Walk the call chain from a function, upward to callers or downward to callees"),
		mcp.WithTitleAnnotation("Get Call Chain"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum chain depth (default 5)"),
		),
		mcp.WithString("direction",
			mcp.Description("up (callers) or down (callees, default up)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetCallChain)

	s.mcp.AddTool(mcp.NewTool("get_call_graph",
		mcp.WithDescription("Build a combined caller/callee graph around a function, as nodes and edges"),
		mcp.WithTitleAnnotation("Get Call Graph"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Traversal depth (default 2)"),
		),
		mcp.WithBoolean("include_callers",
			mcp.Description("Include callers (default true)"),
		),
		mcp.WithBoolean("include_callees",
			mcp.Description("Include callees (default true)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetCallGraph)
}

func (s *Server) registerDataFlowTools() {
	s.mcp.AddTool(mcp.NewTool("track_dataflow",
		mcp.WithDescription("Track data flows from a source function's parameters into a sink function's arguments"),
		mcp.WithTitleAnnotation("Track Data Flow"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source function name (e.g. gets, scanf)"),
		),
		mcp.WithString("sink",
			mcp.Required(),
			mcp.Description("Sink function name (e.g. strcpy, system)"),
		),
		mcp.WithNumber("max_flows",
			mcp.Description("Maximum flows to return (default 10)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleTrackDataflow)

	s.mcp.AddTool(mcp.NewTool("analyze_variable_flow",
		mcp.WithDescription("Analyze where a variable flows. With a sink, tracks reachability; without, lists occurrences."),
		mcp.WithTitleAnnotation("Analyze Variable Flow"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("variable",
			mcp.Required(),
			mcp.Description("Variable name"),
		),
		mcp.WithString("sink",
			mcp.Description("Sink function name"),
		),
		mcp.WithNumber("max_flows",
			mcp.Description("Maximum flows to return (default 10)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleVariableFlow)

	s.mcp.AddTool(mcp.NewTool("find_data_dependencies",
		mcp.WithDescription("List identifiers a function depends on, optionally narrowed to one variable"),
		mcp.WithTitleAnnotation("Find Data Dependencies"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithString("variable",
			mcp.Description("Variable name to narrow to"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleDataDependencies)
}

func (s *Server) registerTaintTools() {
	s.mcp.AddTool(mcp.NewTool("run_taint_rule",
		mcp.WithDescription("Run one built-in taint rule against the graph"),
		mcp.WithTitleAnnotation("Run Taint Rule"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("rule",
			mcp.Required(),
			mcp.Description("Rule name (see list_taint_rules)"),
		),
		mcp.WithNumber("max_flows",
			mcp.Description("Maximum flows per rule (default 10)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleRunTaintRule)

	s.mcp.AddTool(mcp.NewTool("find_vulnerabilities",
		mcp.WithDescription("Run every built-in taint rule and aggregate findings by severity"),
		mcp.WithTitleAnnotation("Find Vulnerabilities"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("severity",
			mcp.Description("Only run rules of this severity (CRITICAL, HIGH, MEDIUM, LOW)"),
		),
		mcp.WithNumber("max_flows",
			mcp.Description("Maximum flows per rule (default 10)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleFindVulnerabilities)

	s.mcp.AddTool(mcp.NewTool("check_taint_flow",
		mcp.WithDescription("Check whether data flows from a source pattern to a sink pattern"),
		mcp.WithTitleAnnotation("Check Taint Flow"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source pattern, regex alternation allowed (e.g. gets|scanf)"),
		),
		mcp.WithString("sink",
			mcp.Required(),
			mcp.Description("Sink pattern, regex alternation allowed (e.g. system|exec)"),
		),
		mcp.WithNumber("max_flows",
			mcp.Description("Maximum flows to return (default 10)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleCheckTaintFlow)

	s.mcp.AddTool(mcp.NewTool("list_taint_rules",
		mcp.WithDescription("List the built-in taint rules with severity and CWE"),
		mcp.WithTitleAnnotation("List Taint Rules"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListTaintRules)
}

// ============================================================================
// CALL GRAPH HANDLERS
// ============================================================================

func (s *Server) handleGetCallers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.calls.Callers(ctx, project, fn, req.GetInt("depth", 1))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleGetCallees(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.calls.Callees(ctx, project, fn, req.GetInt("depth", 1))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleGetCallChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.calls.Chain(ctx, project, fn,
		req.GetInt("max_depth", 5), req.GetString("direction", "up"))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleGetCallGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.calls.Graph(ctx, project, fn,
		req.GetInt("depth", 2),
		req.GetBool("include_callers", true),
		req.GetBool("include_callees", true))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

// ============================================================================
// DATA FLOW HANDLERS
// ============================================================================

func (s *Server) handleTrackDataflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "")
	sink := req.GetString("sink", "")
	if source == "" || sink == "" {
		return mcp.NewToolResultError("source and sink are required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.flows.Track(ctx, project, source, sink, req.GetInt("max_flows", 0))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleVariableFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	variable := req.GetString("variable", "")
	if variable == "" {
		return mcp.NewToolResultError("variable is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.flows.VariableFlow(ctx, project, variable,
		req.GetString("sink", ""), req.GetInt("max_flows", 0))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleDataDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.flows.Dependencies(ctx, project, fn, req.GetString("variable", ""))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

// ============================================================================
// TAINT HANDLERS
// ============================================================================

func (s *Server) handleRunTaintRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rule := req.GetString("rule", "")
	if rule == "" {
		return mcp.NewToolResultError("rule is required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.taint.AnalyzeByName(ctx, project, rule, req.GetInt("max_flows", 0))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleFindVulnerabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")

	res, err := s.taint.FindVulnerabilities(ctx, project,
		req.GetString("severity", ""), req.GetInt("max_flows", 0))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleCheckTaintFlow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "")
	sink := req.GetString("sink", "")
	if source == "" || sink == "" {
		return mcp.NewToolResultError("source and sink are required"), nil
	}
	project := req.GetString("project", "")

	res, err := s.taint.CheckFlow(ctx, project, source, sink, req.GetInt("max_flows", 0))
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)
	return jsonResult(res)
}

func (s *Server) handleListTaintRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"success": true,
		"rules":   analysis.ListRules(),
		"count":   len(analysis.Rules),
	})
}
