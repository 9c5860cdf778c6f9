package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

func (s *Server) registerQueryTools() {
	if s.cfg.Query.EnableCustomQueries {
		s.mcp.AddTool(mcp.NewTool("execute_query",
			mcp.WithDescription("Execute a raw CPGQL query against the active project. Queries are validated against a deny-list before execution."),
			mcp.WithTitleAnnotation("Execute CPGQL Query"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("CPGQL query text"),
			),
			mcp.WithNumber("timeout",
				mcp.Description("Per-query timeout in seconds (default 300)"),
			),
			mcp.WithBoolean("no_cache",
				mcp.Description("Bypass the result cache"),
			),
		), s.handleExecuteQuery)
	}

	s.mcp.AddTool(mcp.NewTool("get_function_code",
		mcp.WithDescription("Fetch source code and location details for a function by exact name"),
		mcp.WithTitleAnnotation("Get Function Code"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Exact function name"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetFunctionCode)

	s.mcp.AddTool(mcp.NewTool("list_functions",
		mcp.WithDescription("List functions in the graph, optionally filtered by a name substring"),
		mcp.WithTitleAnnotation("List Functions"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("filter",
			mcp.Description("Name substring filter"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 50)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleListFunctions)

	s.mcp.AddTool(mcp.NewTool("search_code",
		mcp.WithDescription("Search node code by pattern within a scope: methods, calls, identifiers, or all"),
		mcp.WithTitleAnnotation("Search Code"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Search pattern (substring, matched as regex .*pattern.*)"),
		),
		mcp.WithString("scope",
			mcp.Description("methods, calls, identifiers, or all (default all)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 50)"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleSearchCode)

	s.mcp.AddTool(mcp.NewTool("get_cfg",
		mcp.WithDescription("Export a function's control flow graph in DOT format"),
		mcp.WithTitleAnnotation("Get Control Flow Graph"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetCFG)

	s.mcp.AddTool(mcp.NewTool("analyze_control_structures",
		mcp.WithDescription("List a function's control structures (IF, FOR, WHILE, SWITCH, ...) with code and location"),
		mcp.WithTitleAnnotation("Analyze Control Structures"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleControlStructures)

	s.mcp.AddTool(mcp.NewTool("get_dominator_tree",
		mcp.WithDescription("Export a function's dominator tree in DOT format"),
		mcp.WithTitleAnnotation("Get Dominator Tree"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("function",
			mcp.Required(),
			mcp.Description("Function name"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleGetDominators)
}

func (s *Server) handleExecuteQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := req.GetString("query", "")
	if q == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	opts := executor.Options{NoCache: req.GetBool("no_cache", false)}
	if secs := req.GetFloat("timeout", 0); secs > 0 {
		opts.Timeout = time.Duration(secs * float64(time.Second))
	}

	out, err := s.exec.Run(ctx, q, opts)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(map[string]any{
		"success":   true,
		"result":    out.Result,
		"cache_hit": out.CacheHit,
	})
}

func (s *Server) handleGetFunctionCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	project := req.GetString("project", "")

	var functions []map[string]any
	err := s.exec.RunJSON(ctx, cpgql.FunctionCode(project, name), executor.Options{}, &functions)
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success":   true,
		"function":  name,
		"matches":   functions,
		"count":     len(functions),
	})
}

func (s *Server) handleListFunctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := req.GetString("filter", "")
	limit := req.GetInt("limit", 0)
	project := req.GetString("project", "")

	var functions []map[string]any
	err := s.exec.RunJSON(ctx, cpgql.ListFunctions(project, filter, limit), executor.Options{}, &functions)
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success":   true,
		"filter":    filter,
		"functions": functions,
		"count":     len(functions),
	})
}

func (s *Server) handleSearchCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	if pattern == "" {
		return mcp.NewToolResultError("pattern is required"), nil
	}
	scope := req.GetString("scope", "all")
	limit := req.GetInt("limit", 0)
	project := req.GetString("project", "")

	var matches []map[string]any
	err := s.exec.RunJSON(ctx, cpgql.SearchCode(project, pattern, scope, limit), executor.Options{}, &matches)
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success": true,
		"pattern": pattern,
		"scope":   scope,
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleGetCFG(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dotExport(ctx, req, cpgql.CFG)
}

func (s *Server) handleGetDominators(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.dotExport(ctx, req, cpgql.Dominators)
}

func (s *Server) handleControlStructures(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	var structures []map[string]any
	err := s.exec.RunJSON(ctx, cpgql.ControlStructures(project, fn), executor.Options{}, &structures)
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success":    true,
		"function":   fn,
		"structures": structures,
		"count":      len(structures),
	})
}

func (s *Server) dotExport(ctx context.Context, req mcp.CallToolRequest, build func(project, name string) string) (*mcp.CallToolResult, error) {
	fn := req.GetString("function", "")
	if fn == "" {
		return mcp.NewToolResultError("function is required"), nil
	}
	project := req.GetString("project", "")

	out, err := s.exec.Run(ctx, build(project, fn), executor.Options{Raw: true})
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	// The engine returns bare DOT text, which the parser wraps as raw.
	dot := ""
	switch v := out.Result.(type) {
	case string:
		dot = v
	case map[string]any:
		if raw, ok := v["raw"].(string); ok {
			dot = raw
		}
	}

	return jsonResult(map[string]any{
		"success":  true,
		"function": fn,
		"format":   "dot",
		"graph":    dot,
	})
}
