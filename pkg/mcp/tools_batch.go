package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

// batchParallelism caps fan-out below the concurrency limit so one
// batch cannot monopolize every permit.
func (s *Server) batchParallelism() int {
	limit := s.limiter.Limit()
	if limit < 1 {
		limit = 1
	}
	if limit > 4 {
		return 4
	}
	return limit
}

func (s *Server) registerBatchTools() {
	s.mcp.AddTool(mcp.NewTool("batch_query",
		mcp.WithDescription("Execute several CPGQL queries concurrently. Per-query failures are reported inline; one failure does not abort the batch."),
		mcp.WithTitleAnnotation("Batch Query"),
		mcp.WithString("queries",
			mcp.Required(),
			mcp.Description("JSON array of CPGQL query strings"),
		),
	), s.handleBatchQuery)

	s.mcp.AddTool(mcp.NewTool("batch_function_analysis",
		mcp.WithDescription("Fetch code, callers, and callees for several functions concurrently"),
		mcp.WithTitleAnnotation("Batch Function Analysis"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("functions",
			mcp.Required(),
			mcp.Description("JSON array of function names"),
		),
		mcp.WithString("project",
			mcp.Description("Project name; active project when omitted"),
		),
	), s.handleBatchFunctions)
}

type batchItem struct {
	Index  int    `json:"index"`
	Query  string `json:"query,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleBatchQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.cfg.Query.EnableCustomQueries {
		return mcp.NewToolResultError("custom queries are disabled"), nil
	}

	var queries []string
	if err := json.Unmarshal([]byte(req.GetString("queries", "")), &queries); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("queries must be a JSON array of strings: %v", err)), nil
	}
	if len(queries) == 0 {
		return mcp.NewToolResultError("queries is empty"), nil
	}

	items := make([]batchItem, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchParallelism())

	for i, q := range queries {
		g.Go(func() error {
			item := batchItem{Index: i, Query: q}
			out, err := s.exec.Run(gctx, q, executor.Options{})
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Result = out.Result
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errResult(err)
	}

	failures := 0
	for _, item := range items {
		if item.Error != "" {
			failures++
		}
	}

	return jsonResult(map[string]any{
		"success":  true,
		"results":  items,
		"count":    len(items),
		"failures": failures,
	})
}

type functionReport struct {
	Function string `json:"function"`
	Code     any    `json:"code,omitempty"`
	Callers  any    `json:"callers,omitempty"`
	Callees  any    `json:"callees,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleBatchFunctions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var functions []string
	if err := json.Unmarshal([]byte(req.GetString("functions", "")), &functions); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("functions must be a JSON array of strings: %v", err)), nil
	}
	if len(functions) == 0 {
		return mcp.NewToolResultError("functions is empty"), nil
	}
	project := req.GetString("project", "")

	reports := make([]functionReport, len(functions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchParallelism())

	for i, fn := range functions {
		g.Go(func() error {
			report := functionReport{Function: fn}

			var code []map[string]any
			if err := s.exec.RunJSON(gctx, cpgql.FunctionCode(project, fn), executor.Options{}, &code); err != nil {
				report.Error = err.Error()
				reports[i] = report
				return nil
			}
			report.Code = code

			if callers, err := s.calls.Callers(gctx, project, fn, 1); err == nil {
				report.Callers = callers.Callers
			}
			if callees, err := s.calls.Callees(gctx, project, fn, 1); err == nil {
				report.Callees = callees.Callees
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success":   true,
		"functions": reports,
		"count":     len(reports),
	})
}
