package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
)

func (s *Server) registerExportTools() {
	s.mcp.AddTool(mcp.NewTool("export_cpg",
		mcp.WithDescription("Serialize the active project's code property graph to a file on the engine host. Switch projects first to export a specific one."),
		mcp.WithTitleAnnotation("Export CPG"),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name, recorded in the response"),
		),
		mcp.WithString("output_path",
			mcp.Required(),
			mcp.Description("Destination file path on the engine host"),
		),
		mcp.WithString("format",
			mcp.Description("bin, json, or dot (default bin)"),
		),
	), s.handleExportCPG)

	s.mcp.AddTool(mcp.NewTool("export_analysis_results",
		mcp.WithDescription("Write analysis results to a local file as JSON, Markdown, or CSV"),
		mcp.WithTitleAnnotation("Export Analysis Results"),
		mcp.WithString("results",
			mcp.Required(),
			mcp.Description("JSON object holding the results, e.g. {\"vulnerabilities\": [...], \"summary\": {...}}"),
		),
		mcp.WithString("output_path",
			mcp.Required(),
			mcp.Description("Destination file path"),
		),
		mcp.WithString("format",
			mcp.Description("json, markdown, or csv (default json)"),
		),
	), s.handleExportResults)
}

func (s *Server) handleExportCPG(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	path := req.GetString("output_path", "")
	if path == "" {
		return mcp.NewToolResultError("output_path is required"), nil
	}
	format := req.GetString("format", "bin")
	switch format {
	case "bin", "json", "dot":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format: %s", format)), nil
	}

	// Writes happen engine-side; nothing comes back worth caching.
	_, err := s.exec.Run(ctx, cpgql.SaveCPG(path, format), executor.Options{NoCache: true, Raw: true})
	if err != nil {
		return errResult(err)
	}
	s.countQuery(project)

	return jsonResult(map[string]any{
		"success":     true,
		"project":     project,
		"output_path": path,
		"format":      format,
		"message":     "CPG exported successfully",
	})
}

func (s *Server) handleExportResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var results map[string]any
	if err := json.Unmarshal([]byte(req.GetString("results", "")), &results); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("results must be a JSON object: %v", err)), nil
	}
	path := req.GetString("output_path", "")
	if path == "" {
		return mcp.NewToolResultError("output_path is required"), nil
	}
	format := req.GetString("format", "json")

	var content []byte
	switch format {
	case "json":
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return errResult(err)
		}
		content = b
	case "markdown":
		content = []byte(renderMarkdownReport(results))
	case "csv":
		content = []byte(renderCSVReport(results))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format: %s", format)), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errResult(err)
	}

	return jsonResult(map[string]any{
		"success":     true,
		"output_path": path,
		"format":      format,
		"size_bytes":  len(content),
	})
}

// vulnList pulls the vulnerabilities slice out of a results map,
// tolerating absent or oddly-typed entries.
func vulnList(results map[string]any) []map[string]any {
	raw, _ := results["vulnerabilities"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func renderMarkdownReport(results map[string]any) string {
	var b strings.Builder
	b.WriteString("# Code Analysis Report\n\n")

	if vulns := vulnList(results); len(vulns) > 0 {
		b.WriteString("## Vulnerabilities\n\n")
		for i, v := range vulns {
			fmt.Fprintf(&b, "### %d. %s\n", i+1, str(v, "vulnerability"))
			fmt.Fprintf(&b, "- **Severity**: %s\n", str(v, "severity"))
			fmt.Fprintf(&b, "- **CWE**: %s\n", str(v, "cwe_id"))
			if src, ok := v["source"].(map[string]any); ok {
				fmt.Fprintf(&b, "- **Source**: %s:%s\n", str(src, "file"), str(src, "line"))
				fmt.Fprintf(&b, "  - Code: `%s`\n", str(src, "code"))
			}
			if sink, ok := v["sink"].(map[string]any); ok {
				fmt.Fprintf(&b, "- **Sink**: %s:%s\n", str(sink, "file"), str(sink, "line"))
				fmt.Fprintf(&b, "  - Code: `%s`\n", str(sink, "code"))
			}
			b.WriteString("\n")
		}
	}

	if summary, ok := results["summary"].(map[string]any); ok {
		b.WriteString("## Summary\n\n")
		for severity, count := range summary {
			fmt.Fprintf(&b, "- **%s**: %v\n", severity, count)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func renderCSVReport(results map[string]any) string {
	lines := []string{
		"Type,Severity,CWE,Source_File,Source_Line,Source_Code,Sink_File,Sink_Line,Sink_Code",
	}
	for _, v := range vulnList(results) {
		src, _ := v["source"].(map[string]any)
		sink, _ := v["sink"].(map[string]any)
		row := []string{
			str(v, "vulnerability"),
			str(v, "severity"),
			str(v, "cwe_id"),
			str(src, "file"),
			str(src, "line"),
			str(src, "code"),
			str(sink, "file"),
			str(sink, "line"),
			str(sink, "code"),
		}
		for i, cell := range row {
			row[i] = `"` + strings.ReplaceAll(cell, `"`, `""`) + `"`
		}
		lines = append(lines, strings.Join(row, ","))
	}
	return strings.Join(lines, "\n")
}
