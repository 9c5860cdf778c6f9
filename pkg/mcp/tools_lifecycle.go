package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orneryd/joernmcp/pkg/cpgql"
	"github.com/orneryd/joernmcp/pkg/executor"
	"github.com/orneryd/joernmcp/pkg/registry"
)

func (s *Server) registerLifecycleTools() {
	s.mcp.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Check connectivity to the analysis engine and report server status"),
		mcp.WithTitleAnnotation("Health Check"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleHealthCheck)

	s.mcp.AddTool(mcp.NewTool("parse_project",
		mcp.WithDescription("Parse a source tree into a code property graph. Parsing large projects can take minutes."),
		mcp.WithTitleAnnotation("Parse Project"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the source tree"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name used for later queries"),
		),
		mcp.WithString("language",
			mcp.Description("Source language hint (c, cpp, java, javascript, python, ...); auto-detected when omitted"),
		),
	), s.handleParseProject)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List projects known to the engine workspace, with import metadata where available"),
		mcp.WithTitleAnnotation("List Projects"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListProjects)

	s.mcp.AddTool(mcp.NewTool("delete_project",
		mcp.WithDescription("Delete a project and its graph from the engine workspace"),
		mcp.WithTitleAnnotation("Delete Project"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Project name to delete"),
		),
	), s.handleDeleteProject)
}

func (s *Server) handleHealthCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	engineUp := true
	var engineErr string
	if err := s.client.Ping(ctx); err != nil {
		engineUp = false
		engineErr = err.Error()
	}

	out := map[string]any{
		"status":         "ok",
		"engine_up":      engineUp,
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if !engineUp {
		out["status"] = "degraded"
		out["engine_error"] = engineErr
	}
	if s.reg != nil {
		if projects, err := s.reg.List(); err == nil {
			out["projects"] = len(projects)
		}
	}
	return jsonResult(out)
}

func (s *Server) handleParseProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	name := req.GetString("name", "")
	language := req.GetString("language", "")
	if path == "" || name == "" {
		return mcp.NewToolResultError("path and name are required"), nil
	}

	s.log.Infof("parsing project %s from %s", name, path)

	// Import bypasses the cache: it mutates the workspace and may run
	// far past the normal deadline.
	q := cpgql.ImportCode(path, name, language)
	out, err := s.exec.Run(ctx, q, executor.Options{NoCache: true, Raw: true})
	if err != nil {
		return errResult(fmt.Errorf("import failed: %w", err))
	}

	if s.reg != nil {
		if err := s.reg.Put(&registry.Project{
			Name:       name,
			SourcePath: path,
			Language:   language,
		}); err != nil {
			s.log.Warnf("record project %s: %v", name, err)
		}
	}

	res := map[string]any{
		"success":          true,
		"project":          name,
		"path":             path,
		"language":         language,
		"duration_seconds": out.Duration.Seconds(),
	}

	// Graph-size probes are best-effort; a failed probe doesn't fail
	// the import.
	var methods, files int
	if err := s.exec.RunJSON(ctx, cpgql.MethodCount(name), executor.Options{Raw: true}, &methods); err == nil {
		res["methods"] = methods
	}
	if err := s.exec.RunJSON(ctx, cpgql.FileCount(name), executor.Options{Raw: true}, &files); err == nil {
		res["files"] = files
	}

	return jsonResult(res)
}

func (s *Server) handleListProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var engineProjects []struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	err := s.exec.RunJSON(ctx, cpgql.ListProjects(), executor.Options{NoCache: true}, &engineProjects)
	if err != nil {
		return errResult(err)
	}

	// Merge registry metadata onto the engine's authoritative list.
	meta := map[string]*registry.Project{}
	if s.reg != nil {
		if records, err := s.reg.List(); err == nil {
			for _, p := range records {
				meta[p.Name] = p
			}
		}
	}

	projects := make([]map[string]any, 0, len(engineProjects))
	for _, p := range engineProjects {
		entry := map[string]any{"name": p.Name, "path": p.Path}
		if m, ok := meta[p.Name]; ok {
			entry["language"] = m.Language
			entry["imported_at"] = m.ImportedAt
			entry["queries"] = m.Queries
		}
		projects = append(projects, entry)
	}

	return jsonResult(map[string]any{
		"success":  true,
		"projects": projects,
		"count":    len(projects),
	})
}

func (s *Server) handleDeleteProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	s.log.Infof("deleting project %s", name)

	_, err := s.exec.Run(ctx, cpgql.DeleteProject(name), executor.Options{NoCache: true, Raw: true})
	if err != nil {
		return errResult(fmt.Errorf("delete failed: %w", err))
	}

	if s.reg != nil {
		if err := s.reg.Delete(name); err != nil {
			s.log.Warnf("remove project record %s: %v", name, err)
		}
	}

	// Cached results for the deleted project are stale now.
	if s.cache != nil {
		s.cache.Clear()
	}

	return jsonResult(map[string]any{
		"success": true,
		"project": name,
		"deleted": true,
	})
}
