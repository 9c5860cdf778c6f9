// Package mcp exposes the analysis engine to MCP clients. It registers
// the tool surface on a mark3labs/mcp-go server and serves it over
// stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/joernmcp/pkg/analysis"
	"github.com/orneryd/joernmcp/pkg/cache"
	"github.com/orneryd/joernmcp/pkg/config"
	"github.com/orneryd/joernmcp/pkg/executor"
	"github.com/orneryd/joernmcp/pkg/joern"
	"github.com/orneryd/joernmcp/pkg/limiter"
	"github.com/orneryd/joernmcp/pkg/logging"
	"github.com/orneryd/joernmcp/pkg/metrics"
	"github.com/orneryd/joernmcp/pkg/registry"
)

// Server bundles the tool surface with everything it needs to answer.
type Server struct {
	cfg      *config.Config
	exec     *executor.Executor
	client   *joern.Client
	reg      *registry.Registry
	cache    *cache.Hybrid
	limiter  *limiter.Adaptive
	metrics  *metrics.Collector
	prom     *metrics.Prom
	calls    *analysis.CallGraph
	flows    *analysis.DataFlow
	taint    *analysis.Taint
	log      *logging.Logger
	mcp      *server.MCPServer
	started  time.Time
	version  string
}

// Deps carries the wired components into NewServer.
type Deps struct {
	Config   *config.Config
	Executor *executor.Executor
	Client   *joern.Client
	Registry *registry.Registry
	Cache    *cache.Hybrid
	Limiter  *limiter.Adaptive
	Metrics  *metrics.Collector
	Prom     *metrics.Prom
	Log      *logging.Logger
	Version  string
}

// NewServer builds the MCP server and registers every tool.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:     d.Config,
		exec:    d.Executor,
		client:  d.Client,
		reg:     d.Registry,
		cache:   d.Cache,
		limiter: d.Limiter,
		metrics: d.Metrics,
		prom:    d.Prom,
		calls:   analysis.NewCallGraph(d.Executor),
		flows:   analysis.NewDataFlow(d.Executor),
		taint:   analysis.NewTaint(d.Executor),
		log:     d.Log,
		started: time.Now(),
		version: d.Version,
	}

	s.mcp = server.NewMCPServer(
		"joernmcp",
		d.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s.registerLifecycleTools()
	s.registerQueryTools()
	s.registerCallGraphTools()
	s.registerDataFlowTools()
	s.registerTaintTools()
	s.registerPerformanceTools()
	s.registerBatchTools()
	s.registerExportTools()
	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Infof("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

// ServeHTTP blocks serving streamable HTTP plus /healthz and /metrics.
// When an auth token hash is configured, MCP endpoints require a
// matching bearer token.
func (s *Server) ServeHTTP(ctx context.Context) error {
	stream := server.NewStreamableHTTPServer(s.mcp)

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.authMiddleware(stream))
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.prom != nil {
		mux.Handle("/metrics", s.prom.Handler())
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()

	s.log.Infof("serving MCP over HTTP on %s", s.cfg.Server.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := s.client.Ping(ctx); err != nil {
		status = "engine unreachable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// authMiddleware enforces the configured bearer token. The stored
// value is a bcrypt hash, so a leaked config file does not leak the
// token itself.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	hash := s.cfg.Server.AuthTokenHash
	if hash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// ============================================================================
// SHARED HANDLER HELPERS
// ============================================================================

// jsonResult serializes v as the tool's text payload.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

// errResult reports a tool failure without failing the protocol call.
func errResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// countQuery bumps the project's registry counter, quietly.
func (s *Server) countQuery(project string) {
	if s.reg == nil || project == "" {
		return
	}
	if err := s.reg.IncQueries(project); err != nil {
		s.log.Debugf("count query for %s: %v", project, err)
	}
}
