// Package main provides the joernmcp CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/joernmcp/pkg/cache"
	"github.com/orneryd/joernmcp/pkg/config"
	"github.com/orneryd/joernmcp/pkg/executor"
	"github.com/orneryd/joernmcp/pkg/joern"
	"github.com/orneryd/joernmcp/pkg/limiter"
	"github.com/orneryd/joernmcp/pkg/logging"
	"github.com/orneryd/joernmcp/pkg/mcp"
	"github.com/orneryd/joernmcp/pkg/metrics"
	"github.com/orneryd/joernmcp/pkg/registry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "joernmcp",
		Short: "joernmcp - Joern code analysis MCP server for LLM agents",
		Long: `joernmcp exposes the Joern static-analysis engine to MCP clients,
letting LLM agents explore call graphs, data flow, and taint paths in
parsed codebases.

Features:
  • Project lifecycle (parse, list, delete) with a persistent registry
  • Call graph traversal (callers, callees, chains, combined graphs)
  • Data-flow tracking and variable dependency analysis
  • Taint rules for common vulnerability classes (CWE-tagged)
  • Hybrid hot/cold result cache with adaptive concurrency control
  • stdio and streamable-HTTP transports`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("joernmcp v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long:  "Start the MCP server on stdio or HTTP, connecting to (or spawning) a Joern engine",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "YAML config file (environment variables override it)")
	serveCmd.Flags().String("transport", "", "Transport override: stdio or http")
	serveCmd.Flags().String("http-addr", "", "HTTP listen address override")
	serveCmd.Flags().Bool("manage-joern", false, "Spawn and manage the Joern engine process")
	rootCmd.AddCommand(serveCmd)

	// Check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Ping the Joern engine and report its status",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("config", "", "YAML config file")
	rootCmd.AddCommand(checkCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadFromEnv(), nil
	}
	return config.LoadFile(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
		cfg.Server.Transport = transport
	}
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if manage, _ := cmd.Flags().GetBool("manage-joern"); manage {
		cfg.Joern.Manage = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// stdout carries the MCP protocol on stdio transport, so all
	// operator output goes to stderr.
	logger := logging.New("joernmcp", logging.ParseLevel(cfg.Logging.Level))
	logger.Infof("starting joernmcp v%s (%s)", version, commit)
	logger.Infof("%s", cfg.String())

	client := joern.NewClient(joern.Config{
		BaseURL:     cfg.BaseURL(),
		Username:    cfg.Joern.Username,
		Password:    cfg.Joern.Password,
		HTTPTimeout: 30 * time.Second,
	})

	engine := joern.NewServer(joern.ServerConfig{
		Binary:       cfg.Joern.Binary,
		Host:         cfg.Joern.Host,
		Port:         cfg.Joern.Port,
		Username:     cfg.Joern.Username,
		Password:     cfg.Joern.Password,
		WorkspaceDir: cfg.Joern.WorkspaceDir,
		StartTimeout: cfg.Joern.StartTimeout,
	}, client, logger.Std())

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.Joern.StartTimeout)
	defer cancelStart()
	if cfg.Joern.Manage {
		if err := engine.Start(startCtx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		defer engine.Stop()
	} else if err := engine.ConnectExisting(startCtx); err != nil {
		// Not fatal: the engine may come up later and health_check
		// reports the gap in the meantime.
		logger.Warnf("engine not answering at %s: %v", cfg.BaseURL(), err)
	}

	reg, err := registry.Open(registry.Options{
		Dir: filepath.Join(cfg.Joern.WorkspaceDir, "registry"),
	})
	if err != nil {
		return fmt.Errorf("opening project registry: %w", err)
	}
	defer reg.Close()

	resultCache := cache.New(cache.Options{
		HotSize:  cfg.Cache.HotSize,
		ColdSize: cfg.Cache.ColdSize,
		TTL:      cfg.Cache.TTL,
	})
	if !cfg.Cache.Enabled {
		resultCache.SetEnabled(false)
	}

	lim := limiter.New(limiter.Config{
		Floor:         cfg.Concurrency.Floor,
		Ceiling:       cfg.Concurrency.Ceiling,
		Initial:       cfg.Concurrency.Initial,
		TargetLatency: cfg.Concurrency.TargetLatency,
	})
	defer lim.Close()

	collector := metrics.NewCollector(metrics.Options{
		WindowSize:    cfg.Metrics.WindowSize,
		SlowThreshold: cfg.Metrics.SlowThreshold,
	})

	var prom *metrics.Prom
	if cfg.Server.Transport == "http" {
		prom = metrics.NewProm()
	}

	exec := executor.New(client, lim, resultCache, collector, prom, executor.Config{
		Timeout: cfg.Query.Timeout,
	})

	srv := mcp.NewServer(mcp.Deps{
		Config:   cfg,
		Executor: exec,
		Client:   client,
		Registry: reg,
		Cache:    resultCache,
		Limiter:  lim,
		Metrics:  collector,
		Prom:     prom,
		Log:      logger,
		Version:  version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Engine-side messages (query progress, warnings) arrive over a
	// websocket; surface them at debug level.
	go func() {
		events, err := client.Events(ctx)
		if err != nil {
			logger.Debugf("engine event stream unavailable: %v", err)
			return
		}
		for msg := range events {
			logger.Debugf("engine: %s", msg)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.Transport == "http" {
			errCh <- srv.ServeHTTP(ctx)
		} else {
			errCh <- srv.ServeStdio()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := joern.NewClient(joern.Config{
		BaseURL:     cfg.BaseURL(),
		Username:    cfg.Joern.Username,
		Password:    cfg.Joern.Password,
		HTTPTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		fmt.Printf("❌ engine not answering at %s: %v\n", cfg.BaseURL(), err)
		os.Exit(1)
	}
	fmt.Printf("✅ engine answering at %s (%v)\n", cfg.BaseURL(), time.Since(start).Round(time.Millisecond))
	return nil
}
