package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orneryd/joernmcp/pkg/metrics"
)

func (s *Server) registerPerformanceTools() {
	s.mcp.AddTool(mcp.NewTool("get_performance_stats",
		mcp.WithDescription("Report query throughput, latency percentiles, and concurrency state"),
		mcp.WithTitleAnnotation("Get Performance Stats"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handlePerformanceStats)

	s.mcp.AddTool(mcp.NewTool("get_cache_stats",
		mcp.WithDescription("Report result cache occupancy, hit rate, and tier movement"),
		mcp.WithTitleAnnotation("Get Cache Stats"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleCacheStats)

	s.mcp.AddTool(mcp.NewTool("clear_query_cache",
		mcp.WithDescription("Drop every cached query result"),
		mcp.WithTitleAnnotation("Clear Query Cache"),
		mcp.WithDestructiveHintAnnotation(true),
	), s.handleClearCache)

	s.mcp.AddTool(mcp.NewTool("get_slow_queries",
		mcp.WithDescription("List recent slow queries, newest first"),
		mcp.WithTitleAnnotation("Get Slow Queries"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("limit",
			mcp.Description("Maximum records to return (default 10)"),
		),
	), s.handleSlowQueries)

	s.mcp.AddTool(mcp.NewTool("get_system_health",
		mcp.WithDescription("Grade overall system health from success rate, latency, and cache effectiveness"),
		mcp.WithTitleAnnotation("Get System Health"),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleSystemHealth)

	s.mcp.AddTool(mcp.NewTool("optimize_performance",
		mcp.WithDescription("Sweep expired cache entries and report tuning recommendations"),
		mcp.WithTitleAnnotation("Optimize Performance"),
	), s.handleOptimize)
}

func (s *Server) handlePerformanceStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.metrics.Snapshot()
	lim := s.limiter.Snapshot()

	return jsonResult(map[string]any{
		"success": true,
		"queries": map[string]any{
			"total":            stats.TotalQueries,
			"successes":        stats.Successes,
			"failures":         stats.Failures,
			"success_rate_pct": stats.SuccessRate,
			"rejected":         s.exec.Rejected(),
		},
		"latency": map[string]any{
			"min_ms": float64(stats.MinLatency) / float64(time.Millisecond),
			"max_ms": float64(stats.MaxLatency) / float64(time.Millisecond),
			"avg_ms": float64(stats.AvgLatency) / float64(time.Millisecond),
			"p50_ms": float64(stats.P50) / float64(time.Millisecond),
			"p95_ms": float64(stats.P95) / float64(time.Millisecond),
			"p99_ms": float64(stats.P99) / float64(time.Millisecond),
			"window": stats.WindowSamples,
		},
		"concurrency": map[string]any{
			"limit":     lim.Limit,
			"in_flight": lim.InFlight,
			"floor":     lim.Floor,
			"ceiling":   lim.Ceiling,
			"raised":    lim.Raised,
			"lowered":   lim.Lowered,
		},
		"slow_queries": stats.SlowQueries,
	})
}

func (s *Server) handleCacheStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cache == nil {
		return mcp.NewToolResultError("cache disabled"), nil
	}
	stats := s.cache.Stats()
	return jsonResult(map[string]any{
		"success": true,
		"cache":   stats,
		"health":  cacheHealth(stats.HitRate),
	})
}

func (s *Server) handleClearCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cache == nil {
		return mcp.NewToolResultError("cache disabled"), nil
	}
	s.cache.Clear()
	s.log.Infof("query cache cleared")
	return jsonResult(map[string]any{"success": true, "cleared": true})
}

func (s *Server) handleSlowQueries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)
	slow := s.metrics.SlowQueries(limit)

	out := make([]map[string]any, 0, len(slow))
	for _, q := range slow {
		out = append(out, map[string]any{
			"id":          q.ID,
			"query":       q.Query,
			"duration_ms": float64(q.Duration) / float64(time.Millisecond),
			"when":        q.When,
		})
	}
	return jsonResult(map[string]any{
		"success":      true,
		"slow_queries": out,
		"count":        len(out),
	})
}

func (s *Server) handleSystemHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.metrics.Snapshot()
	lim := s.limiter.Snapshot()

	engineUp := s.client.Ping(ctx) == nil
	grade := healthGrade(stats, s.cfg.Concurrency.TargetLatency, engineUp)

	out := map[string]any{
		"success":          true,
		"grade":            grade,
		"engine_up":        engineUp,
		"success_rate_pct": stats.SuccessRate,
		"p95_ms":           float64(stats.P95) / float64(time.Millisecond),
		"target_ms":        float64(s.cfg.Concurrency.TargetLatency) / float64(time.Millisecond),
		"concurrency":      lim.Limit,
		"uptime_seconds":   int(time.Since(s.started).Seconds()),
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		out["cache_health"] = cacheHealth(cs.HitRate)
		out["cache_hit_rate_pct"] = cs.HitRate
	}
	return jsonResult(out)
}

func (s *Server) handleOptimize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.metrics.Snapshot()
	lim := s.limiter.Snapshot()

	swept := 0
	if s.cache != nil {
		swept = s.cache.SweepExpired()
	}

	var recs []string
	if s.cache != nil {
		cs := s.cache.Stats()
		if cs.HitRate < 40 && stats.TotalQueries >= 20 {
			recs = append(recs, fmt.Sprintf(
				"cache hit rate is %.1f%%; consider raising the cache TTL or hot tier size", cs.HitRate))
		}
	}
	target := s.cfg.Concurrency.TargetLatency
	if stats.WindowSamples > 0 && stats.P95 > 2*target {
		recs = append(recs, fmt.Sprintf(
			"p95 latency %.0fms is more than twice the %.0fms target; narrow query scopes or lower max_flows",
			float64(stats.P95)/float64(time.Millisecond), float64(target)/float64(time.Millisecond)))
	}
	if lim.Limit == lim.Floor && lim.Lowered > lim.Raised {
		recs = append(recs, "concurrency limit is pinned at the floor; the engine is saturated, consider more engine memory")
	}
	if stats.SlowQueries > 50 {
		recs = append(recs, fmt.Sprintf("%d slow queries recorded; review get_slow_queries output", stats.SlowQueries))
	}
	if len(recs) == 0 {
		recs = append(recs, "no tuning needed")
	}

	return jsonResult(map[string]any{
		"success":         true,
		"expired_swept":   swept,
		"recommendations": recs,
	})
}

// ============================================================================
// GRADING
// ============================================================================

// healthGrade folds success rate and p95-vs-target into a letter
// grade. An unreachable engine caps the grade at F regardless of
// history.
func healthGrade(stats metrics.Stats, target time.Duration, engineUp bool) string {
	if !engineUp {
		return "F"
	}
	if stats.TotalQueries == 0 {
		// Nothing measured yet; healthy until proven otherwise.
		return "A"
	}

	score := 0.0

	switch {
	case stats.SuccessRate >= 99:
		score += 50
	case stats.SuccessRate >= 95:
		score += 40
	case stats.SuccessRate >= 90:
		score += 30
	case stats.SuccessRate >= 75:
		score += 15
	}

	ratio := float64(stats.P95) / float64(target)
	switch {
	case stats.WindowSamples == 0 || ratio <= 1:
		score += 50
	case ratio <= 1.5:
		score += 40
	case ratio <= 2:
		score += 30
	case ratio <= 4:
		score += 15
	}

	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	}
	return "F"
}

// cacheHealth buckets hit rate (percent) into a label.
func cacheHealth(hitRate float64) string {
	switch {
	case hitRate >= 80:
		return "Excellent"
	case hitRate >= 60:
		return "Good"
	case hitRate >= 40:
		return "Fair"
	}
	return "Poor"
}
