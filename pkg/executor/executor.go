// Package executor runs CPGQL queries through the full pipeline:
// validation, complexity estimation, cache lookup, admission control,
// dispatch to the engine, and result caching.
//
// The pipeline order is load-bearing. Rejected queries never touch the
// cache or the latency window; cache hits never consume a concurrency
// permit; queue wait in the limiter is excluded from the measured
// execution latency so the adaptive limit reacts to engine speed, not
// to its own backlog.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/orneryd/joernmcp/pkg/cache"
	"github.com/orneryd/joernmcp/pkg/joern"
	"github.com/orneryd/joernmcp/pkg/limiter"
	"github.com/orneryd/joernmcp/pkg/metrics"
	"github.com/orneryd/joernmcp/pkg/query"
)

// DefaultTimeout bounds a single engine dispatch. Whole-program taint
// queries on large CPGs routinely run for minutes.
const DefaultTimeout = 300 * time.Second

// slowStretch widens the deadline for queries the estimator scored as
// heavy.
const (
	slowStretch    = 1.5
	slowScoreFloor = 7
)

// Engine is the slice of the Joern client the executor needs.
type Engine interface {
	Execute(ctx context.Context, query string) (*joern.Envelope, error)
}

// TimeoutError reports a dispatch that outlived its deadline.
type TimeoutError struct {
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query exceeded %s deadline", e.Deadline)
}

// Options tune a single Run call.
type Options struct {
	// NoCache bypasses both cache lookup and cache fill.
	NoCache bool
	// Timeout overrides the configured base deadline when positive.
	Timeout time.Duration
	// Raw skips the .toJson serialization suffix, for queries whose
	// output is not JSON: DOT exports, workspace commands, scalar
	// probes.
	Raw bool
}

// Outcome is the result of one pipeline pass.
type Outcome struct {
	// Result is the parsed engine output: a decoded JSON value when
	// stdout carried one, or the trimmed raw text wrapped as
	// {"raw": ...}.
	Result any
	// Raw is the JSON encoding of Result, as cached.
	Raw []byte
	// CacheHit reports whether Result came from the cache.
	CacheHit bool
	// Complexity is the estimator's verdict for this query.
	Complexity query.Complexity
	// Duration is the engine dispatch time; zero for cache hits.
	Duration time.Duration
}

// Config holds executor settings.
type Config struct {
	// Timeout is the base dispatch deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Executor drives queries through validation, caching, admission
// control, and dispatch.
type Executor struct {
	cache   *cache.Hybrid
	limiter *limiter.Adaptive
	engine  Engine
	metrics *metrics.Collector
	prom    *metrics.Prom
	cfg     Config

	rejected atomic.Uint64
}

// New builds an Executor. cache, metrics, and prom may be nil; limiter
// and engine are required.
func New(engine Engine, lim *limiter.Adaptive, c *cache.Hybrid, m *metrics.Collector, p *metrics.Prom, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{
		cache:   c,
		limiter: lim,
		engine:  engine,
		metrics: m,
		prom:    p,
		cfg:     cfg,
	}
}

// Rejected returns the count of queries refused by validation.
func (e *Executor) Rejected() uint64 { return e.rejected.Load() }

// Run executes q through the full pipeline.
func (e *Executor) Run(ctx context.Context, q string, opts Options) (*Outcome, error) {
	if err := query.Validate(q); err != nil {
		e.rejected.Add(1)
		return nil, err
	}

	cx := query.Estimate(q)
	out := &Outcome{Complexity: cx}

	// The engine prints Scala toString forms unless the query ends in a
	// serialization step; without it nothing downstream can decode the
	// output. Formatting happens before keying so raw and JSON runs of
	// the same text never share a cache entry.
	if !opts.Raw {
		q = formatQuery(q)
	}
	key := cache.Key(q)

	if e.cache != nil && !opts.NoCache {
		if raw, ok := e.cache.Get(key); ok {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				// Cached bytes are always produced by json.Marshal
				// below; a decode failure means the entry is garbage.
				e.cache.Invalidate(key)
			} else {
				out.Result = v
				out.Raw = raw
				out.CacheHit = true
				e.record(0, true, true, q)
				return out, nil
			}
		}
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	deadline := e.deadline(cx, opts)
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	env, err := e.engine.Execute(dctx, q)
	elapsed := time.Since(start)

	e.limiter.Release(elapsed, err == nil)

	if err != nil {
		e.record(elapsed, false, false, q)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Deadline: deadline}
		}
		return nil, err
	}

	result := joern.SafeParse(env.Stdout)
	raw, err := json.Marshal(result)
	if err != nil {
		e.record(elapsed, false, false, q)
		return nil, fmt.Errorf("encode result: %w", err)
	}

	if e.cache != nil && !opts.NoCache {
		e.cache.Put(key, raw, cx)
	}

	e.record(elapsed, false, true, q)
	out.Result = result
	out.Raw = raw
	out.Duration = elapsed
	return out, nil
}

// RunJSON executes q and unmarshals the result into v.
func (e *Executor) RunJSON(ctx context.Context, q string, opts Options, v any) error {
	out, err := e.Run(ctx, q, opts)
	if err != nil {
		return err
	}
	return json.Unmarshal(out.Raw, v)
}

// formatQuery appends .toJson so the engine serializes the result.
// Multi-line and multi-statement queries are wrapped in parens first so
// the suffix applies to the block's value.
func formatQuery(q string) string {
	q = strings.TrimSpace(q)
	if strings.HasSuffix(q, ".toJson") {
		return q
	}
	if strings.ContainsAny(q, "\n;") {
		return "(" + q + ").toJson"
	}
	return q + ".toJson"
}

func (e *Executor) deadline(cx query.Complexity, opts Options) time.Duration {
	d := e.cfg.Timeout
	if opts.Timeout > 0 {
		d = opts.Timeout
	}
	if cx.Score >= slowScoreFloor {
		d = time.Duration(float64(d) * slowStretch)
	}
	return d
}

func (e *Executor) record(d time.Duration, hit, ok bool, q string) {
	if e.metrics != nil {
		e.metrics.RecordQuery(q, d, hit, ok)
	}
	if e.prom != nil {
		e.prom.Observe(d, hit, ok)
		e.prom.SetLimit(e.limiter.Limit())
	}
}
