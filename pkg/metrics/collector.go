// Package metrics collects query performance statistics: latency
// percentiles over a bounded sample window, lifetime counters, and a
// ring buffer of the slowest recent queries.
//
// The window is deliberately bounded (last N samples) so percentiles
// reflect current behavior rather than averaging away a regression
// behind hours of old samples. Lifetime counters stay monotonic.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by NewCollector for zero Options fields.
const (
	DefaultWindowSize    = 1000
	DefaultSlowThreshold = 5 * time.Second
	DefaultSlowCapacity  = 100

	// slowQueryMaxChars bounds how much query text a slow record keeps.
	slowQueryMaxChars = 200
)

// Options configures a Collector.
type Options struct {
	WindowSize    int           // samples kept for percentile math
	SlowThreshold time.Duration // queries at or above this are recorded as slow
	SlowCapacity  int           // slow records kept (ring)
}

// SlowQuery is one retained slow-query record.
type SlowQuery struct {
	ID       string        `json:"id"`
	Query    string        `json:"query"` // truncated to 200 chars
	Duration time.Duration `json:"duration"`
	When     time.Time     `json:"when"`
}

// Stats is a point-in-time performance snapshot.
type Stats struct {
	TotalQueries  uint64        `json:"total_queries"`
	CacheHits     uint64        `json:"cache_hits"`
	CacheHitRate  float64       `json:"cache_hit_rate"` // percent
	Successes     uint64        `json:"successes"`
	Failures      uint64        `json:"failures"`
	SuccessRate   float64       `json:"success_rate"` // percent
	MinLatency    time.Duration `json:"min_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
	AvgLatency    time.Duration `json:"avg_latency"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
	WindowSamples int           `json:"window_samples"`
	SlowQueries   int           `json:"slow_queries"`
}

// Collector accumulates query samples. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	opts Options

	// window is a ring of the most recent latencies.
	window []time.Duration
	next   int

	total     uint64
	cacheHits uint64
	successes uint64
	failures  uint64

	// slow is a ring of slow-query records; slowNext points at the
	// slot the next record overwrites.
	slow     []SlowQuery
	slowNext int
}

// NewCollector builds a Collector, filling in defaults for zero fields.
func NewCollector(opts Options) *Collector {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.SlowCapacity <= 0 {
		opts.SlowCapacity = DefaultSlowCapacity
	}
	return &Collector{
		opts:   opts,
		window: make([]time.Duration, 0, opts.WindowSize),
		slow:   make([]SlowQuery, 0, opts.SlowCapacity),
	}
}

// RecordQuery records exactly one executed query: its latency, whether
// it was served from cache, and whether it succeeded. Rejected queries
// are never recorded here.
func (c *Collector) RecordQuery(q string, d time.Duration, cacheHit, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if cacheHit {
		c.cacheHits++
	}
	if ok {
		c.successes++
	} else {
		c.failures++
	}

	if len(c.window) < c.opts.WindowSize {
		c.window = append(c.window, d)
	} else {
		c.window[c.next] = d
		c.next = (c.next + 1) % c.opts.WindowSize
	}

	if d >= c.opts.SlowThreshold {
		rec := SlowQuery{
			ID:       uuid.NewString(),
			Query:    truncate(q, slowQueryMaxChars),
			Duration: d,
			When:     time.Now(),
		}
		if len(c.slow) < c.opts.SlowCapacity {
			c.slow = append(c.slow, rec)
		} else {
			c.slow[c.slowNext] = rec
			c.slowNext = (c.slowNext + 1) % c.opts.SlowCapacity
		}
	}
}

// Snapshot computes current statistics. Percentiles come from a sorted
// copy of the window; all duration fields are zero when no samples exist.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalQueries:  c.total,
		CacheHits:     c.cacheHits,
		Successes:     c.successes,
		Failures:      c.failures,
		WindowSamples: len(c.window),
		SlowQueries:   len(c.slow),
	}
	if c.total > 0 {
		s.CacheHitRate = float64(c.cacheHits) / float64(c.total) * 100
		s.SuccessRate = float64(c.successes) / float64(c.total) * 100
	}
	if len(c.window) == 0 {
		return s
	}

	sorted := make([]time.Duration, len(c.window))
	copy(sorted, c.window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	s.MinLatency = sorted[0]
	s.MaxLatency = sorted[len(sorted)-1]
	s.AvgLatency = sum / time.Duration(len(sorted))
	s.P50 = percentile(sorted, 0.50)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)
	return s
}

// SlowQueries returns retained slow-query records, newest first, up to
// limit (0 means all).
func (c *Collector) SlowQueries(limit int) []SlowQuery {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.slow)
	if n == 0 {
		return nil
	}
	full := n == c.opts.SlowCapacity
	out := make([]SlowQuery, 0, n)
	// Walk backwards from the most recently written record.
	for i := 0; i < n; i++ {
		var idx int
		if full {
			idx = (c.slowNext - 1 - i + n) % n
		} else {
			idx = n - 1 - i
		}
		out = append(out, c.slow[idx])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ClearSlow drops all slow-query records.
func (c *Collector) ClearSlow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slow = c.slow[:0]
	c.slowNext = 0
}

// Reset zeroes everything: counters, window, and slow records.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = c.window[:0]
	c.next = 0
	c.total, c.cacheHits, c.successes, c.failures = 0, 0, 0, 0
	c.slow = c.slow[:0]
	c.slowNext = 0
}

// percentile picks from an ascending-sorted slice using the index
// int(p*N) clamped to the last element.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
