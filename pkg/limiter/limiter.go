// Package limiter provides the adaptive concurrency limiter that sits
// between the executor and the Joern engine.
//
// The engine is a JVM process with a fixed thread pool; flooding it with
// concurrent queries degrades every query in flight. The limiter starts
// at a configured limit and steers it between a floor and a ceiling
// based on observed latency: when queries run slow it sheds permits,
// when they run fast it adds them.
//
// The limit only ever moves on completion boundaries. In-flight queries
// are never cancelled by a decrease; a lower limit simply takes effect
// as permits drain back.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultFloor         = 2
	DefaultCeiling       = 20
	DefaultInitial       = 5
	DefaultTargetLatency = time.Second
	DefaultAdjustEvery   = 10

	// adjustStep is how many permits a single decision adds or removes.
	adjustStep = 2

	// slowFactor and fastFactor bound the dead zone around the target:
	// mean > slowFactor*target shrinks the limit, mean < fastFactor*target
	// grows it, anything between leaves it alone.
	slowFactor = 1.5
	fastFactor = 0.5
)

// Config tunes an Adaptive limiter. Zero fields take the defaults above.
type Config struct {
	Floor         int           // lowest the limit may go
	Ceiling       int           // highest the limit may go
	Initial       int           // starting limit, clamped to [Floor, Ceiling]
	TargetLatency time.Duration // latency the limiter steers toward
	AdjustEvery   int           // completions between adjustment decisions
}

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("limiter closed")

// Snapshot is a point-in-time view of limiter state.
type Snapshot struct {
	Limit     int `json:"limit"`
	InFlight  int `json:"in_flight"`
	Floor     int `json:"floor"`
	Ceiling   int `json:"ceiling"`
	Decisions int `json:"decisions"` // adjustment decisions made so far
	Raised    int `json:"raised"`
	Lowered   int `json:"lowered"`
}

// Adaptive is a latency-steered concurrency limiter. Safe for concurrent
// use.
//
// Implementation: a weighted semaphore sized at Ceiling. The difference
// between Ceiling and the current limit is held internally as reserved
// weight, so callers only ever see `limit` usable permits. Raising the
// limit releases reserve; lowering it re-acquires reserve opportunistically
// as permits come back.
type Adaptive struct {
	sem *semaphore.Weighted
	cfg Config

	mu        sync.Mutex
	limit     int
	reserved  int // ceiling - limit permits currently held back
	deficit   int // reserve we still owe after a decrease
	inFlight  int
	window    []time.Duration
	decisions int
	raised    int
	lowered   int
	closed    bool
}

// New builds an Adaptive limiter from cfg, filling in defaults and
// clamping Initial into [Floor, Ceiling].
func New(cfg Config) *Adaptive {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultFloor
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = cfg.Floor
	}
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitial
	}
	if cfg.Initial < cfg.Floor {
		cfg.Initial = cfg.Floor
	}
	if cfg.Initial > cfg.Ceiling {
		cfg.Initial = cfg.Ceiling
	}
	if cfg.TargetLatency <= 0 {
		cfg.TargetLatency = DefaultTargetLatency
	}
	if cfg.AdjustEvery <= 0 {
		cfg.AdjustEvery = DefaultAdjustEvery
	}

	a := &Adaptive{
		sem:    semaphore.NewWeighted(int64(cfg.Ceiling)),
		cfg:    cfg,
		limit:  cfg.Initial,
		window: make([]time.Duration, 0, cfg.AdjustEvery),
	}
	// Park the permits above the initial limit.
	a.reserved = cfg.Ceiling - cfg.Initial
	if a.reserved > 0 {
		// Cannot fail: the semaphore is untouched and reserved <= ceiling.
		_ = a.sem.Acquire(context.Background(), int64(a.reserved))
	}
	return a
}

// Acquire blocks until a permit is available or ctx is done.
func (a *Adaptive) Acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.mu.Unlock()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	a.mu.Lock()
	a.inFlight++
	a.mu.Unlock()
	return nil
}

// Release returns a permit and feeds the query's latency into the
// adjustment window. ok reports whether the query succeeded; failed
// queries still contribute latency, since a slow failure is the same
// backpressure signal as a slow success.
func (a *Adaptive) Release(latency time.Duration, ok bool) {
	a.mu.Lock()

	a.inFlight--
	a.window = append(a.window, latency)
	if len(a.window) >= a.cfg.AdjustEvery {
		a.adjustLocked()
	}

	// Pay down reserve debt from an earlier decrease before handing the
	// permit back to callers.
	if a.deficit > 0 {
		a.deficit--
		a.reserved++
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.sem.Release(1)
}

// Snapshot returns current limiter state.
func (a *Adaptive) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Limit:     a.limit,
		InFlight:  a.inFlight,
		Floor:     a.cfg.Floor,
		Ceiling:   a.cfg.Ceiling,
		Decisions: a.decisions,
		Raised:    a.raised,
		Lowered:   a.lowered,
	}
}

// Limit returns the current concurrency limit.
func (a *Adaptive) Limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

// Close rejects future Acquires. In-flight queries may still Release.
func (a *Adaptive) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// adjustLocked makes one adjustment decision from the completed window
// and resets it. Caller holds a.mu.
func (a *Adaptive) adjustLocked() {
	var sum time.Duration
	for _, d := range a.window {
		sum += d
	}
	mean := sum / time.Duration(len(a.window))
	a.window = a.window[:0]
	a.decisions++

	target := a.cfg.TargetLatency
	switch {
	case mean > time.Duration(float64(target)*slowFactor):
		a.setLimitLocked(a.limit - adjustStep)
	case mean < time.Duration(float64(target)*fastFactor):
		a.setLimitLocked(a.limit + adjustStep)
	}
}

// setLimitLocked moves the limit to want, clamped to [floor, ceiling],
// by releasing reserve (increase) or recording reserve debt (decrease).
// Caller holds a.mu.
func (a *Adaptive) setLimitLocked(want int) {
	if want < a.cfg.Floor {
		want = a.cfg.Floor
	}
	if want > a.cfg.Ceiling {
		want = a.cfg.Ceiling
	}
	if want == a.limit {
		return
	}

	if want > a.limit {
		grow := want - a.limit
		// Un-park reserve first; any remainder cancels outstanding debt.
		fromReserve := grow
		if fromReserve > a.reserved {
			fromReserve = a.reserved
		}
		a.reserved -= fromReserve
		if fromReserve > 0 {
			a.sem.Release(int64(fromReserve))
		}
		a.deficit -= grow - fromReserve
		if a.deficit < 0 {
			a.deficit = 0
		}
		a.raised++
	} else {
		// Reclaim free permits right away; permits currently in use
		// cannot be clawed back, so the remainder becomes debt that
		// Release repays as queries finish.
		shrink := a.limit - want
		for shrink > 0 && a.sem.TryAcquire(1) {
			a.reserved++
			shrink--
		}
		a.deficit += shrink
		a.lowered++
	}
	a.limit = want
}
