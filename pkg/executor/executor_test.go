package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/joernmcp/pkg/cache"
	"github.com/orneryd/joernmcp/pkg/joern"
	"github.com/orneryd/joernmcp/pkg/limiter"
	"github.com/orneryd/joernmcp/pkg/metrics"
	"github.com/orneryd/joernmcp/pkg/query"
)

// fakeEngine returns canned envelopes and counts dispatches.
type fakeEngine struct {
	calls  atomic.Int64
	last   atomic.Value // text of the most recent query
	stdout string
	err    error
	delay  time.Duration
}

func (f *fakeEngine) Execute(ctx context.Context, q string) (*joern.Envelope, error) {
	f.calls.Add(1)
	f.last.Store(q)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &joern.Envelope{Success: true, Stdout: f.stdout}, nil
}

func newTestExecutor(eng Engine) *Executor {
	lim := limiter.New(limiter.Config{Floor: 1, Ceiling: 4, Initial: 2})
	c := cache.New(cache.Options{})
	m := metrics.NewCollector(metrics.Options{})
	return New(eng, lim, c, m, nil, Config{})
}

func TestRunParsesEngineOutput(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[{\"name\":\"main\"}]"`}
	ex := newTestExecutor(eng)

	out, err := ex.Run(context.Background(), "cpg.method.name", Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)

	list, ok := out.Result.([]any)
	require.True(t, ok, "expected decoded JSON array, got %T", out.Result)
	require.Len(t, list, 1)
	assert.Equal(t, "main", list[0].(map[string]any)["name"])
}

func TestRunRejectsForbiddenQuery(t *testing.T) {
	eng := &fakeEngine{stdout: "ok"}
	ex := newTestExecutor(eng)

	_, err := ex.Run(context.Background(), `System.exit(0)`, Options{})
	require.Error(t, err)
	assert.EqualValues(t, 0, eng.calls.Load(), "rejected query must not reach the engine")
	assert.EqualValues(t, 1, ex.Rejected())

	// Rejections leave no trace in the latency window.
	assert.EqualValues(t, 0, ex.metrics.Snapshot().TotalQueries)
}

func TestRunServesSecondCallFromCache(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[1,2,3]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	first, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Result, second.Result)
	assert.EqualValues(t, 1, eng.calls.Load())
	assert.Zero(t, second.Duration)
}

func TestRunNormalizedQueriesShareCacheEntry(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	_, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)

	// Same query with different whitespace hits the same entry.
	out, err := ex.Run(ctx, "  cpg.method.size  ", Options{})
	require.NoError(t, err)
	assert.True(t, out.CacheHit)
	assert.EqualValues(t, 1, eng.calls.Load())
}

func TestRunAppendsSerializationSuffix(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	t.Run("single expression gets .toJson", func(t *testing.T) {
		_, err := ex.Run(ctx, "cpg.method.name", Options{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, "cpg.method.name.toJson", eng.last.Load())
	})

	t.Run("multi-line block is wrapped before the suffix", func(t *testing.T) {
		q := "{\n  val xs = cpg.method\n  xs.name\n}"
		_, err := ex.Run(ctx, q, Options{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, "("+q+").toJson", eng.last.Load())
	})

	t.Run("existing suffix is not doubled", func(t *testing.T) {
		_, err := ex.Run(ctx, "cpg.method.name.toJson", Options{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, "cpg.method.name.toJson", eng.last.Load())
	})

	t.Run("raw queries go through untouched", func(t *testing.T) {
		q := `cpg.method.name("main").dotCfg.head`
		_, err := ex.Run(ctx, q, Options{NoCache: true, Raw: true})
		require.NoError(t, err)
		assert.Equal(t, q, eng.last.Load())
	})
}

func TestRunRawAndJSONDoNotShareCacheEntry(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	_, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)

	out, err := ex.Run(ctx, "cpg.method.size", Options{Raw: true})
	require.NoError(t, err)
	assert.False(t, out.CacheHit, "raw run must not be served a serialized result")
	assert.EqualValues(t, 2, eng.calls.Load())
}

func TestRunSerializesAtUnitConcurrency(t *testing.T) {
	const engineLatency = 50 * time.Millisecond

	eng := &fakeEngine{stdout: `val res0: String = "[]"`, delay: engineLatency}
	lim := limiter.New(limiter.Config{Floor: 1, Ceiling: 1, Initial: 1})
	ex := New(eng, lim, cache.New(cache.Options{}), metrics.NewCollector(metrics.Options{}), nil, Config{})
	ctx := context.Background()

	start := time.Now()
	errs := make(chan error, 2)
	for _, q := range []string{"cpg.method.size", "cpg.file.size"} {
		go func(q string) {
			_, err := ex.Run(ctx, q, Options{NoCache: true})
			errs <- err
		}(q)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	elapsed := time.Since(start)

	// With a single permit the second query waits for the first, so the
	// pair takes at least two engine round trips.
	assert.GreaterOrEqual(t, elapsed, 2*engineLatency-5*time.Millisecond,
		"queries overlapped under a concurrency limit of one")
	assert.EqualValues(t, 2, eng.calls.Load())
}

func TestRunNoCacheAlwaysDispatches(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := ex.Run(ctx, "cpg.file.size", Options{NoCache: true})
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
	}
	assert.EqualValues(t, 3, eng.calls.Load())
	assert.Zero(t, ex.cache.Stats().HotSize+ex.cache.Stats().ColdSize)
}

func TestRunEngineErrorNotCached(t *testing.T) {
	eng := &fakeEngine{err: errors.New("connection refused")}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	_, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.Error(t, err)

	// A later successful run must dispatch again, not hit a poisoned
	// cache entry.
	eng.err = nil
	eng.stdout = `val res0: String = "[]"`
	out, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.EqualValues(t, 2, eng.calls.Load())
}

func TestRunTimeout(t *testing.T) {
	eng := &fakeEngine{stdout: "x", delay: 200 * time.Millisecond}
	ex := New(eng, limiter.New(limiter.Config{}), nil, nil, nil, Config{Timeout: 20 * time.Millisecond})

	_, err := ex.Run(context.Background(), "cpg.method.size", Options{})
	require.Error(t, err)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.Deadline)
}

func TestRunCallerCancellationIsNotTimeout(t *testing.T) {
	eng := &fakeEngine{stdout: "x", delay: time.Second}
	ex := New(eng, limiter.New(limiter.Config{}), nil, nil, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.Error(t, err)

	var te *TimeoutError
	assert.False(t, errors.As(err, &te), "caller cancellation must not masquerade as a deadline")
}

func TestDeadlineStretchForHeavyQueries(t *testing.T) {
	ex := newTestExecutor(&fakeEngine{})

	// A deep taint query scores high enough to earn the stretch.
	heavy := `def sources = cpg.method.name("(recv)").parameter
def sinks = cpg.call.name("(system)").argument
sinks.reachableBy(sources).flows.repeat(x)(y)`

	cheap := ex.deadline(query.Estimate("cpg.method.size"), Options{})
	stretched := ex.deadline(query.Estimate(heavy), Options{})
	assert.Equal(t, DefaultTimeout, cheap)
	assert.Equal(t, time.Duration(float64(DefaultTimeout)*slowStretch), stretched)
}

func TestRunRecordsMetricsOncePerExecution(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[]"`}
	ex := newTestExecutor(eng)
	ctx := context.Background()

	_, err := ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)
	_, err = ex.Run(ctx, "cpg.method.size", Options{})
	require.NoError(t, err)

	stats := ex.metrics.Snapshot()
	assert.EqualValues(t, 2, stats.TotalQueries)
	assert.EqualValues(t, 1, stats.CacheHits)
}

func TestRunJSON(t *testing.T) {
	eng := &fakeEngine{stdout: `val res0: String = "[{\"name\":\"f\",\"lineNumber\":3}]"`}
	ex := newTestExecutor(eng)

	var rows []struct {
		Name string `json:"name"`
		Line int    `json:"lineNumber"`
	}
	err := ex.RunJSON(context.Background(), "cpg.method", Options{}, &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "f", rows[0].Name)
	assert.Equal(t, 3, rows[0].Line)
}
