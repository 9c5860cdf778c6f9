package joern

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine is a minimal Joern HTTP API for tests.
type fakeEngine struct {
	mu        sync.Mutex
	results   map[string]Envelope
	syncOK    bool
	pollsLeft int32 // async results 404 until this many polls happen
	sawAuth   atomic.Bool
}

func newFakeEngine(syncOK bool) (*fakeEngine, *httptest.Server) {
	f := &fakeEngine{results: make(map[string]Envelope), syncOK: syncOK}
	mux := http.NewServeMux()

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			f.sawAuth.Store(true)
		}
		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		id := uuid.NewString()
		f.mu.Lock()
		f.results[id] = f.envelopeFor(req.Query)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"uuid": id})
	})

	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.pollsLeft, -1) >= 0 {
			http.NotFound(w, r)
			return
		}
		id := r.URL.Path[len("/result/"):]
		f.mu.Lock()
		env, ok := f.results[id]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(env)
	})

	mux.HandleFunc("/query-sync", func(w http.ResponseWriter, r *http.Request) {
		if !f.syncOK {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Query string `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(f.envelopeFor(req.Query))
	})

	return f, httptest.NewServer(mux)
}

func (f *fakeEngine) envelopeFor(q string) Envelope {
	switch q {
	case "1 + 1":
		return Envelope{Success: true, Stdout: "val res0: Int = 2"}
	case "boom":
		return Envelope{Success: false, Stderr: "compilation failed: boom"}
	default:
		return Envelope{Success: true, Stdout: `val res1: String = "[]"`}
	}
}

func TestExecuteSync(t *testing.T) {
	_, srv := newFakeEngine(true)
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL})

	env, err := c.Execute(context.Background(), "cpg.method.name.l")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Contains(t, env.Stdout, "[]")
}

func TestExecuteFallsBackToPolling(t *testing.T) {
	f, srv := newFakeEngine(false)
	defer srv.Close()
	f.pollsLeft = 2 // two 404s before the result shows up

	c := NewClient(Config{BaseURL: srv.URL})
	env, err := c.Execute(context.Background(), "cpg.method.name.l")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.True(t, c.syncUnsupported.Load(), "client should remember /query-sync is missing")

	// Second query must skip /query-sync entirely and still work.
	_, err = c.Execute(context.Background(), "cpg.call.l")
	require.NoError(t, err)
}

func TestExecuteEngineError(t *testing.T) {
	_, srv := newFakeEngine(true)
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL})

	_, err := c.Execute(context.Background(), "boom")
	require.Error(t, err)
	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Contains(t, engErr.Stderr, "boom")
}

func TestExecuteHonorsDeadline(t *testing.T) {
	f, srv := newFakeEngine(false)
	defer srv.Close()
	f.pollsLeft = 1 << 30 // never completes

	c := NewClient(Config{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	_, err := c.Execute(ctx, "cpg.method.l")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestSlowQueryOutlivesControlPlaneTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/query-sync", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(Envelope{Success: true, Stdout: `val res0: String = "[]"`})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// HTTPTimeout is far below the query's runtime; only the caller's
	// context may bound query evaluation.
	c := NewClient(Config{BaseURL: srv.URL, HTTPTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env, err := c.Execute(ctx, "cpg.call.name.l")
	require.NoError(t, err)
	assert.True(t, env.Success)
}

func TestSubmitBoundedByControlPlaneTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		json.NewEncoder(w).Encode(map[string]string{"uuid": uuid.NewString()})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, HTTPTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Submit(context.Background(), "cpg.method.l")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "submission must fail fast")
}

func TestPing(t *testing.T) {
	t.Run("healthy engine", func(t *testing.T) {
		_, srv := newFakeEngine(true)
		defer srv.Close()
		c := NewClient(Config{BaseURL: srv.URL})
		assert.NoError(t, c.Ping(context.Background()))
	})

	t.Run("unreachable engine", func(t *testing.T) {
		c := NewClient(Config{BaseURL: "http://127.0.0.1:1", HTTPTimeout: 200 * time.Millisecond})
		err := c.Ping(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotReady)
	})
}

func TestBasicAuthForwarded(t *testing.T) {
	f, srv := newFakeEngine(false)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Username: "joern", Password: "s3cret"})
	_, err := c.Submit(context.Background(), "cpg.method.l")
	require.NoError(t, err)
	assert.True(t, f.sawAuth.Load(), "basic auth header not sent")
}

func TestResultNotReady(t *testing.T) {
	f, srv := newFakeEngine(false)
	defer srv.Close()
	f.pollsLeft = 1 << 30

	c := NewClient(Config{BaseURL: srv.URL})
	id, err := c.Submit(context.Background(), "cpg.method.l")
	require.NoError(t, err)

	_, err = c.Result(context.Background(), id)
	assert.ErrorIs(t, err, ErrNoResult)
}
