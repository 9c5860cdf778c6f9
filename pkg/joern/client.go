// Package joern talks to a Joern server: submitting CPGQL queries over
// its HTTP API, listening for completion events on its WebSocket, and
// optionally managing the engine process lifecycle.
//
// The Joern HTTP API is small:
//
//	POST /query        {"query": "..."}  -> {"uuid": "..."}
//	GET  /result/{id}                    -> {"success": bool, "stdout": "...", "stderr": "..."}
//	POST /query-sync   {"query": "..."}  -> same envelope, blocking
//	WS   /connect                        -> completion event per finished query
//
// Results come back as Scala REPL output; ParseResponse recovers the
// JSON payload from the envelope's stdout.
package joern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// pollInterval is how often Execute polls /result when the server
	// has no /query-sync endpoint and no usable event socket.
	pollInterval = 250 * time.Millisecond

	// probeQuery is the liveness check; any healthy REPL answers it.
	probeQuery = "1 + 1"
)

// Errors returned by the client.
var (
	ErrNotReady  = errors.New("joern server not ready")
	ErrNoResult  = errors.New("result not available")
	ErrBadStatus = errors.New("unexpected http status")
)

// EngineError is a query the engine accepted but failed to evaluate.
type EngineError struct {
	Stderr string
}

func (e *EngineError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return "engine error: " + msg
}

// Envelope is the engine's query result wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Config holds connection settings for a Joern server.
type Config struct {
	BaseURL  string // e.g. http://localhost:8080
	Username string // optional basic auth
	Password string
	// HTTPTimeout bounds control-plane calls: query submission and
	// result polls. Query evaluation itself (the blocking /query-sync
	// call and the overall submit-and-poll loop) is bounded only by
	// the caller's context, since queries legitimately run far longer
	// than any single round trip.
	HTTPTimeout time.Duration
}

// Client is a Joern HTTP API client. Safe for concurrent use.
type Client struct {
	baseURL     string
	username    string
	password    string
	httpc       *http.Client
	callTimeout time.Duration

	// syncUnsupported is flipped the first time /query-sync 404s so
	// later calls skip straight to submit-and-poll.
	syncUnsupported atomic.Bool
}

// NewClient builds a client for the given server.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		httpc:       &http.Client{},
		callTimeout: cfg.HTTPTimeout,
	}
}

// shortCtx bounds a control-plane call with the configured timeout.
func (c *Client) shortCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// Submit posts a query for asynchronous evaluation and returns its UUID.
func (c *Client) Submit(ctx context.Context, query string) (uuid.UUID, error) {
	ctx, cancel := c.shortCtx(ctx)
	defer cancel()
	body, err := c.post(ctx, "/query", map[string]string{"query": query})
	if err != nil {
		return uuid.Nil, err
	}
	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("decode submit response: %w", err)
	}
	id, err := uuid.Parse(resp.UUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad query uuid %q: %w", resp.UUID, err)
	}
	return id, nil
}

// Result fetches the envelope for a submitted query. ErrNoResult means
// the query has not finished yet.
func (c *Client) Result(ctx context.Context, id uuid.UUID) (*Envelope, error) {
	ctx, cancel := c.shortCtx(ctx)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, "/result/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoResult
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s from /result", ErrBadStatus, resp.Status)
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	// Some server builds omit "success" and signal failure through
	// stderr alone.
	if !env.Success && env.Stdout == "" && env.Stderr == "" {
		return nil, ErrNoResult
	}
	return &env, nil
}

// RunSync evaluates a query on the blocking endpoint. A 404 means the
// server build has no /query-sync; callers should fall back to Submit.
func (c *Client) RunSync(ctx context.Context, query string) (*Envelope, error) {
	body, err := c.post(ctx, "/query-sync", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode sync envelope: %w", err)
	}
	return &env, nil
}

// Execute runs a query to completion, preferring /query-sync and
// falling back to submit-then-poll. The ctx deadline is the query
// deadline. Failed evaluation surfaces as *EngineError.
func (c *Client) Execute(ctx context.Context, query string) (*Envelope, error) {
	if !c.syncUnsupported.Load() {
		env, err := c.RunSync(ctx, query)
		if err == nil {
			return checkEnvelope(env)
		}
		if !errors.Is(err, errSyncMissing) {
			return nil, err
		}
		c.syncUnsupported.Store(true)
	}

	id, err := c.Submit(ctx, query)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			env, err := c.Result(ctx, id)
			if errors.Is(err, ErrNoResult) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return checkEnvelope(env)
		}
	}
}

// Ping asks the REPL to evaluate the probe query and checks the answer.
func (c *Client) Ping(ctx context.Context) error {
	env, err := c.Execute(ctx, probeQuery)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if !strings.Contains(env.Stdout, "2") {
		return fmt.Errorf("%w: probe answered %q", ErrNotReady, strings.TrimSpace(env.Stdout))
	}
	return nil
}

// Events dials the server's /connect WebSocket and forwards completion
// messages until ctx ends or the socket drops. The returned channel is
// closed on exit. Callers treat this as an optimization only and keep
// polling as the fallback.
func (c *Client) Events(ctx context.Context) (<-chan string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/connect"

	header := http.Header{}
	if c.username != "" {
		header.Set("Authorization", basicAuth(c.username, c.password))
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	events := make(chan string, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case events <- string(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// errSyncMissing marks a 404 from /query-sync.
var errSyncMissing = errors.New("query-sync endpoint missing")

func checkEnvelope(env *Envelope) (*Envelope, error) {
	if !env.Success && env.Stderr != "" {
		return nil, &EngineError{Stderr: env.Stderr}
	}
	if env.Stdout == "" && env.Stderr != "" {
		return nil, &EngineError{Stderr: env.Stderr}
	}
	return env, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && path == "/query-sync" {
		io.Copy(io.Discard, resp.Body)
		return nil, errSyncMissing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s from %s", ErrBadStatus, resp.Status, path)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func basicAuth(user, pass string) string {
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}
