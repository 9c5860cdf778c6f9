package joern

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Server lifecycle defaults.
const (
	DefaultStartTimeout = 60 * time.Second
	stopGrace           = 5 * time.Second
	probeInterval       = time.Second
)

// ServerConfig describes how to launch or find the engine process.
type ServerConfig struct {
	Binary       string // joern executable, default "joern"
	Host         string
	Port         int
	Username     string // optional --server-auth credentials
	Password     string
	WorkspaceDir string        // working directory for the process
	StartTimeout time.Duration // how long to wait for readiness
}

// Server manages one Joern engine process. When the deployment points
// at an already-running engine, ConnectExisting is used instead of
// Start and Stop becomes a no-op.
type Server struct {
	cfg    ServerConfig
	client *Client
	cmd    *exec.Cmd
	logger *log.Logger
}

// NewServer creates a lifecycle manager that readiness-checks through
// client.
func NewServer(cfg ServerConfig, client *Client, logger *log.Logger) *Server {
	if cfg.Binary == "" {
		cfg.Binary = "joern"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[joern] ", log.LstdFlags)
	}
	return &Server{cfg: cfg, client: client, logger: logger}
}

// ConnectExisting verifies a live engine is answering and adopts it
// without spawning anything.
func (s *Server) ConnectExisting(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("connect to existing server: %w", err)
	}
	s.logger.Printf("connected to running engine at %s:%d", s.cfg.Host, s.cfg.Port)
	return nil
}

// Start spawns the engine in server mode and blocks until it answers
// the readiness probe or the start timeout elapses. If a live engine is
// already listening, Start adopts it instead of spawning a second one.
func (s *Server) Start(ctx context.Context) error {
	probe, cancel := context.WithTimeout(ctx, probeInterval)
	err := s.client.Ping(probe)
	cancel()
	if err == nil {
		s.logger.Printf("engine already running at %s:%d, adopting it", s.cfg.Host, s.cfg.Port)
		return nil
	}

	args := []string{
		"--server",
		"--server-host", s.cfg.Host,
		"--server-port", fmt.Sprintf("%d", s.cfg.Port),
	}
	if s.cfg.Username != "" {
		args = append(args,
			"--server-auth-username", s.cfg.Username,
			"--server-auth-password", s.cfg.Password,
		)
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	if s.cfg.WorkspaceDir != "" {
		cmd.Dir = s.cfg.WorkspaceDir
	}
	cmd.Stdout = os.Stderr // keep our stdout clean for the MCP transport
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}
	s.cmd = cmd
	s.logger.Printf("spawned engine pid %d, waiting for readiness", cmd.Process.Pid)

	deadline := time.Now().Add(s.cfg.StartTimeout)
	for {
		if time.Now().After(deadline) {
			s.Stop()
			return fmt.Errorf("%w: no answer within %v", ErrNotReady, s.cfg.StartTimeout)
		}
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-time.After(probeInterval):
		}

		probe, cancel := context.WithTimeout(ctx, probeInterval)
		err := s.client.Ping(probe)
		cancel()
		if err == nil {
			s.logger.Printf("engine ready")
			return nil
		}
		if exited(cmd) {
			return errors.New("engine process exited during startup")
		}
	}
}

// Stop terminates a spawned engine: SIGTERM first, SIGKILL after the
// grace period. Adopted engines are left running.
func (s *Server) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid
	s.logger.Printf("stopping engine pid %d", pid)

	_ = s.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Printf("engine pid %d ignored SIGTERM, killing", pid)
		_ = s.cmd.Process.Kill()
		<-done
	}
	s.cmd = nil
}

// Managed reports whether this Server spawned the engine itself.
func (s *Server) Managed() bool {
	return s.cmd != nil
}

func exited(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	// Signal 0 probes liveness without delivering anything.
	return cmd.Process.Signal(syscall.Signal(0)) != nil
}
