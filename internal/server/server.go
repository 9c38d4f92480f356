// Package server runs the warewatch HTTP surface: a TCP listener for
// robots and dashboards, plus an optional unix socket for same-host
// tooling.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
)

type Config struct {
	Addr       string
	SocketPath string
	Handler    http.Handler
}

type Server struct {
	cfg    Config
	http   *http.Server
	unix   *http.Server
	unixLn net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	h := cfg.Handler
	if h == nil {
		h = http.NewServeMux()
	}
	s := &Server{
		cfg:  cfg,
		http: &http.Server{Addr: cfg.Addr, Handler: h},
	}

	if cfg.SocketPath != "" {
		ln, err := listenUnix(cfg.SocketPath)
		if err != nil {
			return nil, err
		}
		s.unixLn = ln
		s.unix = &http.Server{Handler: h}
	}

	return s, nil
}

// listenUnix binds the socket, clearing out whatever a previous run
// left behind, and keeps it group-accessible only.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unix listen: %w", err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Start serves on both listeners. It blocks on the TCP listener the way
// http.ListenAndServe does.
func (s *Server) Start() error {
	if s.unixLn != nil {
		go s.unix.Serve(s.unixLn)
	}
	return s.http.ListenAndServe()
}

// Shutdown drains both listeners and removes the socket file. The first
// error wins; the rest of the teardown still runs.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.unix != nil {
		if err := s.unix.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}

	if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// SocketPath returns the configured socket path, or empty if not configured.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
