// Package embedded provides an in-process warewatch server, mainly for
// host applications and integration tests that want a real API without
// a separate process.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/warewatch/internal/auth"
	httpapi "github.com/mistakeknot/warewatch/internal/http"
	"github.com/mistakeknot/warewatch/internal/storage/sqlite"
	"github.com/mistakeknot/warewatch/internal/ws"
)

const (
	defaultPort = 8000

	sweepInterval = time.Minute
	offlineGrace  = 2 * time.Minute
	scanRetention = 7 * 24 * time.Hour
)

// Config configures the embedded server.
type Config struct {
	// DBPath is the SQLite database file. Defaults to
	// ~/.warewatch/data.db.
	DBPath string

	// Port defaults to 8000.
	Port int

	// Host defaults to 127.0.0.1.
	Host string

	// Auth enables bearer-key authentication from the keys file.
	// Without it every request is accepted, which is what in-process
	// consumers usually want.
	Auth bool
}

// Server is an embedded warewatch server.
type Server struct {
	cfg     Config
	store   *sqlite.Store
	hub     *ws.Hub
	sweeper *sqlite.Sweeper
	http    *http.Server
	started bool
	mu      sync.Mutex
}

func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".warewatch", "data.db")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	var middleware func(http.Handler) http.Handler
	if cfg.Auth {
		keyring, err := auth.LoadKeyringFromEnv()
		if err != nil {
			return nil, fmt.Errorf("load auth: %w", err)
		}
		middleware = auth.Middleware(keyring)
	}

	hub := ws.NewHub(store)
	svc := httpapi.NewService(store).WithBroadcaster(hub)
	router := httpapi.NewRouter(svc, hub.Handler(), middleware)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		cfg:     cfg,
		store:   store,
		hub:     hub,
		sweeper: sqlite.NewSweeper(store, hub, sweepInterval, offlineGrace, scanRetention),
		http:    &http.Server{Addr: addr, Handler: router},
	}, nil
}

// Start serves in a goroutine and returns once the listener is likely
// up. Idempotent.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.sweeper.Start(context.Background())

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "warewatch server error: %v\n", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// URL returns the base URL for API clients.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.http.Addr)
}

// Store exposes the underlying store for direct seeding.
func (s *Server) Store() *sqlite.Store {
	return s.store
}
