// Package http implements the JSON ingress of the study progress service:
// the session-completed endpoint used by the session lifecycle, the progress
// card read by presentation clients, and health probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alem-hub/study-progress/internal/application/command"
	"github.com/alem-hub/study-progress/internal/application/query"
	"github.com/alem-hub/study-progress/internal/interface/http/handlers"
	"github.com/alem-hub/study-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config tunes the listener and the /api routes.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes bounds request bodies on /api; 0 disables the limit.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string

	// APIKeys protect /api; an empty list leaves it open.
	APIKeyHeader string
	APIKeys      []string
}

// DefaultConfig listens on :8080 with a 64 KiB body limit and no auth.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   64 << 10,
		AllowedOrigins: []string{"*"},
		APIKeyHeader:   "X-API-Key",
	}
}

// Address is host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// SessionCompleter applies completed sessions.
type SessionCompleter interface {
	Handle(ctx context.Context, cmd command.CompleteSessionCommand) (*command.CompleteSessionResult, error)
}

// ProgressReader builds progress cards.
type ProgressReader interface {
	Handle(ctx context.Context, q query.GetProgressQuery) (*query.ProgressDTO, error)
}

// Dependencies are the use cases behind the routes. A nil use case answers
// 501 on its route.
type Dependencies struct {
	CompleteSession SessionCompleter
	GetProgress     ProgressReader
	HealthChecker   handlers.HealthChecker
	Logger          *logger.Logger

	// Version is reported by the root endpoint.
	Version string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server owns the route table and the listener lifecycle.
type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	handler http.Handler

	mu        sync.Mutex
	listener  net.Listener
	startedAt time.Time
	ready     chan struct{}
}

// NewServer builds the handler tree. Nothing listens until Run.
func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: log.With(logger.Component("http")),
		ready:  make(chan struct{}),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// routes builds the mux. Probes stay outside the /api middleware so they work
// without an API key.
func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/sessions/completed", s.handleCompleteSession)
	api.HandleFunc("GET /api/v1/users/{id}/progress", s.handleGetProgress)

	apiHandler := handlers.ChainHandler(api,
		handlers.NoCacheMiddleware,
		handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes),
	)
	if len(s.config.APIKeys) > 0 {
		apiHandler = handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys).Middleware(apiHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("/api/", apiHandler)

	// outermost first
	chain := []handlers.MiddlewareFunc{
		s.requestIDMiddleware,
		s.recoveryMiddleware,
		s.accessLogMiddleware,
		handlers.SecurityHeadersMiddleware,
	}
	if s.config.EnableCORS {
		chain = append([]handlers.MiddlewareFunc{s.corsMiddleware}, chain...)
	}
	return handlers.ChainHandler(mux, chain...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run listens and serves until ctx is done, then stops accepting connections
// and waits up to grace for in-flight requests. A listen failure is returned
// immediately.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address(), err)
	}

	srv := &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	s.listener = ln
	s.startedAt = time.Now()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("http server listening", logger.String("address", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server draining", logger.Duration("grace", grace))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Ready is closed once Run has bound its listener.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ListenAddr returns the bound address, nil before Run.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Uptime is the time since Run bound its listener.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
