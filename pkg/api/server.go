// Package api exposes the platform's HTTP surface: uploads, task queries,
// downloads, edit sessions, versions, folders, permissions, health probes,
// the metrics endpoint and the websocket gateway mount.
//
// Handlers stay thin: they parse the request, call one service and translate
// the result through the shared envelope. Authorization lives in the
// services, not here.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/auth"
	"github.com/benfrankstein/untxt-sub002/pkg/download"
	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/lifecycle"
	"github.com/benfrankstein/untxt-sub002/pkg/metrics"
	"github.com/benfrankstein/untxt-sub002/pkg/permission"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
	"github.com/benfrankstein/untxt-sub002/pkg/version"
)

// Config contains HTTP server configuration.
type Config struct {
	// Host is the listen address (default: 0.0.0.0).
	Host string

	// Port is the listen port (default: 8080).
	Port int

	// ReadTimeout bounds reading the full request (default: 60s).
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the full response (default: 60s).
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive idle connections (default: 120s).
	IdleTimeout time.Duration

	// RequestTimeout cancels handler contexts that run too long
	// (default: 30s). Streaming routes (/ws) are mounted outside it.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxUploadBytes caps the multipart request body (default: 50 MiB
	// plus form overhead).
	MaxUploadBytes int64
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 50 * 1024 * 1024
	}
}

// Deps carries the services the router wires handlers to.
//
// Gateway and Metrics are optional; their routes are only mounted when
// present. QueueCheck feeds the readiness probe.
type Deps struct {
	Auth        *auth.Service
	Store       store.Store
	Ingest      *ingest.Service
	Download    *download.Service
	Versions    *version.Engine
	Permissions *permission.Service
	Lifecycle   *lifecycle.Service
	Gateway     http.Handler
	Metrics     *metrics.Registry
	QueueCheck  func(ctx context.Context) error
}

// Server is the platform HTTP server.
//
// The server is created stopped; Start begins serving and blocks until the
// context is cancelled or the listener fails.
type Server struct {
	server       *http.Server
	deps         Deps
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(config Config, deps Deps) *Server {
	config.ApplyDefaults()

	s := &Server{deps: deps, config: config}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the configured router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves requests until the context is cancelled or the listener
// fails. Cancellation triggers graceful shutdown bounded by
// ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		// A fresh context: the cancelled one would abort the drain.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call more than once and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", "error", err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}
