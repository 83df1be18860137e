// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/good-yellow-bee/carealert/internal/api/alerts"
	"github.com/good-yellow-bee/carealert/internal/api/health"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string

	// JWTSecret enables operator token verification. Empty disables auth,
	// which is only sensible behind an authenticating proxy.
	JWTSecret       []byte
	JWTIssuer       string
	HTTPTLSEnabled  bool
	HTTPTLSCertFile string
	HTTPTLSKeyFile  string

	// RateLimitPerIP is requests per minute per client address.
	RateLimitPerIP int
	RateLimitBurst int

	Verbose bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 120
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 30
	}
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Triage alerts.Triage
	Logger *slog.Logger

	// History is optional; nil disables the notification history routes.
	History storage.NotificationRepository

	// Stream serves the live notification WebSocket. Optional.
	Stream http.Handler
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, goerr.New("config is required")
	}
	if deps.Triage == nil {
		return nil, goerr.New("triage engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		healthHandler: health.NewHandler(),
	}

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the WebSocket stream is not cut off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.deps.Logger.Info("HTTP API listening", "address", s.config.Address, "tls", s.config.HTTPTLSEnabled)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- goerr.Wrap(err, "http api server", goerr.V("address", s.config.Address))
		}
	}()

	select {
	case <-ctx.Done():
		s.deps.Logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
