package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps http.Server with graceful shutdown support.
type Server struct {
	httpServer   *http.Server
	drainTimeout time.Duration
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Addr              string // listen address, e.g., ":5000"
	Handler           http.Handler
	ReadHeaderTimeout time.Duration
	DrainTimeout      time.Duration // max time to wait for in-flight requests
	Logger            *slog.Logger  // the server's own log stream
}

// New creates a server with graceful shutdown support. The server's
// internal errors (bad handshakes, re-raised panics) go to Logger.
func New(cfg Config) *Server {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelError),
		},
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
	}
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until shutdown completes.
//
// Shutdown sequence:
//  1. Wait for ctx to be cancelled (e.g. SIGTERM or SIGINT)
//  2. Stop accepting new connections
//  3. Wait for in-flight requests to finish (up to drainTimeout)
//  4. Return
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err // server failed
	case <-ctx.Done():
		s.logger.Info("shutdown signal received", "cause", context.Cause(ctx).Error())
	}

	s.logger.Info("draining connections", "timeout", s.drainTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error, forcing close", "error", err)
		s.httpServer.Close()
	}
	<-errCh

	s.logger.Info("shutdown complete")
	return nil
}
