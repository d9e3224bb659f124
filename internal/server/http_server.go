// Package server constructs and starts the relaychat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relaychat/internal/session"
)

// Server wires the HTTP endpoints, the hub and the coordinator together.
type Server struct {
	cfg         Config
	coordinator *session.Coordinator
	hub         *Hub
	upgrader    websocket.Upgrader
	http        *http.Server
}

// New creates a Server for coordinator. The hub is not started until Run.
func New(cfg Config, coordinator *session.Coordinator) *Server {
	cfg = sanitizeConfig(cfg)
	policy := newOriginPolicy(cfg.AllowedOrigins)

	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		hub:         NewHub(coordinator),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
	s.http = CreateServer(cfg.Port, s.Routes())
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Run starts the hub and the HTTP listener and blocks until ctx is cancelled
// or the listener fails, then shuts both down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run()
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", s.http.Addr).Msg("server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown(s.cfg.ShutdownTimeout)
	})

	return g.Wait()
}

// Shutdown stops accepting connections, then closes the hub and every client.
func (s *Server) Shutdown(timeout time.Duration) error {
	log.Info().Msg("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		log.Error().Err(httpErr).Msg("HTTP server shutdown error")
	}

	if err := s.hub.Shutdown(timeout); err != nil {
		return errors.Wrap(err, "hub shutdown")
	}
	return errors.Wrap(httpErr, "http shutdown")
}
