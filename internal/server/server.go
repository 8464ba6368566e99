package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/broker"
	"github.com/Tyrowin/roomchat/internal/registry"
	"github.com/Tyrowin/roomchat/internal/session"
)

// Server is one relay process: its hub, router and HTTP surface over a
// shared backend.
type Server struct {
	cfg      Config
	log      *slog.Logger
	broker   broker.Broker
	sessions session.Store
	registry *registry.Registry
	verifier *auth.Verifier
	hub      *Hub
	router   *Router
	metrics  *Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
	handler  http.Handler
	http     *http.Server
}

// New builds a Server from cfg on backend. Call Start before serving.
func New(cfg Config, backend Backend, log *slog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	metrics := NewMetrics()
	reg := registry.New(backend.Broker, backend.Sessions, log)

	s := &Server{
		cfg:      cfg,
		log:      log,
		broker:   backend.Broker,
		sessions: backend.Sessions,
		registry: reg,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		hub:      NewHub(backend.Broker, metrics, log),
		router:   NewRouter(backend.Sessions, reg, backend.Broker, metrics, log),
		metrics:  metrics,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.handler = s.routes()
	s.http = CreateServer(cfg.Port, s.handler)
	return s
}

// Start subscribes the hub to the broadcast medium and starts its loop.
func (s *Server) Start() error {
	if err := s.hub.Listen(); err != nil {
		return err
	}
	go s.hub.Run()
	s.log.Info("hub.started")
	return nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Registry returns the room registry the server joins connections to.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Sessions returns the session store.
func (s *Server) Sessions() session.Store { return s.sessions }

// Verifier returns the token verifier.
func (s *Server) Verifier() *auth.Verifier { return s.verifier }

// ListenAndServe serves HTTP on the configured port until Shutdown.
func (s *Server) ListenAndServe() error {
	return StartServer(s.http, s.log)
}

// Shutdown stops accepting requests, then closes every client socket. The
// broker is left open; it belongs to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	return errors.Join(
		ShutdownServer(s.http, timeout, s.log),
		s.hub.Shutdown(timeout),
	)
}
