package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/pool"
	"github.com/go-i2p/go-linkd/lib/session"
)

var log = logger.GetGoI2PLogger()

// Orchestrator is the part of the pool the API drives.
type Orchestrator interface {
	RequestLink(ctx context.Context, req pool.LinkRequest) (*pool.LinkResult, error)
	Delete(ctx context.Context, code string) error
	Status(ctx context.Context, code string) (session.Status, error)
	List(ctx context.Context) ([]session.Status, error)
}

// Config configures the HTTP listener.
type Config struct {
	Address string
	// Token is the bearer token; empty disables authentication.
	Token string
	// ShutdownTimeout bounds Stop. Default 5s.
	ShutdownTimeout time.Duration
}

// Option configures optional routes.
type Option func(*Server)

// WithReload enables POST /reload.
func WithReload(reload func(ctx context.Context) error) Option {
	return func(s *Server) { s.reload = reload }
}

// WithGatherer serves g on GET /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server serves the HTTP API. The event hub runs from NewServer until Stop.
type Server struct {
	cfg      Config
	orch     Orchestrator
	reload   func(ctx context.Context) error
	gatherer prometheus.Gatherer
	router   *httprouter.Router
	hub      *Hub

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewServer builds the router and starts the event hub.
func NewServer(cfg Config, orch Orchestrator, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, oops.Errorf("api: orchestrator cannot be nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		gatherer: prometheus.DefaultGatherer,
		router:   httprouter.New(),
		hub:      NewHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.POST("/link", s.authorize(s.handleLink, false))
	s.router.DELETE("/session/:code", s.authorize(s.handleDelete, false))
	s.router.GET("/session/:code/status", s.authorize(s.handleStatus, false))
	s.router.GET("/sessions", s.authorize(s.handleList, false))
	s.router.POST("/reload", s.authorize(s.handleReload, false))
	s.router.GET("/events", s.authorize(s.handleEvents, true))

	metricsHandler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	s.router.Handler(http.MethodGet, "/metrics", metricsHandler)
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub. Wire it to the event bus with Publish.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return oops.Wrapf(err, "api: listen on %s", s.cfg.Address)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "(Server).Start",
		"address": ln.Addr().String(),
	}).Info("starting API server")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(logger.Fields{
				"at":     "(Server).Start",
				"reason": err.Error(),
			}).Error("API server error")
		}
	}()
	return nil
}

// Addr is the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the listener down, closes every event stream and waits for
// background goroutines. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		log.WithFields(logger.Fields{"at": "(Server).Stop"}).Info("stopping API server")

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			if err := srv.Shutdown(ctx); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Server).Stop",
					"reason": err.Error(),
				}).Error("error during API server shutdown")
			}
			cancel()
		}

		// Hijacked websocket connections are not tracked by Shutdown.
		s.hub.Stop()
		s.wg.Wait()
		log.WithFields(logger.Fields{"at": "(Server).Stop"}).Info("API server stopped")
	})
}
