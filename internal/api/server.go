// Package api provides the HTTP REST API and WebSocket stream for the
// RIoT backend.
//
// The server follows the same lifecycle pattern as the other
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/logging"
	"github.com/riotcore/riot/internal/mailer"
	"github.com/riotcore/riot/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.API
	Security    config.Security
	Logger      *logging.Logger
	Users       auth.UserRepository
	Resolver    *auth.Resolver
	Devices     device.Repository
	Records     device.RecordRepository
	Tags        device.TagRepository
	RateLimiter *auth.RateLimiter
	Codes       *auth.CodeStore
	Mailer      mailer.Mailer
	Collector   *metrics.Collector // optional
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.API
	logger      *logging.Logger
	users       auth.UserRepository
	resolver    *auth.Resolver
	devices     device.Repository
	records     device.RecordRepository
	tags        device.TagRepository
	rateLimiter *auth.RateLimiter
	codes       *auth.CodeStore
	mailer      mailer.Mailer
	collector   *metrics.Collector
	secret      []byte
	tokenMaxAge time.Duration
	version     string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Users == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("user repository and resolver are required")
	}
	if deps.Devices == nil || deps.Records == nil || deps.Tags == nil {
		return nil, fmt.Errorf("device repositories are required")
	}
	if deps.RateLimiter == nil || deps.Codes == nil {
		return nil, fmt.Errorf("ephemeral credential stores are required")
	}
	if deps.Mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger.With("component", "api"),
		users:       deps.Users,
		resolver:    deps.Resolver,
		devices:     deps.Devices,
		records:     deps.Records,
		tags:        deps.Tags,
		rateLimiter: deps.RateLimiter,
		codes:       deps.Codes,
		mailer:      deps.Mailer,
		collector:   deps.Collector,
		secret:      []byte(deps.Security.JWT.Secret),
		tokenMaxAge: deps.Security.TokenMaxAge(),
		version:     deps.Version,
		hub:         NewHub(deps.Logger),
	}, nil
}

// Hub exposes the stream hub so the ingestion daemon can notify it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background
// goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
