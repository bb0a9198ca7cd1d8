// Package server builds the HTTP engine and runs it with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/config"
	"github.com/vodforge/vodforge/internal/middleware"
)

// RouteRegistrar is anything that mounts routes on the engine
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// Server wraps the gin engine and the http.Server running it.
type Server struct {
	cfg    config.ServerConfig
	router *gin.Engine
	http   *http.Server
	logger hclog.Logger
}

// New builds the engine with the standard middleware chain and lets each
// registrar mount its routes.
func New(cfg config.ServerConfig, logger hclog.Logger, registrars ...RouteRegistrar) (*Server, error) {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorLogger())
	if cfg.EnableCORS {
		router.Use(middleware.CORS())
	}

	if err := router.SetTrustedProxies(trustedProxies(cfg.TrustedProxies)); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	for _, r := range registrars {
		r.RegisterRoutes(router)
	}
	setupRoutes(router)

	s := &Server{
		cfg:    cfg,
		router: router,
		logger: logger.Named("http"),
	}
	s.http = &http.Server{
		Addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s, nil
}

// trustedProxies maps an empty list to nil, which gin reads as trust nobody
func trustedProxies(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return list
}

// Router returns the engine, for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves until ctx is cancelled, then drains connections for up to
// grace before returning.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server", "grace", grace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
