// Package gateway implements Fechatter's edge reverse proxy: a declarative
// route table over one or more upstream pools, with per-upstream health
// checking, a circuit breaker, request retries, CORS, tiered rate limiting,
// and a transparent auth short-circuit that refreshes an expired access
// token before forwarding.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/cache"
	"github.com/fechatter/fechatter/internal/config"
)

// Server is the edge gateway's composition root: a chi router in front of a
// route table, handing requests off to httputil.ReverseProxy per upstream.
type Server struct {
	router *chi.Mux
	table  *routeTable
	cache  *cache.Client
	auth   *auth.Service
	cfg    config.GatewayConfig
	logger *slog.Logger
	server *http.Server
}

// New builds a Server from the gateway section of config and starts each
// upstream's background health checker. authSvc is shared with the chat
// service's binary so the gateway's token refresh stays consistent with
// internal/auth's rotation semantics.
func New(cfg config.GatewayConfig, authSvc *auth.Service, cacheClient *cache.Client, logger *slog.Logger) (*Server, error) {
	table, err := buildRouteTable(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: building route table: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		table:  table,
		cache:  cacheClient,
		auth:   authSvc,
		cfg:    cfg,
		logger: logger,
	}
	s.registerMiddleware()
	s.router.Handle("/*", http.HandlerFunc(s.proxyHandler))
	return s, nil
}

func (s *Server) registerMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(s.accessLogMiddleware())
	s.router.Use(chimw.Recoverer)
	s.router.Use(s.corsMiddleware())
	timeout := chimw.Timeout(60 * time.Second)
	s.router.Use(func(next http.Handler) http.Handler {
		timed := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSSE(r) {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	})
	s.router.Use(s.rateLimitMiddleware())
}

// Start begins serving and starts every upstream's health checker. It
// blocks until the server stops or returns an error.
func (s *Server) Start(ctx context.Context) error {
	for _, up := range s.table.upstreams {
		up.startHealthChecks(ctx, s.logger)
	}
	s.server = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.router,
	}
	s.logger.Info("gateway: listening", "addr", s.cfg.Listen)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests and stops health checkers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, up := range s.table.upstreams {
		up.stopHealthChecks()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) accessLogMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Info("gateway: request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware mirrors the chat service's own CORS handling, sourced from
// the gateway's own config so the edge can be deployed with a different
// allowed-origin list than the origin services behind it.
func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if corsAllowed(s.cfg.CORSOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
