// Package api implements the Fechatter chat service's REST+SSE surface
// using the chi router. It registers every route under /api, wires
// middleware for correlation IDs, recovery, CORS, and structured logging,
// and delegates to the domain services for all actual work.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/config"
	"github.com/fechatter/fechatter/internal/database"
	"github.com/fechatter/fechatter/internal/media"
	"github.com/fechatter/fechatter/internal/middleware"
	"github.com/fechatter/fechatter/internal/notify"
	"github.com/fechatter/fechatter/internal/search"
)

// Server is the chat service's own HTTP+SSE listener — the upstream the
// edge gateway proxies to. It holds the chi router, every domain service,
// configuration, and logger.
type Server struct {
	Router  *chi.Mux
	DB      *database.DB
	Config  *config.Config
	Auth    *auth.Service
	Chat    *chat.Service
	Search  *search.Service
	Notify  *notify.Hub
	Media   *media.Service
	Version string
	Logger  *slog.Logger
	server  *http.Server
}

// New creates a fully wired Server with all routes and middleware registered.
func New(db *database.DB, cfg *config.Config, authSvc *auth.Service, chatSvc *chat.Service, searchSvc *search.Service, notifyHub *notify.Hub, mediaSvc *media.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		DB:      db,
		Config:  cfg,
		Auth:    authSvc,
		Chat:    chatSvc,
		Search:  searchSvc,
		Notify:  notifyHub,
		Media:   mediaSvc,
		Version: version,
		Logger:  logger,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// registerMiddleware adds global middleware to the router.
func (s *Server) registerMiddleware() {
	s.Router.Use(chimw.RealIP)
	s.Router.Use(middleware.CorrelationID)
	s.Router.Use(slogMiddleware(s.Logger))
	s.Router.Use(chimw.Recoverer)
	s.Router.Use(corsMiddleware(s.Config.Server.CORSOrigins))
	s.Router.Use(chimw.Timeout(s.Config.Server.RequestTimeout()))
	s.Router.Use(maxBodySize(s.maxUploadBytes()))
}

func (s *Server) maxUploadBytes() int64 {
	n, err := s.Config.Server.MaxUploadSizeBytes()
	if err != nil || n <= 0 {
		return 10 << 20
	}
	return n
}

// registerRoutes mounts every API route group on the router.
func (s *Server) registerRoutes() {
	s.Router.Get("/health", s.handleHealthCheck)
	s.Router.Get("/health/readiness", s.handleReadiness)
	s.Router.Get("/metrics", s.handleMetrics)

	s.Router.Route("/api", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/signin", s.handleSignin)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/events", s.handleSSE)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.Auth))

			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogoutAll)

			r.Route("/workspace/chats", func(r chi.Router) {
				r.Get("/", s.handleListChats)
				r.Post("/", s.handleCreateChat)
			})

			r.Route("/chat/{chatID}", func(r chi.Router) {
				r.Get("/", s.handleGetChat)
				r.Patch("/", s.handleUpdateChat)
				r.Delete("/", s.handleDeleteChat)

				r.Get("/members", s.handleListMembers)
				r.Post("/members", s.handleAddMembers)

				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/messages/{messageID}/read", s.handleMarkRead)
				r.Patch("/messages/{messageID}", s.handleEditMessage)
				r.Delete("/messages/{messageID}", s.handleDeleteMessage)

				r.Post("/typing/start", s.handleTypingStart)
				r.Post("/typing/stop", s.handleTypingStop)
			})

			r.Get("/search/messages", s.handleSearchMessages)

			r.Post("/upload", s.handleUpload)
			r.Post("/files/single", s.handleUpload)
			r.Get("/files/*", s.handleDownload)

			r.Get("/online-users", s.handleOnlineUsers)
		})
	})
}

// Start begins listening for HTTP requests on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Config.Server.Listen,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections must not be write-timed out
		IdleTimeout:  60 * time.Second,
	}

	s.Logger.Info("http server starting", slog.String("listen", s.Config.Server.Listen))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}

// handleHealthCheck reports basic liveness: the process is up and serving.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSONRaw(w, http.StatusOK, map[string]string{"status": "ok", "version": s.Version})
}

// slogMiddleware logs every HTTP request at Info level via slog.
func slogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			GlobalMetrics.HTTPRequestsTotal.Add(1)
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("request_id", middleware.GetCorrelationID(r.Context())),
			}
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request", attrs...)
		})
	}
}

// maxBodySize limits the request body to n bytes. Skips multipart requests,
// which the upload handler bounds itself against the media service's own
// configured limit.
func maxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			if r.Body != nil && !strings.HasPrefix(ct, "multipart/form-data") {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware sets CORS headers for the configured allowed origins.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := false
			for _, o := range origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, Last-Event-Id")
				if !(len(origins) == 1 && origins[0] == "*") {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
