// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"newsdesk/internal/auth"
	"newsdesk/internal/database"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reloader lets admin mutations apply immediately instead of waiting for
// the next config poll.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Config struct {
	UseHTTPS bool
}

// Server exposes the dashboard read API and the admin API as JSON over HTTP
type Server struct {
	db       *database.DB
	logger   *log.Logger
	auth     *auth.Service
	reloader Reloader
	registry *prometheus.Registry
	config   Config
}

func NewServer(db *database.DB, logger *log.Logger, authService *auth.Service,
	reloader Reloader, registry *prometheus.Registry, config Config) *Server {
	return &Server{
		db:       db,
		logger:   logger,
		auth:     authService,
		reloader: reloader,
		registry: registry,
		config:   config,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/articles", s.handleListArticles)
	mux.HandleFunc("GET /api/articles/{id}", s.handleGetArticle)
	mux.HandleFunc("GET /api/summaries", s.handleListSummaries)
	mux.HandleFunc("GET /api/summaries/{id}", s.handleGetSummary)
	mux.HandleFunc("GET /api/feeds", s.handleListFeeds)
	mux.HandleFunc("GET /api/ingestion-logs", s.handleListIngestionLogs)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /rss", s.handleSummariesRSS)

	mux.HandleFunc("POST /api/setup", s.handleSetup)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.requireAuth(s.handleLogout))

	mux.HandleFunc("POST /api/admin/feeds", s.requireAuth(s.handleCreateFeed))
	mux.HandleFunc("PUT /api/admin/feeds/{id}", s.requireAuth(s.handleUpdateFeed))
	mux.HandleFunc("DELETE /api/admin/feeds/{id}", s.requireAuth(s.handleDeleteFeed))
	mux.HandleFunc("PUT /api/admin/settings", s.requireAuth(s.handleUpdateSettings))
	mux.HandleFunc("PUT /api/admin/profile", s.requireAuth(s.handleUpdateProfile))

	return gzipMiddleware(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth gates admin endpoints behind a valid session cookie
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if _, err := s.auth.ValidateSession(r.Context(), cookie.Value); err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// reload pushes config changes to the scheduler right away; failures are
// logged, not surfaced, because the periodic poll will catch up anyway.
func (s *Server) reload(ctx context.Context) {
	if s.reloader == nil {
		return
	}
	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Printf("Error applying config reload: %v", err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Error encoding response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes a request body, rejecting unknown fields
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
