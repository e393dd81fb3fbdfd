// internal/server/admin_handlers.go
// First-run setup, login/logout and the mutating admin endpoints.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/auth"
	"newsdesk/internal/database"
)

const (
	sessionCookieName = "session"
	minPasswordLength = 10
	minProfileLength  = 40
)

type setupRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// handleSetup creates the first admin account. Once any account exists the
// endpoint refuses further use.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	has, err := s.auth.HasUsers(r.Context())
	if err != nil {
		s.logger.Printf("Error checking first run: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if has {
		s.respondError(w, http.StatusForbidden, "setup already completed")
		return
	}

	var req setupRequest
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		s.respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		s.respondError(w, http.StatusBadRequest, "password too short")
		return
	}
	if req.Password != req.ConfirmPassword {
		s.respondError(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	if err := s.auth.CreateUser(r.Context(), req.Username, req.Password); err != nil {
		s.logger.Printf("Error creating admin user: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Printf("Admin account %q created", req.Username)
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		s.logger.Printf("Error authenticating: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.UseHTTPS,
		SameSite: http.SameSiteStrictMode,
		Expires:  session.ExpiresAt,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := s.auth.InvalidateSession(r.Context(), cookie.Value); err != nil {
			s.logger.Printf("Error invalidating session: %v", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.UseHTTPS,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type feedRequest struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	IntervalSeconds int64  `json:"interval_seconds"`
	Enabled         *bool  `json:"enabled"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		s.respondError(w, http.StatusBadRequest, "feed url must be http or https")
		return
	}
	enabled := req.Enabled == nil || *req.Enabled

	id, err := s.db.AddFeed(r.Context(), req.URL, req.Title,
		time.Duration(req.IntervalSeconds)*time.Second, enabled, "")
	if errors.Is(err, database.ErrInvalidInput) {
		s.respondError(w, http.StatusBadRequest, "interval must be positive")
		return
	}
	if err != nil {
		s.logger.Printf("Error adding feed: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(r.Context())
	s.respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid feed id")
		return
	}
	var req feedRequest
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	enabled := req.Enabled == nil || *req.Enabled

	err = s.db.UpdateFeed(r.Context(), id, req.Title,
		time.Duration(req.IntervalSeconds)*time.Second, enabled)
	if errors.Is(err, database.ErrInvalidInput) {
		s.respondError(w, http.StatusBadRequest, "interval must be positive")
		return
	}
	if errors.Is(err, database.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		s.logger.Printf("Error updating feed %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDeleteFeed removes a feed. Its stored articles stay.
func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid feed id")
		return
	}
	err = s.db.DeleteFeed(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "feed not found")
		return
	}
	if err != nil {
		s.logger.Printf("Error deleting feed %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reload(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mutableSettings is the allow-list of keys operators may edit, with their
// stored types.
var mutableSettings = map[string]string{
	"tick_seconds":                "int",
	"config_poll_seconds":         "int",
	"enrichment_interval_seconds": "int",
	"enrichment_batch_size":       "int",
	"enrichment_retry_limit":      "int",
	"summary_interval_seconds":    "int",
	"summary_window_seconds":      "int",
	"summary_max_articles":        "int",
	"critic_retry_limit":          "int",
	"profile_min_length":          "int",
	"fetch_concurrency":           "int",
	"llm_base_url":                "string",
	"llm_model":                   "string",
	"llm_api_key":                 "string",
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for key, value := range req {
		valueType, ok := mutableSettings[key]
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown setting "+key)
			return
		}
		if valueType == "int" {
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				s.respondError(w, http.StatusBadRequest, "setting "+key+" must be a positive integer")
				return
			}
		}
	}
	for key, value := range req {
		if err := s.db.UpdateSetting(r.Context(), key, value, mutableSettings[key]); err != nil {
			s.logger.Printf("Error updating setting %s: %v", key, err)
			s.respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}
	s.reload(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type profileRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := readJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	minLength := minProfileLength
	if v, err := s.db.GetSettingInt(r.Context(), "profile_min_length"); err == nil && v > 0 {
		minLength = v
	}
	if len(strings.TrimSpace(req.Content)) < minLength {
		s.respondError(w, http.StatusBadRequest, "profile content too short")
		return
	}

	id, err := s.db.SaveProfile(r.Context(), req.Title, req.Content)
	if err != nil {
		s.logger.Printf("Error saving profile: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"id": id})
}
