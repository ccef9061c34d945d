// Package http exposes the JSON API: auth, expenses, dashboard, reports,
// settings and the PDF statement export.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cashcompass/internal/cache"
	"cashcompass/internal/core"
	"cashcompass/internal/services"
	"cashcompass/internal/settings"
	"cashcompass/internal/storage"
)

// sessionTTL is how long a login token stays valid.
const sessionTTL = 30 * 24 * time.Hour

type Server struct {
	http.Server

	users    *services.UserService
	expenses *services.ExpenseService
	settings *settings.Store
	storage  *storage.SQLiteRepository

	// reportsCache keeps per-user category breakdowns off the hot path.
	// Entries are invalidated on any write by the owning user.
	reportsCache *cache.TTLCache[[]core.CategoryAmount]

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(
	addr string,
	users *services.UserService,
	expenses *services.ExpenseService,
	settingsStore *settings.Store,
	repo *storage.SQLiteRepository,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		users:        users,
		expenses:     expenses,
		settings:     settingsStore,
		storage:      repo,
		reportsCache: cache.New[[]core.CategoryAmount](200, 5*time.Minute),
	}
	s.reportsCache.StartJanitor(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/register", s.withLogging(s.handleRegister))
	mux.HandleFunc("POST /api/login", s.withLogging(s.handleLogin))
	mux.HandleFunc("POST /api/logout", s.withLogging(s.requireAuth(s.handleLogout)))
	mux.HandleFunc("POST /api/password", s.withLogging(s.requireAuth(s.handleChangePassword)))
	mux.HandleFunc("POST /api/password/forgot", s.withLogging(s.handleForgotPassword))

	mux.HandleFunc("POST /api/expenses", s.withLogging(s.requireAuth(s.handleCreateExpense)))
	mux.HandleFunc("GET /api/expenses", s.withLogging(s.requireAuth(s.handleListExpenses)))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withLogging(s.requireAuth(s.handleDeleteExpense)))

	mux.HandleFunc("GET /api/dashboard", s.withLogging(s.requireAuth(s.handleDashboard)))
	mux.HandleFunc("GET /api/reports/categories", s.withLogging(s.requireAuth(s.handleCategoryReport)))
	mux.HandleFunc("GET /api/achievements", s.withLogging(s.requireAuth(s.handleAchievements)))

	mux.HandleFunc("GET /api/settings", s.withLogging(s.requireAuth(s.handleGetSettings)))
	mux.HandleFunc("PUT /api/settings", s.withLogging(s.requireAuth(s.handleUpdateSettings)))

	mux.HandleFunc("GET /api/statement", s.withLogging(s.requireAuth(s.handleStatement)))

	return s
}

// Shutdown stops the HTTP server and the cache janitor.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.reportsCache.StopJanitor()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withLogging tags each request with an id and logs start and completion.
func (s *Server) withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path)

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// authedHandler receives the authenticated username alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

// requireAuth resolves the bearer token to a live session.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		username, err := s.storage.GetSessionUser(r.Context(), token, time.Now())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next(w, r, username)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReady checks the database connection.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.DB().PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
