// Package api exposes the studio over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"scene-studio/internal/access"
	"scene-studio/internal/assets"
	"scene-studio/internal/config"
	"scene-studio/internal/queue"
	"scene-studio/internal/quota"
	"scene-studio/internal/ratelimit"
	"scene-studio/internal/store"
	"scene-studio/internal/studio"
	"scene-studio/internal/telemetry"
)

// ProductionQueue is the part of queue.RedisQueue the API uses.
type ProductionQueue interface {
	Enqueue(ctx context.Context, productionID string) error
	SubscribeProgress(ctx context.Context, productionID string) (<-chan queue.ProgressEvent, error)
	ReadyDepth(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context, count int64) ([]string, error)
}

// Limiter throttles submissions per caller.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Deps wires the server's collaborators. Limiter is optional.
type Deps struct {
	Config  config.Config
	Store   store.Store
	Gate    *access.Gate
	Ledger  quota.Ledger
	Queue   ProductionQueue
	Limiter Limiter
	Assets  assets.Backend
	Styles  config.StyleCatalog
	Log     *logrus.Logger
}

// Server wires HTTP handlers for the studio API.
type Server struct {
	Deps
}

// New constructs the API server.
func New(deps Deps) *Server {
	if deps.Styles == nil {
		deps.Styles = config.DefaultStyles()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Server{Deps: deps}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/validate", s.handleValidate)
		r.Post("/auth/register", s.handleRegister)
		r.Get("/auth/watch", s.handleWatchKey)
		r.Get("/settings", s.handleGetSettings)
		r.Get("/styles", s.handleStyles)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/productions", s.handleSubmit)
			r.Get("/productions/{id}", s.handleGetProduction)
			r.Get("/productions/{id}/ws", s.handleProductionStream)

			r.Get("/projects", s.handleListProjects)
			r.Get("/projects/{id}", s.handleGetProject)
			r.Delete("/projects/{id}", s.handleDeleteProject)
			r.Get("/projects/{id}/playback", s.handlePlayback)
			r.Get("/projects/{id}/export", s.handleExport)
			r.Get("/projects/{id}/assets/{position}/{kind}", s.handleAsset)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireUser, s.requireAdmin)
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleIssueKey)
			r.Post("/keys/{key}/ban", s.handleBanKey)
			r.Get("/users", s.handleListUsers)
			r.Post("/users/{uid}/promote", s.handlePromote)
			r.Put("/settings", s.handleSaveSettings)
			r.Get("/queue", s.handleQueueStatus)
		})
	})
	return r
}

type ctxKey int

const userKey ctxKey = iota

// requireUser reads the caller identity from X-User-ID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, uid)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Gate.IsAdmin(r.Context(), userID(r)) {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userKey).(string)
	return uid
}

func accessKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Access-Key"))
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errNotOwned):
		return http.StatusNotFound
	case errors.Is(err, access.ErrNotFound), errors.Is(err, quota.ErrNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrRevoked), errors.Is(err, quota.ErrBanned), errors.Is(err, access.ErrOwnerKey):
		return http.StatusForbidden
	case errors.Is(err, access.ErrExhausted), errors.Is(err, quota.ErrExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, studio.ErrMissingAPIKey):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Unmapped errors are logged and reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
