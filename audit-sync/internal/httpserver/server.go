package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/auth"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/config"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/logging"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/reconciler"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/service"
)

type Server struct {
	cfg        config.Config
	service    *service.Service
	reconciler *reconciler.Reconciler
	verifier   *auth.Verifier
	logger     *logrus.Logger
}

func New(cfg config.Config, svc *service.Service, rec *reconciler.Reconciler, verifier *auth.Verifier, logger *logrus.Logger) *Server {
	return &Server{cfg: cfg, service: svc, reconciler: rec, verifier: verifier, logger: logger}
}

func (s *Server) Router() http.Handler {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Use(auth.RequireAnyRole(models.RoleFieldAuditor, models.RoleAdmin))

		r.Post("/sync", s.handleSync)
		r.Get("/sync/batches/{id}", s.handleGetBatch)

		r.Route("/audits/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAudit)
			r.Post("/start", s.handleStart)
			r.Post("/submit", s.handleSubmit)
			r.Post("/review", s.handleReview)
			r.Post("/request-changes", s.handleRequestChanges)
			r.Put("/signature", s.handleSaveSignature)
			r.Delete("/signature", s.handleDeleteSignature)
		})

		r.Patch("/responses/{id}", s.handleUpdateResponse)
		r.Delete("/responses/{id}", s.handleDeleteResponse)
		r.Post("/responses/{id}/attachments", s.handleUploadAttachment)

		r.Patch("/attachments/{id}", s.handleUpdateAttachment)
		r.Delete("/attachments/{id}", s.handleDeleteAttachment)

		r.With(auth.RequireAnyRole(models.RoleAdmin)).Get("/audit-log", s.handleAuditLog)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.service.Store().Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request")
	})
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := auth.FromContext(r.Context())
	return actor
}

// pathID reads a numeric route parameter. Malformed ids cannot match any row,
// so they are reported as missing.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id %q: %w", raw, apperr.ErrNotFound)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "payload"
			}
			return apperr.Malformed(field, "has the wrong type")
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalidJSON, err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	problem := apperr.Describe(err)
	if problem.Status >= http.StatusInternalServerError {
		logging.LogError(s.logger, "httpserver", "respondError", r.Method+" "+r.URL.Path,
			map[string]interface{}{"request_id": middleware.GetReqID(r.Context())}, err)
	}
	respondJSON(w, problem.Status, problem.Body())
}
