package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"badgeforge/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthChecker is anything that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function into a HealthChecker.
type HealthFunc func(ctx context.Context) error

// Health implements HealthChecker.
func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// BadgeHandler serves the read-only dashboard surface. The engine has no
// write endpoints: awards happen only through the event flow.
type BadgeHandler struct {
	service *services.BadgeService
	checks  map[string]HealthChecker
	logger  *zap.Logger
}

// NewBadgeHandler creates a new handler. checks are probed by /readyz.
func NewBadgeHandler(service *services.BadgeService, checks map[string]HealthChecker, logger *zap.Logger) *BadgeHandler {
	return &BadgeHandler{
		service: service,
		checks:  checks,
		logger:  logger,
	}
}

// Router builds the HTTP routes.
func (h *BadgeHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/badges", h.ListBadges)
		r.Get("/users/{userID}/badges", h.GetUserBadges)
	})
	return r
}

// Liveness reports that the process is up.
func (h *BadgeHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness probes every registered dependency check.
func (h *BadgeHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			results[name] = "ok"
		}
	}
	h.writeJSON(w, status, results)
}

// ListBadges returns the active badge catalog.
func (h *BadgeHandler) ListBadges(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": templates})
}

// GetUserBadges returns a user's earned badge summaries.
func (h *BadgeHandler) GetUserBadges(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	summaries, err := h.service.GetUserBadges(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": summaries})
}

func (h *BadgeHandler) writeError(w http.ResponseWriter, err error) {
	var se *services.ServiceError
	if errors.As(err, &se) {
		h.writeJSON(w, se.GetStatusCode(), map[string]string{"error": se.Message, "type": se.Type})
		return
	}
	h.logger.Error("Request failed", zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (h *BadgeHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
