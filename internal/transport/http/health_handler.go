package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"invoiceflow/internal/services"
)

// HealthHandler serves the aggregated health report
type HealthHandler struct {
	health *services.HealthService
	logger *slog.Logger
}

// NewHealthHandler creates a health handler
func NewHealthHandler(health *services.HealthService, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		health: health,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// ServeHTTP handles GET /api/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.health.Report(r.Context()))
}
