package services

import (
	"context"
	"log/slog"
	"time"
)

// StatsProvider exposes component counters for the health report
type StatsProvider interface {
	Stats() map[string]interface{}
}

// HealthService aggregates component stats for the health endpoint
type HealthService struct {
	startedAt  time.Time
	version    string
	components map[string]StatsProvider
	logger     *slog.Logger
}

// NewHealthService creates a health service with dependency injection
func NewHealthService(version string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		startedAt:  time.Now(),
		version:    version,
		components: make(map[string]StatsProvider),
		logger:     logger.With(slog.String("component", "services.health")),
	}
}

// RegisterComponent adds a named component to the health report
func (s *HealthService) RegisterComponent(name string, provider StatsProvider) {
	s.components[name] = provider
}

// Report returns the health payload
func (s *HealthService) Report(ctx context.Context) map[string]interface{} {
	components := make(map[string]interface{}, len(s.components))
	for name, provider := range s.components {
		components[name] = provider.Stats()
	}

	return map[string]interface{}{
		"status":         "healthy",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"components":     components,
	}
}
