package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// StatsFunc reports a backlog figure for /health. A failing stat is shown
// but does not mark the service degraded.
type StatsFunc func(ctx context.Context) (interface{}, error)

type HealthHandler struct {
	checks map[string]Pinger
	stats  map[string]StatsFunc
}

func NewHealthHandler(checks map[string]Pinger, stats map[string]StatsFunc) *HealthHandler {
	return &HealthHandler{checks: checks, stats: stats}
}

// HealthCheck godoc
// @Summary Health check
// @Description Report server liveness and the state of its dependencies
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Server is healthy"
// @Failure 503 {object} map[string]interface{} "A dependency is down"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	stats := make(gin.H, len(h.stats))
	for name, stat := range h.stats {
		value, err := stat(ctx)
		if err != nil {
			stats[name] = gin.H{"error": err.Error()}
			continue
		}
		stats[name] = value
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"service":      "codeclash-backend",
		"dependencies": deps,
		"stats":        stats,
	})
}
