// Package http exposes the similarity engine over a gin HTTP API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/internal/interfaces/http/handlers"
	"github.com/turtacn/subsim/internal/interfaces/http/middleware"
	"github.com/turtacn/subsim/pkg/errors"
)

// RouterConfig holds everything NewRouter wires together.  Nil handlers
// leave their routes unregistered.
type RouterConfig struct {
	// Handlers
	RunHandler    *handlers.RunHandler
	HealthHandler *handlers.HealthHandler

	// Middleware
	Logging   middleware.LoggingConfig
	RateLimit middleware.RateLimitConfig

	// Infrastructure
	Logger           logging.Logger
	Metrics          *prometheus.EngineMetrics
	MetricsCollector prometheus.MetricsCollector

	// Mode is the gin mode: "debug", "release" or "test".
	Mode string
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	log := cfg.Logger.Named("http")

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogging(log, cfg.Metrics, cfg.Logging))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Code: errors.ErrCodeNotFound.String(), Message: "route not found"})
	})

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsCollector != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	api := r.Group("/api/v1")
	if cfg.RunHandler != nil {
		cfg.RunHandler.RegisterRoutes(api, middleware.RateLimit(cfg.RateLimit))
	}
	return r
}
