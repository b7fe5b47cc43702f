package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeclash/codeclash-backend/internal/api/handlers"
	"github.com/codeclash/codeclash-backend/internal/api/middleware"
	"github.com/codeclash/codeclash-backend/internal/config"
	"github.com/codeclash/codeclash-backend/internal/websocket"
	jwtutil "github.com/codeclash/codeclash-backend/pkg/jwt"
	"github.com/codeclash/codeclash-backend/pkg/ratelimit"
)

// Dependencies are the wired components the HTTP layer serves.
type Dependencies struct {
	Grader       handlers.Grader
	Matches      handlers.MatchReader
	Hub          *websocket.Hub
	JWT          *jwtutil.JWTManager
	Limiter      ratelimit.Limiter
	HealthChecks map[string]handlers.Pinger
	HealthStats  map[string]handlers.StatsFunc
	Logger       *zap.Logger
}

// SetupRouter builds the gin engine with every route.
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	healthHandler := handlers.NewHealthHandler(deps.HealthChecks, deps.HealthStats)
	submissionHandler := handlers.NewSubmissionHandler(deps.Grader)
	matchHandler := handlers.NewMatchHandler(deps.Matches)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, cfg.CORSAllowedOrigins)

	auth := middleware.Auth(deps.JWT)
	limit := func(scope string) gin.HandlerFunc {
		return middleware.RateLimit(middleware.RateLimitConfig{
			Limiter: deps.Limiter,
			Limit:   cfg.RateLimitPerMinute,
			Window:  time.Minute,
			Scope:   scope,
			Logger:  deps.Logger,
		})
	}

	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(auth)
	{
		v1.GET("/ws", wsHandler.HandleWebSocket)

		submissions := v1.Group("/submissions")
		{
			submissions.POST("/submit", limit("submit"), submissionHandler.Submit)
			submissions.GET("/:id", submissionHandler.GetSubmission)
		}

		matches := v1.Group("/matches")
		{
			matches.GET("/:id", matchHandler.GetMatch)
			matches.POST("/:id/run", limit("run"), submissionHandler.Run)
		}
	}

	return router
}
