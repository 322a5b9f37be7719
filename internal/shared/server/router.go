package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "optimizer-backend/internal/auth"
	"optimizer-backend/internal/chat"
	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/shared/metrics"
	"optimizer-backend/internal/shared/server/middleware"
	"optimizer-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config              config.Config
	DocumentHandler     *documents.Handler
	OptimizationHandler *optimizations.Handler
	ChatHandler         *chat.Handler
	GoogleAuth          *googleauth.GoogleService
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	registerMeRoutes(api)
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.ChatHandler != nil {
		deps.ChatHandler.RegisterRoutes(api)
	}
	if deps.OptimizationHandler != nil {
		limited := api.Group("")
		limited.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				"OPTIMIZE": {Rate: 0.5, Burst: 5},
			},
			DefaultGroup: "READ",
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodPost {
					return "OPTIMIZE"
				}
				return ""
			},
		}))
		deps.OptimizationHandler.RegisterRoutes(limited)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
