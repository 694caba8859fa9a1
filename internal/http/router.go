package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/config"
	"github.com/trioll/trioll-developer-portal/internal/domain"
	"github.com/trioll/trioll-developer-portal/internal/http/handler"
	httpmiddleware "github.com/trioll/trioll-developer-portal/internal/http/middleware"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	"github.com/trioll/trioll-developer-portal/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, developers *handler.DeveloperHandler, hooks *handler.HookHandler, auth *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter, registry *prometheus.Registry, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(registry)))
	}

	r.POST("/hooks/pre-token-generation", httpmiddleware.RequireHookSecret(cfg.HookSecret), hooks.PreTokenGeneration)

	devs := r.Group("/developers", rateLimiter.Handler(), auth.RequireDeveloper)
	{
		devs.GET("/identity", developers.Identity)
		devs.GET("/profile", developers.Profile)
		devs.PUT("/profile", httpmiddleware.RequireUserType(domain.UserTypeDeveloper), developers.UpdateProfile)
	}

	return r
}
