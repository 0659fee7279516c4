package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tilewire/internal/telemetry"
)

// NewRouter builds the admin API. Tracing adds a span per request.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer, tracing bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if tracing {
		r.Use(telemetry.GinMiddleware())
	}
	r.Use(h.RequestLoggingMiddleware())

	r.GET("/healthz", h.HandleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/stats", h.HandleStats)
		v1.GET("/drawables", h.HandleDrawables)
		v1.POST("/drawables", h.HandleAddDrawable)
		v1.DELETE("/tiles", h.HandleClearTiles)
	}

	return r
}
