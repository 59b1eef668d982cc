package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/ticket-gateway/internal/metrics"
)

// RegisterMetricRoutes registers the scrape endpoint.
//
// GET /metrics
// - Public, like /health and /ready
// - Prometheus text exposition of the gateway registry
func RegisterMetricRoutes(r gin.IRoutes, m *metrics.Metrics) {
	if m == nil {
		return
	}
	r.GET("/metrics", gin.WrapH(m.Handler()))
}
