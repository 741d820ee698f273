package prometheus

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

type Handler struct {
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
}

func New(gatherer prometheus.Gatherer, m *metrics.Metrics) *Handler {
	return &Handler{gatherer: gatherer, metrics: m}
}

// Middleware records request count and latency by route template.
func (h *Handler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		h.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		h.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func (h *Handler) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}
