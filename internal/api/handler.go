package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"sales-sync/internal/analytics"
	"sales-sync/internal/scheduler"
	"sales-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SyncTrigger exposes the scheduler's manual controls.
type SyncTrigger interface {
	TriggerFull(ctx context.Context) bool
	TriggerLive(ctx context.Context) bool
	CurrentStatus() scheduler.Status
}

// Summarizer computes analytics reports.
type Summarizer interface {
	Summarize(ctx context.Context, start, end time.Time, marketplace string) (*analytics.Summary, error)
}

// Handler contains HTTP handlers
type Handler struct {
	syncer    SyncTrigger
	analytics Summarizer
}

// NewHandler creates a new HTTP handler
func NewHandler(syncer SyncTrigger, analyticsService Summarizer) *Handler {
	return &Handler{
		syncer:    syncer,
		analytics: analyticsService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/trigger/full", h.triggerFullSync)
		v1.POST("/sync/trigger/live", h.triggerLiveSync)
		v1.GET("/sync/status", h.syncStatus)
		v1.GET("/analytics/summary", h.analyticsSummary)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// triggerFullSync starts a full sync over the trailing window. A run already
// in flight is reported, never queued.
func (h *Handler) triggerFullSync(c *gin.Context) {
	if h.syncer.TriggerFull(c.Request.Context()) {
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "kind": "full"})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"status": "already_running", "kind": "full"})
}

// triggerLiveSync starts a live sync for the current day.
func (h *Handler) triggerLiveSync(c *gin.Context) {
	if h.syncer.TriggerLive(c.Request.Context()) {
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "kind": "live"})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"status": "already_running", "kind": "live"})
}

// syncStatus reports the scheduler snapshot
func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.syncer.CurrentStatus())
}

// analyticsSummary handles GET /analytics/summary?start_date&end_date&marketplace
func (h *Handler) analyticsSummary(c *gin.Context) {
	start, err := time.Parse("2006-01-02", c.Query("start_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid start_date, expected YYYY-MM-DD",
		})
		return
	}
	end, err := time.Parse("2006-01-02", c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid end_date, expected YYYY-MM-DD",
		})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "end_date is before start_date",
		})
		return
	}

	summary, err := h.analytics.Summarize(c.Request.Context(), start, end, c.Query("marketplace"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to compute summary",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
