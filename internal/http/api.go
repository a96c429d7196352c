package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"volume-drain/internal/domain"
)

// StatsSource is implemented by the poll loop.
type StatsSource interface {
	Stats() domain.Stats
}

// Handler exposes the drain loop state over HTTP. It only reads snapshots
// and never triggers store or filesystem work.
type Handler struct {
	stats StatsSource
}

func NewHandler(stats StatsSource) *Handler {
	return &Handler{stats: stats}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/stats", h.getStats)
	}
}

func (h *Handler) health(c *gin.Context) {
	stats := h.stats.Stats()
	status := http.StatusOK
	if stats.State != domain.LoopStateRunning {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok":    status == http.StatusOK,
		"state": stats.State,
	})
}

func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}
