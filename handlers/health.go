package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "order-processor",
	})
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type ReadinessHandler struct {
	db           Pinger
	sweeperPhase func() string
}

func NewReadinessHandler(db Pinger, sweeperPhase func() string) *ReadinessHandler {
	return &ReadinessHandler{db: db, sweeperPhase: sweeperPhase}
}

func (h *ReadinessHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"service": "order-processor"}
	if h.sweeperPhase != nil {
		body["sweeper"] = h.sweeperPhase()
	}

	if err := h.db.PingContext(ctx); err != nil {
		body["status"] = "unavailable"
		body["database"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = "ready"
	body["database"] = "ok"
	c.JSON(http.StatusOK, body)
}
