package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tillpoint/possync/internal/connectivity"
	"github.com/tillpoint/possync/internal/utils"
)

var startTime = time.Now()

// HealthHandler provides the local agent's health endpoint.
type HealthHandler struct {
	monitor *connectivity.Monitor
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(monitor *connectivity.Monitor) *HealthHandler {
	return &HealthHandler{monitor: monitor}
}

// GetHealth responds with agent and backend connectivity status.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	backendStatus := "connected"
	if h.monitor.Offline() {
		backendStatus = "disconnected"
	}

	utils.Success(c, 200, "Service is healthy", gin.H{
		"status":  "healthy",
		"version": "1.0.0",
		"uptime":  int(time.Since(startTime).Seconds()),
		"backend": gin.H{
			"status": backendStatus,
		},
	})
}
