package handlers

import (
	"net/http"

	"github.com/arkui-x/request-task/internal/app"
	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	scheduler *app.PollScheduler
	hub       *EventHub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(scheduler *app.PollScheduler, hub *EventHub) *HealthHandler {
	return &HealthHandler{
		scheduler: scheduler,
		hub:       hub,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Poller  struct {
		Running bool `json:"running"`
	} `json:"poller"`
	EventClients int `json:"event_clients"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	response.Poller.Running = h.scheduler.IsRunning()
	if h.hub != nil {
		response.EventClients = h.hub.Clients()
	}

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.scheduler.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "poll scheduler not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
