package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/arkui-x/request-task/internal/app"
	"github.com/arkui-x/request-task/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	manager *app.TaskManager
	logger  *zap.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(manager *app.TaskManager, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		manager: manager,
		logger:  logger,
	}
}

// TouchRequest carries the token of a guarded task
type TouchRequest struct {
	Token string `json:"token" binding:"required"`
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tid := h.manager.Create(c.Request.Context(), string(body))
	if tid < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task config"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tid": tid})
}

// Start handles POST /api/v1/tasks/:id/start
func (h *TaskHandler) Start(c *gin.Context) {
	h.command(c, h.manager.Start)
}

// Pause handles POST /api/v1/tasks/:id/pause
func (h *TaskHandler) Pause(c *gin.Context) {
	h.command(c, h.manager.Pause)
}

// Resume handles POST /api/v1/tasks/:id/resume
func (h *TaskHandler) Resume(c *gin.Context) {
	h.command(c, h.manager.Resume)
}

// Stop handles POST /api/v1/tasks/:id/stop
func (h *TaskHandler) Stop(c *gin.Context) {
	h.command(c, h.manager.Stop)
}

// Remove handles DELETE /api/v1/tasks/:id
func (h *TaskHandler) Remove(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	status := h.manager.Remove(c.Request.Context(), tid)
	if status < 0 {
		c.JSON(http.StatusNotFound, gin.H{"status": status, "error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Show handles GET /api/v1/tasks/:id
func (h *TaskHandler) Show(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	info := h.manager.Show(c.Request.Context(), tid)
	if info == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(info))
}

// Touch handles POST /api/v1/tasks/:id/touch
func (h *TaskHandler) Touch(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	var req TouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := h.manager.Touch(c.Request.Context(), tid, req.Token)
	if info == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(info))
}

// Search handles POST /api/v1/search
func (h *TaskHandler) Search(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tids": h.manager.Search(c.Request.Context(), string(body))})
}

// MimeType handles GET /api/v1/tasks/:id/mimetype
func (h *TaskHandler) MimeType(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"mimeType": h.manager.GetMimeType(c.Request.Context(), tid)})
}

// DefaultStoragePath handles GET /api/v1/storage/default-path
func (h *TaskHandler) DefaultStoragePath(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"path": h.manager.GetDefaultStoragePath()})
}

// Report handles PUT /api/v1/tasks/:id
func (h *TaskHandler) Report(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := domain.DecodeTask(string(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.Tid != 0 && task.Tid != tid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task id does not match path"})
		return
	}
	task.Tid = tid

	info, err := domain.EncodeTask(task)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.manager.Report(c.Request.Context(), info) < 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "report refused"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tid": tid})
}

// Purge handles POST /api/v1/tasks/:id/purge
func (h *TaskHandler) Purge(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	err := h.manager.Purge(c.Request.Context(), tid)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "task purged"})
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTaskNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to purge task", zap.Int64("tid", tid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// command runs a task command that reports no result
func (h *TaskHandler) command(c *gin.Context, op func(ctx context.Context, taskID int64)) {
	tid, ok := taskID(c)
	if !ok {
		return
	}

	op(c.Request.Context(), tid)
	c.JSON(http.StatusAccepted, gin.H{"tid": tid})
}

// taskID parses the :id path parameter and answers 400 when it is invalid
func taskID(c *gin.Context) (int64, bool) {
	tid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || tid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return tid, true
}
