package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arkui-x/request-task/pkg/logger"
	"github.com/gin-gonic/gin"
)

const maxLogLimit = 1000

// LogHandler handles log-related requests
type LogHandler struct {
	logsDir   string
	logReader *logger.LogReader
}

// NewLogHandler creates a new log handler
func NewLogHandler(logsDir string) *LogHandler {
	return &LogHandler{
		logsDir:   logsDir,
		logReader: logger.NewLogReader(logsDir),
	}
}

// GetCategories handles GET /api/v1/logs/categories
func (h *LogHandler) GetCategories(c *gin.Context) {
	categories := make([]string, 0, len(logger.Categories))
	for _, category := range logger.Categories {
		categories = append(categories, string(category))
	}

	c.JSON(http.StatusOK, gin.H{
		"categories": categories,
	})
}

// GetLogs handles GET /api/v1/logs/:category
func (h *LogHandler) GetLogs(c *gin.Context) {
	category, ok := h.category(c)
	if !ok {
		return
	}
	date, ok := queryDate(c)
	if !ok {
		return
	}

	entries, err := h.logReader.ReadEntries(category, date, queryLimit(c), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"category": category,
		"date":     date.Format("2006-01-02"),
		"count":    len(entries),
		"entries":  entries,
	})
}

// ExportLogs handles GET /api/v1/logs/:category/export
func (h *LogHandler) ExportLogs(c *gin.Context) {
	category, ok := h.category(c)
	if !ok {
		return
	}
	date, ok := queryDate(c)
	if !ok {
		return
	}

	day := date.Format("20060102")
	filename := string(category) + "-" + day + ".log"
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/octet-stream")

	c.File(logger.CategoryLogPath(h.logsDir, category, day))
}

// TaskHistory handles GET /api/v1/tasks/:id/history
func (h *LogHandler) TaskHistory(c *gin.Context) {
	tid, ok := taskID(c)
	if !ok {
		return
	}
	date, ok := queryDate(c)
	if !ok {
		return
	}

	entries, err := h.logReader.TaskHistory(tid, date, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read task history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tid":     tid,
		"date":    date.Format("2006-01-02"),
		"count":   len(entries),
		"entries": entries,
	})
}

func (h *LogHandler) category(c *gin.Context) (logger.LogCategory, bool) {
	category := logger.LogCategory(c.Param("category"))
	for _, known := range logger.Categories {
		if category == known {
			return category, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
	return "", false
}

func queryDate(c *gin.Context) (time.Time, bool) {
	dateStr := c.Query("date")
	if dateStr == "" {
		return time.Now(), true
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		limit = 100
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return limit
}
