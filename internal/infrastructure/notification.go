package infrastructure

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// NotificationService shows a desktop notification when a download
// finishes. It is a domain.CallbackSink.
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// OnRequestCallback implements domain.CallbackSink
func (n *NotificationService) OnRequestCallback(taskID int64, event domain.EventType, info string) {
	var title string
	switch event {
	case domain.EventCompleted:
		title = "Download Completed"
	case domain.EventFailed:
		title = "Download Failed"
	default:
		return
	}

	name := fmt.Sprintf("task %d", taskID)
	if task, err := domain.DecodeTask(info); err == nil {
		switch {
		case task.Title != "":
			name = task.Title
		case task.Saveas != "":
			name = filepath.Base(task.Saveas)
		}
		if event == domain.EventFailed && task.Reason != "" {
			name += " (" + task.Reason + ")"
		}
	}

	n.Send(title, truncateString(name, 60))
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(message), appleScriptString(title))
		if n.config.Sound {
			script += ` sound name "default"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// truncateString truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
