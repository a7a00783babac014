package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryTask  LogCategory = "task"  // task lifecycle events (JSON)
	CategoryError LogCategory = "error" // application errors (JSON)
)

// Categories lists every category with its own file
var Categories = []LogCategory{CategoryTask, CategoryError}

const dateLayout = "20060102"

// MultiLogger writes each category to its own dated JSON file and reopens
// the files when the day changes
type MultiLogger struct {
	config      MultiLoggerConfig
	level       zapcore.Level
	mu          sync.Mutex
	currentDate string
	loggers     map[LogCategory]*zap.Logger
	files       map[LogCategory]*os.File
	now         func() time.Time
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}

	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	ml := &MultiLogger{
		config:  config,
		level:   parseLevel(config.Level, zapcore.InfoLevel),
		loggers: make(map[LogCategory]*zap.Logger),
		files:   make(map[LogCategory]*os.File),
		now:     time.Now,
	}

	if err := ml.open(ml.now().Format(dateLayout)); err != nil {
		return nil, err
	}
	return ml, nil
}

// open (re)creates the category loggers for date. Caller holds mu or owns ml.
func (ml *MultiLogger) open(date string) error {
	for _, category := range Categories {
		level := ml.level
		if category == CategoryError {
			level = zapcore.ErrorLevel
		}

		file, err := os.OpenFile(CategoryLogPath(ml.config.LogsDir, category, date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open %s log: %w", category, err)
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "ts"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.CallerKey = ""

		core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level)

		if old, ok := ml.files[category]; ok {
			ml.loggers[category].Sync()
			old.Close()
		}
		ml.loggers[category] = zap.New(core)
		ml.files[category] = file
	}
	ml.currentDate = date
	return nil
}

// CategoryLogPath returns the file holding a category's entries for date
// (formatted as YYYYMMDD)
func CategoryLogPath(logsDir string, category LogCategory, date string) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s-%s.log", category, date))
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// GetLogger returns the logger of a category, rotating files at midnight
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if today := ml.now().Format(dateLayout); today != ml.currentDate {
		if err := ml.open(today); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	if logger, ok := ml.loggers[category]; ok {
		return logger
	}
	return ml.loggers[CategoryError]
}

// Task returns the task lifecycle logger
func (ml *MultiLogger) Task() *zap.Logger {
	return ml.GetLogger(CategoryTask)
}

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.GetLogger(CategoryError)
}

// LogAppError logs an application-level error
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
}

// LogTaskEvent logs a task lifecycle event with structured data
func (ml *MultiLogger) LogTaskEvent(event string, fields ...zap.Field) {
	ml.Task().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, logger := range ml.loggers {
		if err := logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes and closes every category file
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for category, file := range ml.files {
		ml.loggers[category].Sync()
		if err := file.Close(); err != nil {
			lastErr = err
		}
	}
	ml.files = make(map[LogCategory]*os.File)
	return lastErr
}
