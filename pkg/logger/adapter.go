package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerAdapter joins the console logger with the optional category files.
// Without a MultiLogger every category falls back to the console.
type LoggerAdapter struct {
	console *zap.Logger
	multi   *MultiLogger
	app     *zap.Logger
}

// NewLoggerAdapter creates an adapter. multi may be nil.
func NewLoggerAdapter(console *zap.Logger, multi *MultiLogger) *LoggerAdapter {
	la := &LoggerAdapter{console: console, multi: multi, app: console}
	if multi != nil {
		// errors reach the console and the error category file
		la.app = console.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, &categoryCore{multi: multi, category: CategoryError, min: zapcore.ErrorLevel})
		}))
	}
	return la
}

// Logger returns the application logger
func (la *LoggerAdapter) Logger() *zap.Logger {
	return la.app
}

// Task returns the task lifecycle logger. It follows the day rotation of
// the category files, so it may be kept for the life of the process.
func (la *LoggerAdapter) Task() *zap.Logger {
	if la.multi != nil {
		return zap.New(&categoryCore{multi: la.multi, category: CategoryTask, min: zapcore.DebugLevel})
	}
	return la.console.Named("task")
}

// LogsDir returns the category log directory, empty without category files
func (la *LoggerAdapter) LogsDir() string {
	if la.multi != nil {
		return la.multi.GetLogsDir()
	}
	return ""
}

// Sync flushes every logger
func (la *LoggerAdapter) Sync() error {
	err := la.console.Sync()
	if la.multi != nil {
		if merr := la.multi.Sync(); merr != nil {
			err = merr
		}
	}
	return err
}

// categoryCore forwards entries to the current logger of a category so that
// day rotation is honoured
type categoryCore struct {
	multi    *MultiLogger
	category LogCategory
	min      zapcore.Level
	fields   []zapcore.Field
}

func (c *categoryCore) core() zapcore.Core {
	return c.multi.GetLogger(c.category).Core()
}

func (c *categoryCore) Enabled(level zapcore.Level) bool {
	return level >= c.min && c.core().Enabled(level)
}

func (c *categoryCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &categoryCore{multi: c.multi, category: c.category, min: c.min, fields: merged}
}

func (c *categoryCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *categoryCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	return c.core().Write(entry, all)
}

func (c *categoryCore) Sync() error {
	return c.core().Sync()
}
