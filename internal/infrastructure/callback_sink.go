package infrastructure

import (
	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// MultiSink fans an event out to several sinks in order
type MultiSink []domain.CallbackSink

// OnRequestCallback implements domain.CallbackSink
func (m MultiSink) OnRequestCallback(taskID int64, event domain.EventType, info string) {
	for _, sink := range m {
		if sink != nil {
			sink.OnRequestCallback(taskID, event, info)
		}
	}
}

// EventLogSink records every lifecycle event in the task log
type EventLogSink struct {
	logger *zap.Logger
}

// NewEventLogSink creates a sink writing to logger
func NewEventLogSink(logger *zap.Logger) *EventLogSink {
	return &EventLogSink{logger: logger}
}

// OnRequestCallback implements domain.CallbackSink
func (s *EventLogSink) OnRequestCallback(taskID int64, event domain.EventType, info string) {
	fields := []zap.Field{zap.Int64("tid", taskID)}
	if task, err := domain.DecodeTask(info); err == nil {
		fields = append(fields,
			zap.String("state", task.State().String()),
			zap.Int64("processed", task.Progress.Processed),
			zap.Int64s("sizes", task.Progress.Sizes),
			zap.String("reason", task.Reason))
	}
	s.logger.Info(string(event), fields...)
}
