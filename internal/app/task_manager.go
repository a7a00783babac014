package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// TaskManager is the entry point of every task operation. Store calls run
// on the store executor, state changes of downloads go through the driver.
type TaskManager struct {
	repo        domain.TaskRepository
	driver      *DownloadDriver
	executor    *StoreExecutor
	storagePath string
	logger      *zap.Logger
}

// NewTaskManager creates a new task manager
func NewTaskManager(
	repo domain.TaskRepository,
	driver *DownloadDriver,
	executor *StoreExecutor,
	storagePath string,
	logger *zap.Logger,
) *TaskManager {
	return &TaskManager{
		repo:        repo,
		driver:      driver,
		executor:    executor,
		storagePath: storagePath,
		logger:      logger,
	}
}

// Create stores a new task and returns its id, or -1 on failure
func (tm *TaskManager) Create(ctx context.Context, configJSON string) int64 {
	config, err := domain.DecodeTaskConfig(configJSON)
	if err != nil {
		tm.logger.Warn("Rejected task config", zap.Error(err))
		return -1
	}
	if config.Action != domain.ActionDownload && config.Action != domain.ActionUpload {
		tm.logger.Warn("Rejected task config", zap.Int("action", int(config.Action)))
		return -1
	}

	tid, err := storeCall(ctx, tm.executor, func() (int64, error) {
		return tm.repo.Insert(config)
	})
	if err != nil {
		tm.logger.Error("Failed to create task", zap.Error(err))
		return -1
	}

	tm.logger.Info("Task created",
		zap.Int64("tid", tid),
		zap.String("url", config.URL),
		zap.String("saveas", config.Saveas))
	return tid
}

// Start issues the first request of a download task
func (tm *TaskManager) Start(ctx context.Context, taskID int64) {
	task, err := tm.loadDownload(ctx, taskID)
	if err != nil {
		tm.logFailure("start", taskID, err)
		return
	}
	if err := tm.driver.StartDownload(ctx, task); err != nil {
		tm.logFailure("start", taskID, err)
	}
}

// Pause pauses a running download task
func (tm *TaskManager) Pause(ctx context.Context, taskID int64) {
	task, err := tm.loadDownload(ctx, taskID)
	if err != nil {
		tm.logFailure("pause", taskID, err)
		return
	}
	if err := tm.driver.PauseDownload(task); err != nil {
		tm.logFailure("pause", taskID, err)
	}
}

// Resume restarts a paused download task
func (tm *TaskManager) Resume(ctx context.Context, taskID int64) {
	task, err := tm.loadDownload(ctx, taskID)
	if err != nil {
		tm.logFailure("resume", taskID, err)
		return
	}
	if err := tm.driver.ResumeDownload(ctx, task); err != nil {
		tm.logFailure("resume", taskID, err)
	}
}

// Stop ends a download task for good
func (tm *TaskManager) Stop(ctx context.Context, taskID int64) {
	task, err := tm.loadDownload(ctx, taskID)
	if err != nil {
		tm.logFailure("stop", taskID, err)
		return
	}
	if err := tm.driver.StopDownload(task); err != nil {
		tm.logFailure("stop", taskID, err)
	}
}

// Remove marks a task removed. It returns 0, or -1 when the task is unknown.
func (tm *TaskManager) Remove(ctx context.Context, taskID int64) int64 {
	task, err := tm.load(ctx, taskID)
	if err != nil {
		tm.logFailure("remove", taskID, err)
		return -1
	}

	if !tm.driver.RemoveTask(task) {
		tm.logger.Debug("Task already removed", zap.Int64("tid", taskID))
	}
	return 0
}

// Show returns the task info after a fresh poll. Tasks guarded by a token
// are only visible through Touch.
func (tm *TaskManager) Show(ctx context.Context, taskID int64) string {
	tm.driver.Refresh(taskID)

	task, err := tm.load(ctx, taskID)
	if err != nil {
		tm.logFailure("show", taskID, err)
		return ""
	}
	if task.Token != "" && task.Token != "null" {
		return ""
	}
	return tm.encode(task)
}

// Touch returns the task info when token matches the one of the task
func (tm *TaskManager) Touch(ctx context.Context, taskID int64, token string) string {
	tm.driver.Refresh(taskID)

	task, err := storeCall(ctx, tm.executor, func() (*domain.Task, error) {
		return tm.repo.QueryByToken(taskID, token)
	})
	if err != nil {
		tm.logFailure("touch", taskID, err)
		return ""
	}
	return tm.encode(task)
}

// Search returns the ids of the tasks matching filterJSON
func (tm *TaskManager) Search(ctx context.Context, filterJSON string) []int64 {
	filter, err := domain.DecodeFilter(filterJSON)
	if err != nil {
		tm.logger.Warn("Rejected filter", zap.Error(err))
		return []int64{}
	}

	tm.driver.RefreshAll()

	ids, err := storeCall(ctx, tm.executor, func() ([]int64, error) {
		return tm.repo.QueryByFilter(filter)
	})
	if err != nil {
		tm.logger.Error("Failed to search tasks", zap.Error(err))
		return []int64{}
	}
	return ids
}

// GetMimeType returns the media type of the downloaded content
func (tm *TaskManager) GetMimeType(ctx context.Context, taskID int64) string {
	task, err := tm.loadDownload(ctx, taskID)
	if err != nil {
		tm.logFailure("mimetype", taskID, err)
		return ""
	}
	return tm.driver.MimeType(task)
}

// GetDefaultStoragePath returns the directory downloads are saved to by
// default, creating it when missing
func (tm *TaskManager) GetDefaultStoragePath() string {
	if err := os.MkdirAll(tm.storagePath, 0755); err != nil {
		tm.logger.Warn("Failed to create storage directory",
			zap.String("path", tm.storagePath),
			zap.Error(err))
	}
	return tm.storagePath
}

// Reset stops every task left unfinished by a previous run. It is meant to
// run once before any other operation.
func (tm *TaskManager) Reset(ctx context.Context) error {
	tasks, err := storeCall(ctx, tm.executor, tm.repo.QueryAll)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	stopped := 0
	for _, task := range tasks {
		if task.State().IsTerminal() {
			continue
		}
		from := task.State()
		if !task.Advance(domain.StateStopped) {
			tm.logger.Warn("Recovery skipped task in unknown state",
				zap.Int64("tid", task.Tid),
				zap.String("state", from.String()))
			continue
		}
		task.SetReason(domain.ReasonUserOperation)

		if err := tm.executor.Do(ctx, func() error { return tm.repo.Update(task, false) }); err != nil {
			return fmt.Errorf("failed to stop task %d: %w", task.Tid, err)
		}
		tm.logger.Info("Task stopped by recovery",
			zap.Int64("tid", task.Tid),
			zap.String("from", from.String()))
		stopped++
	}

	tm.logger.Info("Recovery sweep finished", zap.Int("tasks", len(tasks)), zap.Int("stopped", stopped))
	return nil
}

// Report overwrites the record of a task with taskInfoJSON. Tasks the driver
// is polling are refused, as are changes out of or across terminal states.
// It returns 0, or -1 when the report was refused.
func (tm *TaskManager) Report(ctx context.Context, taskInfoJSON string) int64 {
	reported, err := domain.DecodeTask(taskInfoJSON)
	if err != nil {
		tm.logger.Warn("Rejected task report", zap.Error(err))
		return -1
	}

	current, err := tm.load(ctx, reported.Tid)
	if err != nil {
		tm.logFailure("report", reported.Tid, err)
		return -1
	}

	if tm.driver.IsPolling(reported.Tid) {
		tm.logFailure("report", reported.Tid, fmt.Errorf("%w: task is being polled", domain.ErrInvalidTransition))
		return -1
	}
	if from, to := current.State(), reported.State(); from != to && !domain.CanTransition(from, to) {
		tm.logFailure("report", reported.Tid, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, from, to))
		return -1
	}

	reported.Bundle = current.Bundle
	reported.Ctime = current.Ctime
	if err := tm.executor.Do(ctx, func() error { return tm.repo.Update(reported, false) }); err != nil {
		tm.logFailure("report", reported.Tid, err)
		return -1
	}
	return 0
}

// Purge deletes the record of a finished task
func (tm *TaskManager) Purge(ctx context.Context, taskID int64) error {
	task, err := tm.load(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.State().IsTerminal() {
		return fmt.Errorf("%w: task %d is %s", domain.ErrTaskNotTerminal, taskID, task.State())
	}

	tm.driver.RemoveDownload(task)
	if err := tm.executor.Do(ctx, func() error { return tm.repo.Delete(taskID) }); err != nil {
		return err
	}

	tm.logger.Info("Task purged", zap.Int64("tid", taskID))
	return nil
}

// Close stops polling and drains the store executor
func (tm *TaskManager) Close() {
	tm.driver.Shutdown()
	tm.executor.Close()
}

func (tm *TaskManager) load(ctx context.Context, taskID int64) (*domain.Task, error) {
	return storeCall(ctx, tm.executor, func() (*domain.Task, error) {
		return tm.repo.Query(taskID)
	})
}

func (tm *TaskManager) loadDownload(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := tm.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsDownload() {
		return nil, fmt.Errorf("%w: task %d", domain.ErrUnsupportedAction, taskID)
	}
	return task, nil
}

func (tm *TaskManager) encode(task *domain.Task) string {
	info, err := domain.EncodeTask(task)
	if err != nil {
		tm.logger.Error("Failed to encode task", zap.Int64("tid", task.Tid), zap.Error(err))
		return ""
	}
	return info
}

func (tm *TaskManager) logFailure(op string, taskID int64, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Int64("tid", taskID), zap.Error(err)}
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrUnsupportedAction):
		tm.logger.Warn("Task operation refused", fields...)
	default:
		tm.logger.Error("Task operation failed", fields...)
	}
}
