package app

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// DownloadDriver drives download tasks through the platform download
// service. Every running task is polled on the shared scheduler until it
// reaches a terminal state or is paused by the user.
type DownloadDriver struct {
	repo      domain.TaskRepository
	service   domain.DownloadService
	network   domain.NetworkMonitor
	prober    domain.Prober
	sink      domain.CallbackSink
	scheduler *PollScheduler
	config    *domain.PollConfig
	probe     time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	tracked map[int64]*trackedTask
}

// trackedTask is the live copy of a task the driver works on. mu guards
// every field and serialises commands with polls of the same task.
type trackedTask struct {
	mu       sync.Mutex
	task     *domain.Task
	polling  bool
	gen      uint64
	pending  int
	interval time.Duration
}

// NewDownloadDriver creates a new download driver
func NewDownloadDriver(
	repo domain.TaskRepository,
	service domain.DownloadService,
	network domain.NetworkMonitor,
	prober domain.Prober,
	sink domain.CallbackSink,
	scheduler *PollScheduler,
	config *domain.PollConfig,
	probeTimeout time.Duration,
	logger *zap.Logger,
) *DownloadDriver {
	return &DownloadDriver{
		repo:      repo,
		service:   service,
		network:   network,
		prober:    prober,
		sink:      sink,
		scheduler: scheduler,
		config:    config,
		probe:     probeTimeout,
		logger:    logger,
		tracked:   make(map[int64]*trackedTask),
	}
}

// acquire returns the locked live copy of task. A task without a
// registered poll adopts the record the caller loaded.
func (d *DownloadDriver) acquire(task *domain.Task) *trackedTask {
	d.mu.Lock()
	tt, ok := d.tracked[task.Tid]
	if !ok {
		tt = &trackedTask{task: task}
		d.tracked[task.Tid] = tt
	}
	d.mu.Unlock()

	tt.mu.Lock()
	if !tt.polling {
		tt.task = task
	}
	return tt
}

// release unlocks tt and forgets it once nothing more can happen to it
func (d *DownloadDriver) release(tt *trackedTask) {
	forget := !tt.polling && tt.task.State().IsTerminal()
	tid := tt.task.Tid
	tt.mu.Unlock()

	if forget {
		d.mu.Lock()
		if d.tracked[tid] == tt {
			delete(d.tracked, tid)
		}
		d.mu.Unlock()
	}
}

func (d *DownloadDriver) lookup(taskID int64) *trackedTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracked[taskID]
}

// IsPolling reports whether a poll is registered for the task
func (d *DownloadDriver) IsPolling(taskID int64) bool {
	tt := d.lookup(taskID)
	if tt == nil {
		return false
	}
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.polling
}

// StartDownload issues the first request of a task
func (d *DownloadDriver) StartDownload(ctx context.Context, task *domain.Task) error {
	tt := d.acquire(task)
	defer d.release(tt)

	if !tt.task.CanStart() {
		return fmt.Errorf("%w: cannot start task %d in state %s", domain.ErrInvalidTransition, tt.task.Tid, tt.task.State())
	}
	return d.launch(ctx, tt, false)
}

// ResumeDownload issues a fresh request for a paused task
func (d *DownloadDriver) ResumeDownload(ctx context.Context, task *domain.Task) error {
	tt := d.acquire(task)
	defer d.release(tt)

	t := tt.task
	if t.State() != domain.StatePaused {
		return fmt.Errorf("%w: cannot resume task %d in state %s", domain.ErrInvalidTransition, t.Tid, t.State())
	}

	d.stopPolling(tt)
	d.cancelPlatform(t)
	t.DownloadID = 0
	return d.launch(ctx, tt, true)
}

// PauseDownload cancels the transfer of a running task and keeps its
// progress
func (d *DownloadDriver) PauseDownload(task *domain.Task) error {
	tt := d.acquire(task)
	defer d.release(tt)

	t := tt.task
	if !t.IsActive() {
		return fmt.Errorf("%w: cannot pause task %d in state %s", domain.ErrInvalidTransition, t.Tid, t.State())
	}

	d.stopPolling(tt)
	if snapshot, ok, err := d.service.Query(t.DownloadID); err == nil && ok {
		applyCounters(t, snapshot)
	}
	t.Progress.LastProcessed = t.Progress.Processed
	d.cancelPlatform(t)

	t.Advance(domain.StatePaused)
	t.SetReason(domain.ReasonUserOperation)
	d.persist(t)
	d.emit(t, domain.EventPause)
	return nil
}

// StopDownload ends a task for good. No callback is fired.
func (d *DownloadDriver) StopDownload(task *domain.Task) error {
	tt := d.acquire(task)
	defer d.release(tt)

	t := tt.task
	if !t.Advance(domain.StateStopped) {
		return fmt.Errorf("%w: cannot stop task %d in state %s", domain.ErrInvalidTransition, t.Tid, t.State())
	}

	d.stopPolling(tt)
	d.cancelPlatform(t)
	t.SetReason(domain.ReasonUserOperation)
	d.persist(t)
	return nil
}

// RemoveTask cancels any transfer of the task and marks it removed. It
// returns false when the task already was removed.
func (d *DownloadDriver) RemoveTask(task *domain.Task) bool {
	tt := d.acquire(task)
	defer d.release(tt)

	t := tt.task
	d.removeDownload(tt)
	if !t.Advance(domain.StateRemoved) {
		return false
	}

	d.persist(t)
	d.emit(t, domain.EventRemove)
	return true
}

// RemoveDownload cancels the platform entry and the poll of a task without
// touching its record
func (d *DownloadDriver) RemoveDownload(task *domain.Task) {
	tt := d.acquire(task)
	defer d.release(tt)
	d.removeDownload(tt)
}

func (d *DownloadDriver) removeDownload(tt *trackedTask) {
	d.stopPolling(tt)
	if tt.task.IsDownload() {
		d.cancelPlatform(tt.task)
	}
}

// Refresh runs one poll of the task now and waits for it
func (d *DownloadDriver) Refresh(taskID int64) {
	err := d.scheduler.RunNow(taskID, func() {
		if tt := d.lookup(taskID); tt != nil {
			d.pollOnce(tt)
		}
	})
	if err != nil {
		d.logger.Debug("Refresh skipped", zap.Int64("tid", taskID), zap.Error(err))
	}
}

// RefreshAll runs one poll of every polled task now and waits for them
func (d *DownloadDriver) RefreshAll() {
	d.mu.Lock()
	tasks := make([]*trackedTask, 0, len(d.tracked))
	for _, tt := range d.tracked {
		tasks = append(tasks, tt)
	}
	d.mu.Unlock()

	if len(tasks) == 0 {
		return
	}

	err := d.scheduler.RunNow(0, func() {
		for _, tt := range tasks {
			d.pollOnce(tt)
		}
	})
	if err != nil {
		d.logger.Debug("Refresh skipped", zap.Error(err))
	}
}

// MimeType returns the media type reported by the platform for the task,
// falling back to the one derived when the request was issued
func (d *DownloadDriver) MimeType(task *domain.Task) string {
	if task.DownloadID != 0 {
		if mt := d.service.MimeType(task.DownloadID); mt != "" {
			return mt
		}
	}
	return task.MimeType
}

// Shutdown deregisters every poll. Platform transfers are left alone.
func (d *DownloadDriver) Shutdown() {
	d.mu.Lock()
	tasks := make([]*trackedTask, 0, len(d.tracked))
	for _, tt := range d.tracked {
		tasks = append(tasks, tt)
	}
	d.tracked = make(map[int64]*trackedTask)
	d.mu.Unlock()

	for _, tt := range tasks {
		tt.mu.Lock()
		d.stopPolling(tt)
		tt.mu.Unlock()
	}
}

// launch checks the preconditions of a request and hands it to the
// platform. tt is locked by the caller.
func (d *DownloadDriver) launch(ctx context.Context, tt *trackedTask, resuming bool) error {
	t := tt.task

	config, err := d.repo.QueryConfig(t.Tid)
	if err != nil {
		d.fail(tt, domain.ReasonConnectError)
		return fmt.Errorf("failed to load config of task %d: %w", t.Tid, err)
	}

	connectivity := d.network.Current()
	if connectivity == domain.ConnectivityNone {
		d.fail(tt, domain.ReasonNetworkOffline)
		return fmt.Errorf("task %d: network offline", t.Tid)
	}
	if !networkAllowed(config, connectivity) {
		d.fail(tt, domain.ReasonUnsupportedNetworkType)
		return fmt.Errorf("task %d: network %s not allowed", t.Tid, connectivity)
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.probe)
	resp, err := d.prober.Probe(probeCtx, config.URL, config.Headers)
	cancel()
	if err != nil {
		d.fail(tt, domain.ReasonConnectError)
		return fmt.Errorf("task %d: %w", t.Tid, err)
	}

	t.Response = resp
	d.emit(t, domain.EventResponse)
	if resp.StatusCode != http.StatusOK {
		d.fail(tt, domain.ReasonConnectError)
		return fmt.Errorf("task %d: probe returned %d", t.Tid, resp.StatusCode)
	}

	if config.Saveas == "" {
		d.fail(tt, domain.ReasonUserOperation)
		return fmt.Errorf("task %d: no destination", t.Tid)
	}

	req := buildRequest(config, connectivity)
	handle, err := d.service.Enqueue(req)
	if err != nil {
		failed := t.Clone()
		failed.SetReason(domain.ReasonBuildRequestFailed)
		d.emit(failed, domain.EventFailed)
		return fmt.Errorf("failed to enqueue task %d: %w", t.Tid, err)
	}

	t.DownloadID = handle
	t.MimeType = req.MimeType
	t.Progress.Processed = 0
	if t.Progress.Extras == nil {
		t.Progress.Extras = make(map[string]string)
	}
	t.Progress.Extras["supportsRanges"] = fmt.Sprint(resp.SupportsRanges())
	t.Advance(domain.StateRunning)
	t.SetReason(domain.ReasonOK)
	d.persist(t)

	d.logger.Info("Download started",
		zap.Int64("tid", t.Tid),
		zap.Int64("handle", handle),
		zap.String("url", config.URL),
		zap.Bool("resume", resuming))

	tt.pending = 0
	d.startPolling(tt)
	if resuming {
		d.emit(t, domain.EventResume)
	}
	return nil
}

// retry re-issues the request of a task whose transfer failed with a
// transient reason. tt is locked by the caller.
func (d *DownloadDriver) retry(tt *trackedTask, reason domain.Reason) {
	t := tt.task

	config, err := d.repo.QueryConfig(t.Tid)
	if err != nil {
		d.stopPolling(tt)
		d.fail(tt, reason)
		return
	}

	d.cancelPlatform(t)
	handle, err := d.service.Enqueue(buildRequest(config, d.network.Current()))
	if err != nil {
		d.logger.Warn("Retry enqueue failed", zap.Int64("tid", t.Tid), zap.Error(err))
		d.stopPolling(tt)
		d.fail(tt, domain.ReasonBuildRequestFailed)
		return
	}

	t.Advance(domain.StateRetrying)
	t.Tries++
	t.DownloadID = handle
	t.Progress.Processed = 0
	t.SetReason(reason)
	tt.pending = 0
	d.persist(t)

	d.logger.Info("Download retrying",
		zap.Int64("tid", t.Tid),
		zap.Int("tries", t.Tries),
		zap.String("reason", reason.String()))
	d.emit(t, domain.EventProgress)
}

func (d *DownloadDriver) startPolling(tt *trackedTask) {
	tt.polling = true
	tt.gen++
	tt.interval = d.config.Interval
	d.schedule(tt)
}

func (d *DownloadDriver) schedule(tt *trackedTask) {
	tid := tt.task.Tid
	gen := tt.gen
	err := d.scheduler.PostDelayed(tid, tt.interval, func() { d.poll(tt, gen) })
	if err != nil {
		d.logger.Warn("Failed to schedule poll", zap.Int64("tid", tid), zap.Error(err))
	}
}

// stopPolling deregisters the poll of tt. Once it returns no poll will
// touch the task again. tt is locked by the caller.
func (d *DownloadDriver) stopPolling(tt *trackedTask) {
	tt.polling = false
	tt.pending = 0
	d.scheduler.Remove(tt.task.Tid)
}

// poll is the recurring job of a polled task. A job posted before the
// poll was restarted carries a stale gen and does nothing.
func (d *DownloadDriver) poll(tt *trackedTask, gen uint64) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if !tt.polling || tt.gen != gen {
		return
	}

	if d.queryProgress(tt) {
		tt.interval = d.config.Interval
	} else {
		tt.interval = d.backoff(tt.interval)
	}

	if tt.polling {
		d.schedule(tt)
	}
}

// pollOnce polls tt outside of its recurring schedule
func (d *DownloadDriver) pollOnce(tt *trackedTask) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.polling {
		d.queryProgress(tt)
	}
}

func (d *DownloadDriver) backoff(current time.Duration) time.Duration {
	if d.config.BackoffFactor <= 1 {
		return current
	}
	next := time.Duration(float64(current) * d.config.BackoffFactor)
	if d.config.MaxInterval > 0 && next > d.config.MaxInterval {
		next = d.config.MaxInterval
	}
	return next
}

// queryProgress reconciles the task with the platform status. It returns
// whether anything about the task changed. tt is locked by the caller.
func (d *DownloadDriver) queryProgress(tt *trackedTask) bool {
	t := tt.task

	snapshot, ok, err := d.service.Query(t.DownloadID)
	if err != nil {
		d.logger.Warn("Failed to query download", zap.Int64("tid", t.Tid), zap.Error(err))
		return false
	}
	if !ok {
		d.logger.Warn("Download vanished from platform", zap.Int64("tid", t.Tid), zap.Int64("handle", t.DownloadID))
		d.stopPolling(tt)
		return false
	}

	switch snapshot.Status {
	case domain.DownloadPending:
		tt.pending++
		if tt.pending > d.config.MaxPendingPolls {
			d.stopPolling(tt)
			d.cancelPlatform(t)
			d.fail(tt, domain.ReasonOthersError)
			return true
		}
		return false

	case domain.DownloadRunning:
		tt.pending = 0
		changed := applyCounters(t, snapshot)
		if t.State() != domain.StateRunning && t.Advance(domain.StateRunning) {
			t.SetReason(domain.ReasonOK)
			changed = true
		}
		if changed {
			d.persist(t)
			d.emit(t, domain.EventProgress)
		}
		return changed

	case domain.DownloadPaused:
		tt.pending = 0
		changed := applyCounters(t, snapshot)
		reason := domain.PausedReason(snapshot.Reason)
		if snapshot.Reason == domain.PausedWaitingForNetwork && t.Version == domain.VersionAPI10 && t.State() != domain.StatePaused {
			d.stopPolling(tt)
			d.cancelPlatform(t)
			d.fail(tt, reason)
			return true
		}
		if t.Advance(domain.StatePaused) {
			t.SetReason(reason)
			d.persist(t)
			d.emit(t, domain.EventPause)
			return true
		}
		if changed {
			d.persist(t)
		}
		return changed

	case domain.DownloadSuccessful:
		d.stopPolling(tt)
		applyCounters(t, snapshot)
		if !t.Advance(domain.StateCompleted) {
			return false
		}
		if total := t.Progress.TotalSize(); total >= 0 {
			t.Progress.Processed = total
		}
		t.SetReason(domain.ReasonOK)
		t.TaskStates = domain.TaskState{Path: t.Saveas, ResponseCode: int(domain.ReasonOK)}
		if snapshot.LocalPath != "" {
			t.TaskStates.Path = snapshot.LocalPath
		}
		if snapshot.MimeType != "" {
			t.MimeType = snapshot.MimeType
		}
		d.persist(t)
		d.emit(t, domain.EventProgress)
		d.emit(t, domain.EventCompleted)
		return true

	case domain.DownloadFailed:
		applyCounters(t, snapshot)
		reason := domain.FailedReason(snapshot.Reason)
		retryable := t.State() == domain.StateRetrying || domain.CanTransition(t.State(), domain.StateRetrying)
		if t.Retry && reason.IsTransient() && t.Tries < d.config.MaxRetries && retryable {
			d.retry(tt, reason)
			return true
		}
		d.stopPolling(tt)
		d.fail(tt, reason)
		return true
	}

	d.logger.Warn("Unknown download status", zap.Int64("tid", t.Tid), zap.Int("status", int(snapshot.Status)))
	return false
}

// fail moves the task to FAILED and fires the failure callback once. tt is
// locked by the caller.
func (d *DownloadDriver) fail(tt *trackedTask, reason domain.Reason) {
	t := tt.task
	if !t.Advance(domain.StateFailed) {
		return
	}

	t.Progress.Sizes = []int64{-1}
	t.SetReason(reason)
	d.persist(t)

	d.logger.Info("Download failed", zap.Int64("tid", t.Tid), zap.String("reason", reason.String()))
	d.emit(t, domain.EventFailed)
}

func (d *DownloadDriver) cancelPlatform(t *domain.Task) {
	if t.DownloadID == 0 {
		return
	}
	if err := d.service.Remove(t.DownloadID); err != nil {
		d.logger.Warn("Failed to remove platform download",
			zap.Int64("tid", t.Tid),
			zap.Int64("handle", t.DownloadID),
			zap.Error(err))
	}
}

func (d *DownloadDriver) persist(t *domain.Task) {
	if err := d.repo.Update(t, true); err != nil {
		d.logger.Error("Failed to persist task", zap.Int64("tid", t.Tid), zap.Error(err))
	}
}

func (d *DownloadDriver) emit(t *domain.Task, event domain.EventType) {
	if d.sink == nil {
		return
	}
	info, err := domain.EncodeTask(t)
	if err != nil {
		d.logger.Error("Failed to encode task", zap.Int64("tid", t.Tid), zap.Error(err))
		return
	}
	d.sink.OnRequestCallback(t.Tid, event, info)
}

// applyCounters copies the byte counters of snapshot into the task and
// reports whether they changed
func applyCounters(t *domain.Task, snapshot domain.DownloadSnapshot) bool {
	changed := false
	if t.Progress.Processed != snapshot.BytesSoFar {
		t.Progress.Processed = snapshot.BytesSoFar
		changed = true
	}
	if len(t.Progress.Sizes) != 1 || t.Progress.Sizes[0] != snapshot.TotalBytes {
		t.Progress.Sizes = []int64{snapshot.TotalBytes}
		changed = true
	}
	return changed
}

// networkAllowed checks the network constraint of config against the
// active network
func networkAllowed(config *domain.TaskConfig, connectivity domain.Connectivity) bool {
	switch connectivity {
	case domain.ConnectivityWifi:
		return config.Network == domain.NetworkWifi || config.Network == domain.NetworkAny
	case domain.ConnectivityCellular:
		return config.Network == domain.NetworkCellular || config.Network == domain.NetworkAny
	}
	return false
}

// buildRequest translates a task config into a platform request
func buildRequest(config *domain.TaskConfig, connectivity domain.Connectivity) *domain.DownloadRequest {
	headers := make(map[string]string, len(config.Headers)+1)
	for k, v := range config.Headers {
		headers[k] = v
	}
	if config.Begins > 0 || config.Ends > 0 {
		rng := fmt.Sprintf("bytes=%d-", config.Begins)
		if config.Ends > 0 {
			rng += fmt.Sprint(config.Ends)
		}
		headers["Range"] = rng
	}

	visibility := domain.VisibilityVisibleNotifyComplete
	if config.Mode == domain.ModeForeground {
		visibility = domain.VisibilityVisible
	}

	return &domain.DownloadRequest{
		URL:                config.URL,
		Title:              config.Title,
		Description:        config.Description,
		MimeType:           mimeTypeFromURL(config.URL),
		Headers:            headers,
		Visibility:         visibility,
		AllowedOverMetered: connectivity == domain.ConnectivityWifi || config.Metered,
		AllowedOverRoaming: config.Roaming,
		Destination:        config.Saveas,
		Overwrite:          config.Overwrite,
	}
}

// mimeTypeFromURL guesses the media type from the extension of the URL path
func mimeTypeFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext))
	if err != nil {
		return ""
	}
	return mediaType
}
