package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartDownload_Offline(t *testing.T) {
	h := newHarness(t)
	h.network.set(domain.ConnectivityNone)
	task := h.create(t, nil)

	err := h.driver.StartDownload(context.Background(), task)
	assert.Error(t, err)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "NETWORK_OFFLINE", stored.Reason)
	assert.Equal(t, []int64{-1}, stored.Progress.Sizes)
	assert.Equal(t, []domain.EventType{domain.EventFailed}, h.sink.types())
	assert.Zero(t, h.prober.calls)
}

func TestStartDownload_NetworkTypeNotAllowed(t *testing.T) {
	h := newHarness(t)
	h.network.set(domain.ConnectivityCellular)
	task := h.create(t, func(c *domain.TaskConfig) { c.Network = domain.NetworkWifi })

	assert.Error(t, h.driver.StartDownload(context.Background(), task))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "UNSUPPORTED_NETWORK_TYPE", stored.Reason)
}

func TestStartDownload_ProbeRejected(t *testing.T) {
	h := newHarness(t)
	h.prober.status = 404
	task := h.create(t, nil)

	assert.Error(t, h.driver.StartDownload(context.Background(), task))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "CONNECT_ERROR", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventResponse, domain.EventFailed}, h.sink.types())
	assert.Empty(t, h.service.requests)
}

func TestStartDownload_ProbeError(t *testing.T) {
	h := newHarness(t)
	h.prober.err = errors.New("dial tcp: refused")
	task := h.create(t, nil)

	assert.Error(t, h.driver.StartDownload(context.Background(), task))
	assert.Equal(t, "CONNECT_ERROR", h.load(t, task.Tid).Reason)
	assert.Equal(t, []domain.EventType{domain.EventFailed}, h.sink.types())
}

func TestStartDownload_NoDestination(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, func(c *domain.TaskConfig) { c.Saveas = "" })

	assert.Error(t, h.driver.StartDownload(context.Background(), task))
	assert.Equal(t, "USER_OPERATION", h.load(t, task.Tid).Reason)
}

func TestStartDownload_EnqueueFailureLeavesRecord(t *testing.T) {
	h := newHarness(t)
	h.service.enqueueErr = errEnqueue
	task := h.create(t, nil)

	err := h.driver.StartDownload(context.Background(), task)
	assert.True(t, errors.Is(err, errEnqueue))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateInitialized, stored.State())
	assert.Equal(t, "REASON_OK", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventResponse, domain.EventFailed}, h.sink.types())
	assert.Equal(t, "BUILD_REQUEST_FAILED", h.sink.last(t).Reason)
	assert.False(t, h.driver.IsPolling(task.Tid))
}

func TestStartDownload_Running(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, nil)

	require.NoError(t, h.driver.StartDownload(context.Background(), task))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateRunning, stored.State())
	assert.Equal(t, int64(1), stored.DownloadID)
	assert.Equal(t, "application/json", stored.MimeType)
	assert.Equal(t, "true", stored.Progress.Extras["supportsRanges"])
	assert.Equal(t, []domain.EventType{domain.EventResponse}, h.sink.types())
	assert.True(t, h.driver.IsPolling(task.Tid))
	assert.True(t, h.scheduler.Pending(task.Tid))
}

func TestStartDownload_RefusedWhenNotStartable(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	err := h.driver.StartDownload(context.Background(), task)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Empty(t, h.sink.types())
}

func TestPoll_SuccessfulCompletesTask(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{
		Status:     domain.DownloadSuccessful,
		BytesSoFar: 100,
		TotalBytes: 100,
		LocalPath:  "/tmp/f.json",
	})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateCompleted, stored.State())
	assert.Equal(t, int64(100), stored.Progress.Processed)
	assert.Equal(t, []int64{100}, stored.Progress.Sizes)
	assert.Equal(t, "/tmp/f.json", stored.TaskStates.Path)
	assert.Equal(t, []domain.EventType{domain.EventProgress, domain.EventCompleted}, h.sink.types())
	assert.False(t, h.driver.IsPolling(task.Tid))
	assert.False(t, h.scheduler.Pending(task.Tid))

	// terminal tasks ignore further polls
	h.driver.Refresh(task.Tid)
	assert.Len(t, h.sink.types(), 2)
}

func TestPoll_RunningFiresProgressOnChangeOnly(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 10, TotalBytes: 100})
	h.driver.Refresh(task.Tid)
	h.driver.Refresh(task.Tid)
	assert.Equal(t, []domain.EventType{domain.EventProgress}, h.sink.types())

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 20, TotalBytes: 100})
	h.driver.Refresh(task.Tid)
	assert.Len(t, h.sink.types(), 2)

	stored := h.load(t, task.Tid)
	assert.Equal(t, int64(20), stored.Progress.Processed)
	assert.Equal(t, []int64{100}, stored.Progress.Sizes)
}

func TestPoll_PendingTooLongFails(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	for i := 0; i < 3; i++ {
		h.driver.Refresh(task.Tid)
	}
	assert.Equal(t, domain.StateRunning, h.load(t, task.Tid).State())
	assert.Empty(t, h.sink.types())

	h.driver.Refresh(task.Tid)
	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "OTHERS_ERROR", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventFailed}, h.sink.types())
	assert.Contains(t, h.service.removedHandles(), task.DownloadID)
}

func TestPoll_PausedByPlatform(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadPaused, Reason: domain.PausedWaitingForNetwork, TotalBytes: -1})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StatePaused, stored.State())
	assert.Equal(t, "WAITTING_NETWORK_ONE_DAY", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventPause}, h.sink.types())
	assert.True(t, h.driver.IsPolling(task.Tid))

	// a second paused poll is not a new transition
	h.driver.Refresh(task.Tid)
	assert.Len(t, h.sink.types(), 1)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 5, TotalBytes: 10})
	h.driver.Refresh(task.Tid)
	assert.Equal(t, domain.StateRunning, h.load(t, task.Tid).State())
}

func TestPoll_PausedForNetworkFailsNewerCallers(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, func(c *domain.TaskConfig) { c.Version = domain.VersionAPI10 })

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadPaused, Reason: domain.PausedWaitingForNetwork})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "WAITTING_NETWORK_ONE_DAY", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventFailed}, h.sink.types())
	assert.False(t, h.driver.IsPolling(task.Tid))
}

func TestPoll_PausedForNetworkWhilePausedStaysPaused(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, func(c *domain.TaskConfig) { c.Version = domain.VersionAPI10 })

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadPaused, Reason: domain.PausedQueuedForWifi, TotalBytes: -1})
	h.driver.Refresh(task.Tid)
	require.Equal(t, domain.StatePaused, h.load(t, task.Tid).State())

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadPaused, Reason: domain.PausedWaitingForNetwork, TotalBytes: -1})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StatePaused, stored.State())
	assert.Equal(t, "UNSUPPORTED_NETWORK_TYPE", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventPause}, h.sink.types())
	assert.True(t, h.driver.IsPolling(task.Tid))
}

func TestPoll_FailedWithoutRetry(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadFailed, Reason: domain.ErrorFileAlreadyExists})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, "IO_ERROR", stored.Reason)
	assert.Equal(t, []domain.EventType{domain.EventFailed}, h.sink.types())
	assert.False(t, h.driver.IsPolling(task.Tid))
}

func TestPoll_TransientFailureRetries(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, func(c *domain.TaskConfig) { c.Retry = true })
	first := task.DownloadID

	h.service.set(first, domain.DownloadSnapshot{Status: domain.DownloadFailed, Reason: domain.ErrorUnhandledHTTPCode})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateRetrying, stored.State())
	assert.Equal(t, "CONNECT_ERROR", stored.Reason)
	assert.Equal(t, 1, stored.Tries)
	assert.NotEqual(t, first, stored.DownloadID)
	assert.Contains(t, h.service.removedHandles(), first)
	assert.Equal(t, []domain.EventType{domain.EventProgress}, h.sink.types())
	assert.True(t, h.driver.IsPolling(task.Tid))

	h.service.set(stored.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 1, TotalBytes: 2})
	h.driver.Refresh(task.Tid)
	assert.Equal(t, domain.StateRunning, h.load(t, task.Tid).State())
}

func TestPoll_RetriesAreBounded(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, func(c *domain.TaskConfig) { c.Retry = true })

	for i := 0; i < 3; i++ {
		current := h.load(t, task.Tid)
		h.service.set(current.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadFailed, Reason: domain.ErrorUnknown})
		h.driver.Refresh(task.Tid)
		assert.Equal(t, domain.StateRetrying, h.load(t, task.Tid).State())
	}

	current := h.load(t, task.Tid)
	h.service.set(current.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadFailed, Reason: domain.ErrorUnknown})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateFailed, stored.State())
	assert.Equal(t, 3, stored.Tries)
}

func TestPoll_VanishedEntryStopsPolling(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	require.NoError(t, h.service.Remove(task.DownloadID))
	h.driver.Refresh(task.Tid)

	assert.False(t, h.driver.IsPolling(task.Tid))
	assert.Equal(t, domain.StateRunning, h.load(t, task.Tid).State())
	assert.Empty(t, h.sink.types())
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)
	first := task.DownloadID

	h.service.set(first, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 40, TotalBytes: 100})
	require.NoError(t, h.driver.PauseDownload(task))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StatePaused, stored.State())
	assert.Equal(t, "USER_OPERATION", stored.Reason)
	assert.Equal(t, int64(40), stored.Progress.LastProcessed)
	assert.Equal(t, []domain.EventType{domain.EventPause}, h.sink.types())
	assert.False(t, h.driver.IsPolling(task.Tid))
	assert.False(t, h.scheduler.Pending(task.Tid))
	assert.Contains(t, h.service.removedHandles(), first)

	// duplicate pause is refused without a callback
	err := h.driver.PauseDownload(stored)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Len(t, h.sink.types(), 1)

	h.sink.reset()
	require.NoError(t, h.driver.ResumeDownload(context.Background(), stored))

	resumed := h.load(t, task.Tid)
	assert.Equal(t, domain.StateRunning, resumed.State())
	assert.Equal(t, 0, resumed.Tries)
	assert.NotEqual(t, first, resumed.DownloadID)
	assert.Equal(t, int64(0), resumed.Progress.Processed)
	assert.Equal(t, []domain.EventType{domain.EventResponse, domain.EventResume}, h.sink.types())
	assert.True(t, h.driver.IsPolling(task.Tid))
}

func TestResume_KeepsRetryBudget(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, func(c *domain.TaskConfig) { c.Retry = true })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		current := h.load(t, task.Tid)
		require.NoError(t, h.driver.PauseDownload(current))
		require.NoError(t, h.driver.ResumeDownload(ctx, h.load(t, task.Tid)))
	}
	assert.Equal(t, 0, h.load(t, task.Tid).Tries)

	current := h.load(t, task.Tid)
	h.sink.reset()
	h.service.set(current.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadFailed, Reason: domain.ErrorUnhandledHTTPCode})
	h.driver.Refresh(task.Tid)

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateRetrying, stored.State())
	assert.Equal(t, 1, stored.Tries)
	assert.Equal(t, []domain.EventType{domain.EventProgress}, h.sink.types())
}

func TestResume_RefusedUnlessPaused(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	err := h.driver.ResumeDownload(context.Background(), task)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Empty(t, h.sink.types())
}

func TestStop_NoCallbackAndNoResurrection(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	require.NoError(t, h.driver.StopDownload(task))

	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateStopped, stored.State())
	assert.Equal(t, "USER_OPERATION", stored.Reason)
	assert.Empty(t, h.sink.types())
	assert.False(t, h.driver.IsPolling(task.Tid))

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadSuccessful, BytesSoFar: 1, TotalBytes: 1})
	h.driver.Refresh(task.Tid)
	assert.Equal(t, domain.StateStopped, h.load(t, task.Tid).State())
	assert.Empty(t, h.sink.types())

	err := h.driver.StopDownload(stored)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestRemoveTask_Idempotent(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	assert.True(t, h.driver.RemoveTask(task))
	stored := h.load(t, task.Tid)
	assert.Equal(t, domain.StateRemoved, stored.State())
	assert.Equal(t, []domain.EventType{domain.EventRemove}, h.sink.types())
	assert.Contains(t, h.service.removedHandles(), task.DownloadID)

	assert.False(t, h.driver.RemoveTask(stored))
	assert.Len(t, h.sink.types(), 1)
}

func TestRemoveDownload_KeepsRecord(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.driver.RemoveDownload(task)

	assert.False(t, h.driver.IsPolling(task.Tid))
	assert.Equal(t, domain.StateRunning, h.load(t, task.Tid).State())
	assert.Contains(t, h.service.removedHandles(), task.DownloadID)
	assert.Empty(t, h.sink.types())
}

func TestRefreshAll(t *testing.T) {
	h := newHarness(t)
	a := h.start(t, nil)
	b := h.start(t, nil)

	h.service.set(a.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, BytesSoFar: 1, TotalBytes: 3})
	h.service.set(b.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadSuccessful, BytesSoFar: 3, TotalBytes: 3})
	h.driver.RefreshAll()

	assert.Equal(t, int64(1), h.load(t, a.Tid).Progress.Processed)
	assert.Equal(t, domain.StateCompleted, h.load(t, b.Tid).State())
}

func TestMimeType_FallsBackToRecord(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.service.set(task.DownloadID, domain.DownloadSnapshot{Status: domain.DownloadRunning, MimeType: "text/plain"})
	assert.Equal(t, "text/plain", h.driver.MimeType(task))

	task.DownloadID = 0
	assert.Equal(t, "application/json", h.driver.MimeType(task))
}

func TestShutdown_DeregistersPolls(t *testing.T) {
	h := newHarness(t)
	task := h.start(t, nil)

	h.driver.Shutdown()
	assert.False(t, h.driver.IsPolling(task.Tid))
	assert.False(t, h.scheduler.Pending(task.Tid))
}

func TestBackoff(t *testing.T) {
	d := &DownloadDriver{config: &domain.PollConfig{
		Interval:      time.Second,
		MaxInterval:   5 * time.Second,
		BackoffFactor: 1.5,
	}}

	assert.Equal(t, 1500*time.Millisecond, d.backoff(time.Second))
	assert.Equal(t, 5*time.Second, d.backoff(4*time.Second))
	assert.Equal(t, 5*time.Second, d.backoff(5*time.Second))

	d.config.BackoffFactor = 1
	assert.Equal(t, time.Second, d.backoff(time.Second))
}

func TestBuildRequest(t *testing.T) {
	config := &domain.TaskConfig{
		URL:     "https://example.com/img/logo.png?size=2",
		Title:   "logo",
		Mode:    domain.ModeForeground,
		Saveas:  "/tmp/logo.png",
		Begins:  10,
		Ends:    99,
		Headers: map[string]string{"X-Token": "t"},
		Roaming: true,
	}

	req := buildRequest(config, domain.ConnectivityWifi)
	assert.Equal(t, "image/png", req.MimeType)
	assert.Equal(t, "bytes=10-99", req.Headers["Range"])
	assert.Equal(t, "t", req.Headers["X-Token"])
	assert.Equal(t, domain.VisibilityVisible, req.Visibility)
	assert.True(t, req.AllowedOverMetered)
	assert.True(t, req.AllowedOverRoaming)
	assert.Equal(t, "/tmp/logo.png", req.Destination)
	_, ok := config.Headers["Range"]
	assert.False(t, ok)

	config.Mode = domain.ModeBackground
	config.Ends = 0
	req = buildRequest(config, domain.ConnectivityCellular)
	assert.Equal(t, "bytes=10-", req.Headers["Range"])
	assert.Equal(t, domain.VisibilityVisibleNotifyComplete, req.Visibility)
	assert.False(t, req.AllowedOverMetered)

	config.Begins = 0
	config.URL = "https://example.com/download"
	req = buildRequest(config, domain.ConnectivityCellular)
	assert.NotContains(t, req.Headers, "Range")
	assert.Empty(t, req.MimeType)
}

func TestNetworkAllowed(t *testing.T) {
	tests := []struct {
		network      domain.Network
		connectivity domain.Connectivity
		want         bool
	}{
		{domain.NetworkAny, domain.ConnectivityWifi, true},
		{domain.NetworkAny, domain.ConnectivityCellular, true},
		{domain.NetworkWifi, domain.ConnectivityWifi, true},
		{domain.NetworkWifi, domain.ConnectivityCellular, false},
		{domain.NetworkCellular, domain.ConnectivityWifi, false},
		{domain.NetworkCellular, domain.ConnectivityCellular, true},
		{domain.NetworkAny, domain.ConnectivityNone, false},
	}

	for _, tt := range tests {
		config := &domain.TaskConfig{Network: tt.network}
		assert.Equal(t, tt.want, networkAllowed(config, tt.connectivity), "network %d on %s", tt.network, tt.connectivity)
	}
}
