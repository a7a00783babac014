package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memRepo implements domain.TaskRepository in memory for testing
type memRepo struct {
	mu      sync.Mutex
	next    int64
	tasks   map[int64]*domain.Task
	configs map[int64]*domain.TaskConfig
	updates int
}

func newMemRepo() *memRepo {
	return &memRepo{
		tasks:   make(map[int64]*domain.Task),
		configs: make(map[int64]*domain.TaskConfig),
	}
}

func (m *memRepo) Insert(config *domain.TaskConfig) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	now := time.Now().UnixMilli()
	stored := *config
	m.configs[m.next] = &stored
	m.tasks[m.next] = &domain.Task{
		Tid:         m.next,
		Bundle:      "test",
		Saveas:      config.Saveas,
		URL:         config.URL,
		Title:       config.Title,
		Description: config.Description,
		Action:      config.Action,
		Mode:        config.Mode,
		Progress:    domain.Progress{State: domain.StateInitialized, Sizes: []int64{}},
		Ctime:       now,
		Mtime:       now,
		Faults:      domain.FaultsOthers,
		Reason:      domain.ReasonOK.String(),
		Token:       config.Token,
		Version:     config.Version,
		Retry:       config.Retry,
	}
	return m.next, nil
}

func (m *memRepo) QueryConfig(taskID int64) (*domain.TaskConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	stored := *c
	return &stored, nil
}

func (m *memRepo) Query(taskID int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (m *memRepo) QueryByToken(taskID int64, token string) (*domain.Task, error) {
	t, err := m.Query(taskID)
	if err != nil {
		return nil, err
	}
	if t.Token != token {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

func (m *memRepo) QueryAll() ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]*domain.Task, 0, len(m.tasks))
	for id := int64(1); id <= m.next; id++ {
		if t, ok := m.tasks[id]; ok {
			tasks = append(tasks, t.Clone())
		}
	}
	return tasks, nil
}

func (m *memRepo) QueryByFilter(filter domain.Filter) ([]int64, error) {
	tasks, _ := m.QueryAll()
	ids := []int64{}
	for _, t := range tasks {
		if filter.HasState() && t.State() != filter.State {
			continue
		}
		if filter.HasAction() && t.Action != filter.Action {
			continue
		}
		if filter.HasMode() && t.Mode != filter.Mode {
			continue
		}
		ids = append(ids, t.Tid)
	}
	return ids, nil
}

func (m *memRepo) Update(task *domain.Task, persistToken bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tasks[task.Tid]
	if !ok {
		return domain.ErrTaskNotFound
	}
	stored := task.Clone()
	stored.Response = nil
	if !persistToken {
		stored.Token = old.Token
	}
	m.tasks[task.Tid] = stored
	m.updates++
	return nil
}

func (m *memRepo) Delete(taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(m.tasks, taskID)
	delete(m.configs, taskID)
	return nil
}

// fakeService implements domain.DownloadService for testing
type fakeService struct {
	mu         sync.Mutex
	next       int64
	requests   map[int64]*domain.DownloadRequest
	snapshots  map[int64]domain.DownloadSnapshot
	removed    []int64
	enqueueErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		requests:  make(map[int64]*domain.DownloadRequest),
		snapshots: make(map[int64]domain.DownloadSnapshot),
	}
}

func (s *fakeService) Enqueue(req *domain.DownloadRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return 0, s.enqueueErr
	}
	s.next++
	s.requests[s.next] = req
	s.snapshots[s.next] = domain.DownloadSnapshot{Status: domain.DownloadPending, TotalBytes: -1, MimeType: req.MimeType}
	return s.next, nil
}

func (s *fakeService) Query(handle int64) (domain.DownloadSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[handle]
	return snapshot, ok, nil
}

func (s *fakeService) Remove(handle int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, handle)
	s.removed = append(s.removed, handle)
	return nil
}

func (s *fakeService) MimeType(handle int64) string {
	snapshot, _, _ := s.Query(handle)
	return snapshot.MimeType
}

func (s *fakeService) set(handle int64, snapshot domain.DownloadSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[handle] = snapshot
}

func (s *fakeService) request(handle int64) *domain.DownloadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[handle]
}

func (s *fakeService) removedHandles() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.removed...)
}

// fakeNetwork implements domain.NetworkMonitor for testing
type fakeNetwork struct {
	mu      sync.Mutex
	current domain.Connectivity
}

func (n *fakeNetwork) Current() domain.Connectivity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *fakeNetwork) set(c domain.Connectivity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = c
}

// fakeProber implements domain.Prober for testing
type fakeProber struct {
	mu     sync.Mutex
	status int
	err    error
	calls  int
}

func (p *fakeProber) Probe(ctx context.Context, url string, headers map[string]string) (*domain.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Response{
		Version:    "HTTP/1.1",
		StatusCode: p.status,
		Reason:     "OK",
		Headers:    map[string][]string{"Accept-Ranges": {"bytes"}},
	}, nil
}

type recordedEvent struct {
	tid   int64
	event domain.EventType
	info  string
}

// recordingSink implements domain.CallbackSink for testing
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) OnRequestCallback(taskID int64, event domain.EventType, info string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{tid: taskID, event: event, info: info})
}

func (r *recordingSink) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.event)
	}
	return types
}

func (r *recordingSink) last(t *testing.T) *domain.Task {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	task, err := domain.DecodeTask(r.events[len(r.events)-1].info)
	require.NoError(t, err)
	return task
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type driverHarness struct {
	repo      *memRepo
	service   *fakeService
	network   *fakeNetwork
	prober    *fakeProber
	sink      *recordingSink
	scheduler *PollScheduler
	driver    *DownloadDriver
}

// newHarness wires a driver to fakes. The poll interval is long enough that
// polls only run when a test calls Refresh.
func newHarness(t *testing.T) *driverHarness {
	t.Helper()
	h := &driverHarness{
		repo:      newMemRepo(),
		service:   newFakeService(),
		network:   &fakeNetwork{current: domain.ConnectivityWifi},
		prober:    &fakeProber{status: 200},
		sink:      &recordingSink{},
		scheduler: NewPollScheduler(zap.NewNop()),
	}
	require.NoError(t, h.scheduler.Start())
	t.Cleanup(func() { h.scheduler.Stop() })

	config := &domain.PollConfig{
		Interval:        time.Hour,
		MaxInterval:     time.Hour,
		BackoffFactor:   1,
		MaxPendingPolls: 3,
		MaxRetries:      3,
	}
	h.driver = NewDownloadDriver(h.repo, h.service, h.network, h.prober, h.sink, h.scheduler, config, time.Second, zap.NewNop())
	return h
}

func (h *driverHarness) create(t *testing.T, mutate func(*domain.TaskConfig)) *domain.Task {
	t.Helper()
	config := &domain.TaskConfig{
		Action: domain.ActionDownload,
		URL:    "https://example.com/f.json",
		Saveas: "/tmp/f.json",
		Title:  "f",
	}
	if mutate != nil {
		mutate(config)
	}
	tid, err := h.repo.Insert(config)
	require.NoError(t, err)
	return h.load(t, tid)
}

func (h *driverHarness) load(t *testing.T, tid int64) *domain.Task {
	t.Helper()
	task, err := h.repo.Query(tid)
	require.NoError(t, err)
	return task
}

// start brings a fresh task to RUNNING and clears the recorded events
func (h *driverHarness) start(t *testing.T, mutate func(*domain.TaskConfig)) *domain.Task {
	t.Helper()
	task := h.create(t, mutate)
	require.NoError(t, h.driver.StartDownload(context.Background(), task))
	h.sink.reset()
	return h.load(t, task.Tid)
}

var errEnqueue = errors.New("enqueue refused")
