package app

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// PollScheduler runs posted jobs one at a time on a single goroutine in due
// time order. Jobs are keyed by task id so that all pending work of a task
// can be dropped at once.
type PollScheduler struct {
	logger *zap.Logger

	mu       sync.Mutex
	queue    jobQueue
	seq      uint64
	running  bool
	wake     chan struct{}
	stopChan chan struct{}
	workerWg sync.WaitGroup
	now      func() time.Time
}

type scheduledJob struct {
	at   time.Time
	seq  uint64
	key  int64
	fn   func()
	done chan struct{} // closed once fn ran or was dropped
}

// NewPollScheduler creates a stopped scheduler
func NewPollScheduler(logger *zap.Logger) *PollScheduler {
	return &PollScheduler{
		logger: logger,
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Start starts the scheduler goroutine
func (s *PollScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("poll scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.workerWg.Add(1)
	go s.loop(s.stopChan)
	return nil
}

// Stop stops the scheduler and drops every queued job
func (s *PollScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("poll scheduler not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.workerWg.Wait()

	s.mu.Lock()
	for _, job := range s.queue {
		job.release()
	}
	s.queue = nil
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the scheduler goroutine is running
func (s *PollScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PostDelayed queues fn to run after delay
func (s *PollScheduler) PostDelayed(key int64, delay time.Duration, fn func()) error {
	_, err := s.post(key, delay, fn, false)
	return err
}

// RunNow queues fn ahead of every job that is not yet due and waits until
// it has run. It must not be called from a scheduled job.
func (s *PollScheduler) RunNow(key int64, fn func()) error {
	done, err := s.post(key, 0, fn, true)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (s *PollScheduler) post(key int64, delay time.Duration, fn func(), wait bool) (chan struct{}, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, domain.ErrSchedulerShutdown
	}

	s.seq++
	job := &scheduledJob{at: s.now().Add(delay), seq: s.seq, key: key, fn: fn}
	if wait {
		job.done = make(chan struct{})
	}
	heap.Push(&s.queue, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return job.done, nil
}

// Remove drops every queued job of key and returns how many were dropped.
// A job that is already running is not affected.
func (s *PollScheduler) Remove(key int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	removed := 0
	for _, job := range s.queue {
		if job.key == key {
			job.release()
			removed++
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	heap.Init(&s.queue)
	return removed
}

// Pending returns whether key has queued jobs
func (s *PollScheduler) Pending(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.queue {
		if job.key == key {
			return true
		}
	}
	return false
}

func (s *PollScheduler) loop(stop chan struct{}) {
	defer s.workerWg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next *scheduledJob
		wait := time.Hour
		if len(s.queue) > 0 {
			if d := s.queue[0].at.Sub(s.now()); d <= 0 {
				next = heap.Pop(&s.queue).(*scheduledJob)
			} else {
				wait = d
			}
		}
		s.mu.Unlock()

		if next != nil {
			s.execute(next)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *PollScheduler) execute(job *scheduledJob) {
	defer job.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked", zap.Int64("tid", job.key), zap.Any("panic", r))
		}
	}()
	job.fn()
}

func (j *scheduledJob) release() {
	if j.done != nil {
		close(j.done)
	}
}

// jobQueue is a min-heap ordered by due time, then by post order
type jobQueue []*scheduledJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x interface{}) { *q = append(*q, x.(*scheduledJob)) }

func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return job
}
