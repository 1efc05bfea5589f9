package timer

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a task run repeatedly at a fixed interval
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
	nextRun  time.Time
	running  atomic.Bool
	index    int // index in the heap (for heap.Interface)
}

// jobHeap is a min-heap of Jobs ordered by next run time
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].nextRun.Before(h[j].nextRun)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[0 : n-1]
	return job
}

// Scheduler runs recurring jobs from a min-heap of next run times
type Scheduler struct {
	heap    jobHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	jobs    map[string]*Job
	runWg   sync.WaitGroup
	loopWg  sync.WaitGroup
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:   make(jobHeap, 0),
		wakeup: make(chan struct{}, 1),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&s.heap)
	return s
}

// Every registers run to execute now and then every interval. A job whose
// previous run is still in progress skips that tick.
func (s *Scheduler) Every(name string, interval time.Duration, run func(ctx context.Context)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	// Replace existing job with same name
	if existing, ok := s.jobs[name]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.jobs, name)
	}

	job := &Job{
		Name:     name,
		Interval: interval,
		Run:      run,
		nextRun:  time.Now(),
	}
	heap.Push(&s.heap, job)
	s.jobs[name] = job

	if s.heap[0] == job {
		s.notify()
	}

	return nil
}

// Cancel removes a job. A run already in progress finishes.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, job.index)
	delete(s.jobs, name)
	return true
}

// Start starts the scheduling loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	s.loopWg.Add(1)
	go s.run()
}

// Stop halts scheduling, cancels the context passed to running jobs and
// waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.loopWg.Wait()
	s.runWg.Wait()
}

func (s *Scheduler) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.loopWg.Done()

	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		waitDuration := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			waitDuration = time.Until(next.nextRun)

			if waitDuration <= 0 {
				s.dispatch(next)

				// Reschedule from the planned time so runs do not drift
				next.nextRun = next.nextRun.Add(next.Interval)
				if now := time.Now(); next.nextRun.Before(now) {
					next.nextRun = now.Add(next.Interval)
				}
				heap.Fix(&s.heap, next.index)

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// dispatch must be called with s.mu held
func (s *Scheduler) dispatch(job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		return
	}

	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		defer job.running.Store(false)
		job.Run(s.ctx)
	}()
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := 0
	for _, job := range s.jobs {
		if job.running.Load() {
			running++
		}
	}

	return SchedulerStats{
		Jobs:    len(s.jobs),
		Running: running,
	}
}

// SchedulerStats contains statistics about the scheduler
type SchedulerStats struct {
	Jobs    int
	Running int
}

var (
	ErrSchedulerStopped = &TimerError{"scheduler is stopped"}
	ErrInvalidInterval  = &TimerError{"interval must be positive"}
)

// TimerError represents a scheduler error
type TimerError struct {
	msg string
}

func (e *TimerError) Error() string {
	return e.msg
}
