// Package scheduler runs deferred jobs at or after their run time.
//
// Jobs are keyed by ID: registering an ID that is already pending replaces it.
// Every registration is persisted through a Store before it enters the in-memory
// heap, and Start reloads whatever the store still holds, so pending jobs survive
// a restart. A single worker drains the heap; jobs never run concurrently with
// each other.
//
// Before a job runs, the worker claims it in the store by ID and Token. A claim
// that fails because the job was re-registered in the meantime drops the stale
// entry, which gives each registration at most one execution.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/deferred-wallet/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrUnknownKind    = errors.New("scheduler: no handler registered for job kind")
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Job is one deferred unit of work. Kind selects the registered Handler.
type Job struct {
	ID    string
	Kind  string
	Token string
	RunAt time.Time
}

// Handler executes the job identified by jobID.
type Handler func(ctx context.Context, jobID string) error

// Store persists pending jobs.
type Store interface {
	Save(ctx context.Context, job Job) error
	Claim(ctx context.Context, id, token string) (bool, error)
	Load(ctx context.Context) ([]Job, error)
}

type Option func(*Scheduler)

// WithRetryDelay sets how long a job waits before another claim attempt after a store error.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.retryDelay = d }
}

type Scheduler struct {
	store      Store
	log        *zap.SugaredLogger
	retryDelay time.Duration

	// saveMu orders store writes and heap updates, so the queued token is always the stored one.
	saveMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]Handler
	queue    jobQueue
	index    map[string]*item
	started  bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(store Store, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		log:        log,
		retryDelay: time.Second,
		handlers:   make(map[string]Handler),
		index:      make(map[string]*item),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register binds a handler to a job kind. Call before Start.
func (s *Scheduler) Register(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule persists the job and queues it, replacing any pending job with the same ID.
func (s *Scheduler) Schedule(ctx context.Context, id, kind string, runAt time.Time) error {
	s.mu.Lock()
	_, ok := s.handlers[kind]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	job := Job{ID: id, Kind: kind, Token: uuid.NewString(), RunAt: runAt}
	s.saveMu.Lock()
	if err := s.store.Save(ctx, job); err != nil {
		s.saveMu.Unlock()
		return fmt.Errorf("persist job %s: %w", id, err)
	}
	s.mu.Lock()
	s.enqueueLocked(job)
	s.mu.Unlock()
	s.saveMu.Unlock()
	s.notify()

	s.log.Infow("job scheduled", "job_id", id, "kind", kind, "run_at", runAt)
	return nil
}

// Start reloads persisted jobs and launches the worker. The worker exits when
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	jobs, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	restored := 0
	for _, j := range jobs {
		if _, ok := s.handlers[j.Kind]; !ok {
			s.log.Warnw("skipping persisted job with unknown kind", "job_id", j.ID, "kind", j.Kind)
			continue
		}
		s.enqueueLocked(j)
		restored++
	}
	s.started = true
	s.mu.Unlock()

	s.log.Infow("scheduler started", "restored_jobs", restored)
	go s.run(ctx)
	return nil
}

// Stop signals the worker and waits for an in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
	if started {
		<-s.done
	}
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// RunAt reports when the pending job with the given ID will fire.
func (s *Scheduler) RunAt(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.index[id]
	if !ok {
		return time.Time{}, false
	}
	return it.job.RunAt, true
}

func (s *Scheduler) enqueueLocked(job Job) {
	if it, ok := s.index[job.ID]; ok {
		it.job = job
		heap.Fix(&s.queue, it.index)
	} else {
		it := &item{job: job}
		heap.Push(&s.queue, it)
		s.index[job.ID] = it
	}
	metrics.JobsPending.Set(float64(s.queue.Len()))
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	// in-flight jobs finish even when ctx is cancelled
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		due, wait, empty := s.next()
		if due != nil {
			s.fire(jobCtx, *due)
			continue
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if !empty {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-timerC:
		case <-s.wake:
		case <-s.stop:
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// next pops the earliest job if it is due, otherwise returns how long to wait.
func (s *Scheduler) next() (*Job, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil, 0, true
	}
	head := s.queue[0]
	if wait := time.Until(head.job.RunAt); wait > 0 {
		return nil, wait, false
	}
	it := heap.Pop(&s.queue).(*item)
	delete(s.index, it.job.ID)
	metrics.JobsPending.Set(float64(s.queue.Len()))
	return &it.job, 0, false
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	claimed, err := s.store.Claim(ctx, job.ID, job.Token)
	if err != nil {
		s.log.Errorw("claim job failed, retrying", "job_id", job.ID, "error", err)
		s.retry(job)
		return
	}
	if !claimed {
		s.log.Infow("job superseded, skipping", "job_id", job.ID)
		metrics.JobsRun.WithLabelValues(job.Kind, "skipped").Inc()
		return
	}

	s.mu.Lock()
	h := s.handlers[job.Kind]
	s.mu.Unlock()

	metrics.JobLag.Observe(time.Since(job.RunAt).Seconds())
	if err := invoke(ctx, h, job.ID); err != nil {
		s.log.Errorw("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
		metrics.JobsRun.WithLabelValues(job.Kind, "error").Inc()
		return
	}
	s.log.Infow("job done", "job_id", job.ID, "kind", job.Kind)
	metrics.JobsRun.WithLabelValues(job.Kind, "ok").Inc()
}

// retry re-queues a job whose claim errored, unless it was replaced meanwhile.
func (s *Scheduler) retry(job Job) {
	s.mu.Lock()
	if _, replaced := s.index[job.ID]; !replaced {
		job.RunAt = time.Now().Add(s.retryDelay)
		s.enqueueLocked(job)
	}
	s.mu.Unlock()
}

func invoke(ctx context.Context, h Handler, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, id)
}
