package queue

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

// Priority orders posting jobs. Higher values execute first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name for logging
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Action performs the deferred publish or side effect of a job
type Action func(ctx context.Context) error

// Job is one outbound protocol write waiting its turn
type Job struct {
	ID         string
	Kind       string // "reply", "post", "reaction", "repost", "quote", "dm", "contact_list", "mute_list"
	Priority   Priority
	Mention    bool // mention replies get shortened spacing
	EnqueuedAt time.Time
	Metadata   map[string]string
	Action     Action

	done chan error
	seq  uint64
}

// Done resolves when the job has executed (or the queue shut down). The
// value is the action's error, nil on success.
func (j *Job) Done() <-chan error {
	return j.done
}

// Queue is the single global backpressure point for all outbound writes.
// One worker executes jobs highest-priority-first with a randomized
// minimum spacing between any two executions.
type Queue struct {
	cfg *config.Queue
	log *ops.Logger

	mu   sync.Mutex
	jobs jobHeap
	seq  uint64
	wake chan struct{}

	lastExec time.Time
	rng      *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a posting queue
func New(ctx context.Context, cfg *config.Queue, log *ops.Logger) *Queue {
	qctx, cancel := context.WithCancel(ctx)
	return &Queue{
		cfg:    cfg,
		log:    log.WithComponent("queue"),
		wake:   make(chan struct{}, 1),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    qctx,
		cancel: cancel,
	}
}

// Start launches the worker loop
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop cancels the worker and resolves any pending jobs with ctx.Err()
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.jobs.Len() > 0 {
		job := heap.Pop(&q.jobs).(*Job)
		job.done <- q.ctx.Err()
		close(job.done)
	}
}

// Enqueue adds a job and returns it with its completion channel armed
func (q *Queue) Enqueue(job *Job) *Job {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	job.done = make(chan error, 1)

	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	heap.Push(&q.jobs, job)
	pending := q.jobs.Len()
	q.mu.Unlock()

	q.log.Debug("job enqueued",
		"kind", job.Kind,
		"priority", job.Priority.String(),
		"pending", pending)

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return job
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		job := q.peek()
		if job == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if !q.waitSpacing(job) {
			return
		}

		// Re-pop after the wait: a higher-priority job may have arrived.
		job = q.pop()
		if job == nil {
			continue
		}

		waited := time.Since(job.EnqueuedAt)
		err := job.Action(q.ctx)
		q.mu.Lock()
		q.lastExec = time.Now()
		q.mu.Unlock()

		// Failures are consumed, never retried here. The connection
		// manager owns transport-level recovery.
		q.log.LogQueueExecution(job.Kind, job.Priority.String(), waited, err)

		job.done <- err
		close(job.done)
	}
}

// waitSpacing blocks until the required gap since the last execution has
// passed. Returns false on shutdown.
func (q *Queue) waitSpacing(job *Job) bool {
	q.mu.Lock()
	last := q.lastExec
	spacing := q.spacingFor(job)
	q.mu.Unlock()

	if last.IsZero() {
		return true
	}

	remaining := time.Until(last.Add(spacing))
	if remaining <= 0 {
		return true
	}

	select {
	case <-q.ctx.Done():
		return false
	case <-time.After(remaining):
		return true
	}
}

// spacingFor picks a randomized delay in [min,max]. Mention jobs keep only
// the configured boost fraction of it, but never less than the absolute
// minimum.
func (q *Queue) spacingFor(job *Job) time.Duration {
	minDelay := time.Duration(q.cfg.MinDelaySeconds) * time.Second
	maxDelay := time.Duration(q.cfg.MaxDelaySeconds) * time.Second

	spread := maxDelay - minDelay
	spacing := minDelay
	if spread > 0 {
		spacing += time.Duration(q.rng.Int63n(int64(spread)))
	}

	if job.Mention {
		boosted := time.Duration(float64(spacing) * q.cfg.MentionBoostFactor)
		if boosted < minDelay {
			boosted = minDelay
		}
		spacing = boosted
	}

	return spacing
}

func (q *Queue) peek() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Len() == 0 {
		return nil
	}
	return q.jobs[0]
}

func (q *Queue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.jobs).(*Job)
}

// jobHeap orders by priority descending, then arrival order
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*Job))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
