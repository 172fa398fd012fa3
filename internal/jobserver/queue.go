package jobserver

import (
	"context"
	"sync"

	"github.com/scrapeworks/osint-worker/api/types"
)

// job is the unit of work handed from Submit to the executor pool.
// The durable task row is the source of truth; the queue entry only
// tells a worker which row to claim.
type job struct {
	TaskID      string
	Operation   types.OperationType
	Parameters  types.Parameters
	Fingerprint string
}

// jobQueue is a bounded FIFO handoff between Submit and the workers.
// Enqueue never blocks: a full queue is reported to the caller instead
// of stalling the API goroutine.
type jobQueue struct {
	jobs chan *job

	mu     sync.Mutex
	closed bool
}

func newJobQueue(capacity int) *jobQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &jobQueue{jobs: make(chan *job, capacity)}
}

func (q *jobQueue) Enqueue(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job is available, the queue is drained and
// closed, or ctx is cancelled.
func (q *jobQueue) Dequeue(ctx context.Context) (*job, error) {
	select {
	case j, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return j, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *jobQueue) Len() int {
	return len(q.jobs)
}

// Close rejects further enqueues. Queued jobs remain consumable so
// workers can drain before shutdown.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
