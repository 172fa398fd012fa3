package jobserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/cache"
	"github.com/scrapeworks/osint-worker/internal/config"
	"github.com/scrapeworks/osint-worker/internal/scraper"
	"github.com/scrapeworks/osint-worker/internal/session"
	"github.com/scrapeworks/osint-worker/internal/store"
	"github.com/scrapeworks/osint-worker/internal/vault"
)

// TaskStore is the durable task surface the orchestrator depends on.
// *store.Store satisfies it; tests substitute an in-memory fake.
type TaskStore interface {
	InsertTask(ctx context.Context, t *store.Task) error
	GetTask(ctx context.Context, taskID string) (*store.Task, error)
	FindActiveByFingerprint(ctx context.Context, fingerprint string) (*store.Task, error)
	ClaimTask(ctx context.Context, taskID string, leaseUntil time.Time) (bool, error)
	CompleteTask(ctx context.Context, taskID string, status types.TaskStatus, result json.RawMessage, resultSize int, executionTime float64, errorMessage string) (bool, error)
	ReapExpiredLeases(ctx context.Context, now time.Time, message string) ([]string, error)
}

// Dependencies bundles the collaborators a JobServer orchestrates.
type Dependencies struct {
	Store       TaskStore
	Credentials *vault.Vault
	Sessions    *session.Store
	Cache       *cache.Cache
	Driver      scraper.Driver
}

// JobServer owns the task lifecycle: it deduplicates submissions by
// fingerprint, persists every accepted task, and drives a bounded pool
// of executor workers over an in-process queue. Durable state lives in
// the TaskStore; the in-memory maps are only fast paths and waiters.
type JobServer struct {
	workers int
	queue   *jobQueue

	store       TaskStore
	credentials *vault.Vault
	sessions    *session.Store
	cache       *cache.Cache
	driver      scraper.Driver

	jobTimeout   time.Duration
	leaseTimeout time.Duration
	credential   string

	defaultCount int
	minCount     int
	maxCount     int

	// submitMu serializes task admission so two identical concurrent
	// submissions cannot both pass the single-flight checks.
	submitMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]string        // fingerprint -> task_id
	waiters  map[string]chan struct{} // task_id -> closed on terminal status
}

func NewJobServer(workers int, jc config.JobConfiguration, deps Dependencies) *JobServer {
	if workers <= 0 {
		workers = jc.GetInt("max_jobs", 4)
	}
	if workers <= 0 {
		workers = 1
	}

	return &JobServer{
		workers:      workers,
		queue:        newJobQueue(jc.GetInt("queue_size", 1000)),
		store:        deps.Store,
		credentials:  deps.Credentials,
		sessions:     deps.Sessions,
		cache:        deps.Cache,
		driver:       deps.Driver,
		jobTimeout:   jc.GetDuration("job_timeout_seconds", 300),
		leaseTimeout: jc.GetDuration("lease_timeout_seconds", 600),
		credential:   jc.GetString("scraper_credential", ""),
		defaultCount: jc.GetInt("default_tweet_count", 80),
		minCount:     jc.GetInt("min_tweet_count", 20),
		maxCount:     jc.GetInt("max_tweet_count", 100),
		inflight:     make(map[string]string),
		waiters:      make(map[string]chan struct{}),
	}
}

// Run starts the executor pool and the lease reaper, then blocks until
// ctx is cancelled. Queued jobs are abandoned on shutdown; their
// PENDING rows are re-submitted or reaped by a later process.
func (js *JobServer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < js.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			js.workerLoop(ctx, worker)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		js.reapLoop(ctx)
	}()

	logrus.Infof("Running job server with %d workers", js.workers)
	<-ctx.Done()
	js.queue.Close()
	wg.Wait()
}

// Submit validates a request, deduplicates it against the cache and
// any in-flight task with the same fingerprint, and otherwise persists
// a PENDING task and enqueues it for execution. The returned view is
// the task the caller should poll, which may belong to an earlier
// identical request.
func (js *JobServer) Submit(ctx context.Context, op types.OperationType, params types.Parameters) (types.Task, error) {
	normalized, err := js.validateParameters(op, params)
	if err != nil {
		return types.Task{}, err
	}
	fingerprint := cache.Fingerprint(op, normalized)

	if payload, ok := js.cache.Get(fingerprint); ok {
		return js.fulfillFromCache(ctx, op, normalized, fingerprint, payload)
	}

	js.submitMu.Lock()
	defer js.submitMu.Unlock()

	js.mu.Lock()
	taskID, inflight := js.inflight[fingerprint]
	js.mu.Unlock()
	if inflight {
		return js.Status(ctx, taskID)
	}

	// The in-memory index is empty after a restart; the durable index
	// still deduplicates against tasks from a previous process.
	if active, err := js.store.FindActiveByFingerprint(ctx, fingerprint); err == nil && active != nil {
		js.trackInflight(fingerprint, active.TaskID)
		return active.View(), nil
	}

	task := &store.Task{
		TaskID:        uuid.New().String(),
		OperationType: op,
		Parameters:    normalized,
		Fingerprint:   fingerprint,
		Status:        types.TaskStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := js.store.InsertTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another process won the unique fingerprint index race.
			if active, ferr := js.store.FindActiveByFingerprint(ctx, fingerprint); ferr == nil && active != nil {
				js.trackInflight(fingerprint, active.TaskID)
				return active.View(), nil
			}
		}
		return types.Task{}, fmt.Errorf("failed to persist task: %w", err)
	}
	js.trackInflight(fingerprint, task.TaskID)

	if err := js.queue.Enqueue(&job{
		TaskID:      task.TaskID,
		Operation:   op,
		Parameters:  normalized,
		Fingerprint: fingerprint,
	}); err != nil {
		// The row is already durable, so resolve it rather than leaving
		// a PENDING task nothing will ever pick up.
		js.failUnstarted(ctx, task.TaskID, fingerprint, fmt.Sprintf("%s: %v", KindUnexpected, err))
		return types.Task{}, err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":   task.TaskID,
		"operation": op,
	}).Info("Task accepted")
	return task.View(), nil
}

// fulfillFromCache records a synthesized SUCCESS task for a cache hit
// so the result remains addressable by task_id like any other.
func (js *JobServer) fulfillFromCache(ctx context.Context, op types.OperationType, params types.Parameters, fingerprint string, payload json.RawMessage) (types.Task, error) {
	now := time.Now().UTC()
	task := &store.Task{
		TaskID:        uuid.New().String(),
		OperationType: op,
		Parameters:    params,
		Fingerprint:   fingerprint,
		Status:        types.TaskStatusSuccess,
		Result:        payload,
		ResultSize:    resultSizeOf(payload),
		Cached:        true,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	if err := js.store.InsertTask(ctx, task); err != nil {
		return types.Task{}, fmt.Errorf("failed to persist cached task: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"task_id":   task.TaskID,
		"operation": op,
	}).Info("Task served from result cache")
	return task.View(), nil
}

// Status returns the current view of a task.
func (js *JobServer) Status(ctx context.Context, taskID string) (types.Task, error) {
	task, err := js.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Task{}, ErrTaskNotFound
		}
		return types.Task{}, err
	}
	return task.View(), nil
}

// AwaitSync submits a task and waits for a terminal status, up to the
// given timeout. On timeout the task keeps running and the caller can
// fall back to polling its task_id.
func (js *JobServer) AwaitSync(ctx context.Context, op types.OperationType, params types.Parameters, timeout time.Duration) (types.Task, error) {
	view, err := js.Submit(ctx, op, params)
	if err != nil {
		return types.Task{}, err
	}
	if view.Status.Terminal() {
		return view, nil
	}

	done := js.waiterFor(view.TaskID)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// The waiter only fires for tasks completed by this process, so a
	// slow poll backs it up for tasks finished elsewhere.
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-done:
			return js.Status(ctx, view.TaskID)
		case <-poll.C:
			current, err := js.Status(ctx, view.TaskID)
			if err != nil {
				return types.Task{}, err
			}
			if current.Status.Terminal() {
				return current, nil
			}
		case <-deadline.C:
			return view, ErrAwaitTimeout
		case <-ctx.Done():
			return view, ctx.Err()
		}
	}
}

// QueueDepth reports how many accepted jobs are waiting for a worker.
func (js *JobServer) QueueDepth() int {
	return js.queue.Len()
}

func (js *JobServer) trackInflight(fingerprint, taskID string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.inflight[fingerprint] = taskID
	if _, ok := js.waiters[taskID]; !ok {
		js.waiters[taskID] = make(chan struct{})
	}
}

func (js *JobServer) waiterFor(taskID string) <-chan struct{} {
	js.mu.Lock()
	defer js.mu.Unlock()
	ch, ok := js.waiters[taskID]
	if !ok {
		ch = make(chan struct{})
		js.waiters[taskID] = ch
	}
	return ch
}

// finishTask drops the single-flight entry and wakes synchronous
// waiters once a task has reached a terminal status.
func (js *JobServer) finishTask(taskID, fingerprint string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if fingerprint != "" && js.inflight[fingerprint] == taskID {
		delete(js.inflight, fingerprint)
	}
	if ch, ok := js.waiters[taskID]; ok {
		close(ch)
		delete(js.waiters, taskID)
	}
}

// failUnstarted force-fails a PENDING task that will never be executed,
// claiming it first so the terminal transition passes the status guard.
func (js *JobServer) failUnstarted(ctx context.Context, taskID, fingerprint, message string) {
	if claimed, err := js.store.ClaimTask(ctx, taskID, time.Now().Add(js.leaseTimeout)); err != nil || !claimed {
		logrus.WithField("task_id", taskID).Warn("Could not claim unstartable task for failure")
		js.finishTask(taskID, fingerprint)
		return
	}
	if _, err := js.store.CompleteTask(ctx, taskID, types.TaskStatusFailure, nil, 0, 0, message); err != nil {
		logrus.WithField("task_id", taskID).Errorf("Could not fail unstartable task: %v", err)
	}
	js.finishTask(taskID, fingerprint)
}

// resultSizeOf counts the records inside a serialized scrape result.
func resultSizeOf(payload json.RawMessage) int {
	var r scraper.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return 0
	}
	return r.Size()
}
