package jobserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/cache"
	"github.com/scrapeworks/osint-worker/internal/scraper"
	"github.com/scrapeworks/osint-worker/internal/session"
)

func (js *JobServer) workerLoop(ctx context.Context, worker int) {
	logrus.Debugf("Worker %d started", worker)
	for {
		j, err := js.queue.Dequeue(ctx)
		if err != nil {
			logrus.Debugf("Worker %d stopping: %v", worker, err)
			return
		}
		js.executeJob(ctx, j)
	}
}

// executeJob runs one queued job end to end: claim the durable row,
// scrape under the job timeout, cache the payload and record the
// terminal status. At-least-once delivery means the claim can fail for
// redelivered or reaped jobs; those are dropped silently.
func (js *JobServer) executeJob(ctx context.Context, j *job) {
	log := logrus.WithFields(logrus.Fields{
		"task_id":   j.TaskID,
		"operation": j.Operation,
	})

	claimed, err := js.store.ClaimTask(ctx, j.TaskID, time.Now().UTC().Add(js.leaseTimeout))
	if err != nil {
		log.Errorf("Failed to claim task: %v", err)
		return
	}
	if !claimed {
		log.Debug("Task already claimed or resolved, skipping")
		return
	}

	start := time.Now()
	result, err := js.scrape(ctx, j)
	elapsed := time.Since(start).Seconds()

	if err == nil && result == nil {
		err = fmt.Errorf("driver returned no result")
	}
	if err != nil {
		message := failureMessage(err)
		log.WithField("execution_time", elapsed).Warnf("Task failed: %s", message)
		js.completeTask(ctx, j, types.TaskStatusFailure, nil, 0, elapsed, message)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		js.completeTask(ctx, j, types.TaskStatusFailure, nil, 0, elapsed,
			fmt.Sprintf("%s: failed to encode result: %v", KindUnexpected, err))
		return
	}

	// Cache before the terminal transition so a SUCCESS status always
	// implies the payload was accepted by the cache.
	js.cache.Put(j.Fingerprint, payload, cache.ClassFor(j.Operation))
	log.WithFields(logrus.Fields{
		"execution_time": elapsed,
		"result_size":    result.Size(),
	}).Info("Task succeeded")
	js.completeTask(ctx, j, types.TaskStatusSuccess, payload, result.Size(), elapsed, "")
}

func (js *JobServer) completeTask(ctx context.Context, j *job, status types.TaskStatus, payload json.RawMessage, size int, elapsed float64, message string) {
	completed, err := js.store.CompleteTask(ctx, j.TaskID, status, payload, size, elapsed, message)
	if err != nil {
		logrus.WithField("task_id", j.TaskID).Errorf("Failed to record terminal status: %v", err)
	} else if !completed {
		// Lost the race against the reaper; the recorded FAILURE stands.
		logrus.WithField("task_id", j.TaskID).Warn("Task already resolved, result discarded")
	}
	js.finishTask(j.TaskID, j.Fingerprint)
}

// scrape resolves an authenticated session and runs the operation
// under the configured job timeout. A rejected session is invalidated
// and retried once behind a fresh login.
func (js *JobServer) scrape(ctx context.Context, j *job) (*scraper.Result, error) {
	credential, err := js.pickCredential(ctx)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, js.jobTimeout)
	defer cancel()

	blob, err := js.resolveSession(jobCtx, credential)
	if err != nil {
		return nil, err
	}

	result, err := js.driver.Scrape(jobCtx, blob, j.Operation, j.Parameters)
	if errors.Is(err, scraper.ErrAuthenticationFailure) {
		logrus.WithField("credential", credential).Warn("Session rejected upstream, re-authenticating")
		if ierr := js.sessions.Invalidate(credential); ierr != nil {
			logrus.WithField("credential", credential).Errorf("Failed to invalidate session: %v", ierr)
		}
		blob, err = js.login(jobCtx, credential)
		if err != nil {
			return nil, err
		}
		result, err = js.driver.Scrape(jobCtx, blob, j.Operation, j.Parameters)
	}
	if err != nil {
		if jobCtx.Err() != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", scraper.ErrExecutionTimeout, js.jobTimeout, err)
		}
		return nil, err
	}
	return result, nil
}

// resolveSession reuses a cached session when one exists, otherwise
// performs a fresh login and persists the resulting blob.
func (js *JobServer) resolveSession(ctx context.Context, credential string) (json.RawMessage, error) {
	sess, err := js.sessions.Load(credential)
	if err == nil {
		return sess.Blob, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	return js.login(ctx, credential)
}

func (js *JobServer) login(ctx context.Context, credential string) (json.RawMessage, error) {
	username, secret, err := js.credentials.Reveal(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scraper.ErrAuthenticationFailure, err)
	}

	blob, err := js.driver.Login(ctx, username, secret)
	js.credentials.RecordLoginOutcome(ctx, credential, err == nil)
	if err != nil {
		return nil, err
	}

	if err := js.sessions.Save(credential, blob); err != nil {
		// A session that cannot be persisted is still usable for this job.
		logrus.WithField("credential", credential).Errorf("Failed to persist session: %v", err)
	}
	return blob, nil
}

// VerifyCredential performs a direct login with a stored credential,
// recording the outcome on its health counters. On success the fresh
// session replaces any cached one.
func (js *JobServer) VerifyCredential(ctx context.Context, name string) error {
	if err := js.sessions.Invalidate(name); err != nil {
		logrus.WithField("credential", name).Errorf("Failed to invalidate session: %v", err)
	}
	loginCtx, cancel := context.WithTimeout(ctx, js.jobTimeout)
	defer cancel()
	_, err := js.login(loginCtx, name)
	return err
}

// pickCredential selects the credential the executor scrapes with: the
// configured one when set, otherwise the first active registered one.
func (js *JobServer) pickCredential(ctx context.Context) (string, error) {
	if js.credential != "" {
		return js.credential, nil
	}
	views, err := js.credentials.List(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %v", KindUnexpected, err)
	}
	for _, v := range views {
		if v.IsActive {
			return v.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no active credential registered", scraper.ErrAuthenticationFailure)
}

// failureMessage renders an execution error with its taxonomy kind as
// the message prefix, so the kind survives the round trip through the
// error_message column.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, scraper.ErrAuthenticationFailure):
		return prefixed(KindAuthentication, err)
	case errors.Is(err, scraper.ErrUpstreamRateLimited):
		return prefixed(KindRateLimited, err)
	case errors.Is(err, scraper.ErrExecutionTimeout):
		return prefixed(KindTimeout, err)
	default:
		return fmt.Sprintf("%s: %v", KindUnexpected, err)
	}
}

func prefixed(kind string, err error) string {
	msg := err.Error()
	if len(msg) >= len(kind) && msg[:len(kind)] == kind {
		return msg
	}
	return fmt.Sprintf("%s: %v", kind, err)
}
