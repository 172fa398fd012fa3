package jobserver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// reapInterval is how often the reaper scans for expired leases. A
// fraction of the lease timeout keeps orphan detection latency well
// below one lease period.
const reapInterval = 30 * time.Second

// reapLoop periodically fails PROCESSING tasks whose lease expired,
// which happens when the claiming worker crashed or its process was
// killed mid-scrape. Reaped tasks become visible failures the caller
// can retry with a fresh submission.
func (js *JobServer) reapLoop(ctx context.Context) {
	interval := reapInterval
	if js.leaseTimeout/2 < interval {
		interval = js.leaseTimeout / 2
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			js.reapOnce(ctx)
		}
	}
}

func (js *JobServer) reapOnce(ctx context.Context) {
	reaped, err := js.store.ReapExpiredLeases(ctx, time.Now().UTC(), orphanMessage)
	if err != nil {
		logrus.Errorf("Lease reaper failed: %v", err)
		return
	}
	for _, taskID := range reaped {
		logrus.WithField("task_id", taskID).Warn("Reaped orphaned task")
		js.finishTask(taskID, "")
	}
	if len(reaped) > 0 {
		// Fingerprints of reaped tasks may still sit in the in-memory
		// single-flight index if this process claimed them; clear any
		// entry whose task just resolved.
		js.dropInflightFor(reaped)
	}
}

func (js *JobServer) dropInflightFor(taskIDs []string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	resolved := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		resolved[id] = true
	}
	for fingerprint, taskID := range js.inflight {
		if resolved[taskID] {
			delete(js.inflight, fingerprint)
		}
	}
}
