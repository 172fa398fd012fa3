package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrapeworks/osint-worker/api/types"
)

// ErrTaskFailed is returned by Get when the task reached FAILURE; the
// recorded message is attached.
var ErrTaskFailed = errors.New("task failed")

// TaskHandle tracks a submitted task.
type TaskHandle struct {
	TaskID     string
	maxRetries int
	delay      time.Duration
	client     *Client
}

func (h *TaskHandle) SetMaxRetries(maxRetries int) {
	h.maxRetries = maxRetries
}

func (h *TaskHandle) SetDelay(delay time.Duration) {
	h.delay = delay
}

// Get polls the server until the task reaches a terminal status or the
// retry budget runs out.
func (h *TaskHandle) Get(ctx context.Context) (*types.Task, error) {
	for retries := 0; retries < h.maxRetries; retries++ {
		task, err := h.client.GetTask(ctx, h.TaskID)
		if err != nil {
			return nil, err
		}
		if task.Status == types.TaskStatusSuccess {
			return task, nil
		}
		if task.Status == types.TaskStatusFailure {
			return task, fmt.Errorf("%w: %s", ErrTaskFailed, task.ErrorMessage)
		}

		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("task %s still running after %d polls", h.TaskID, h.maxRetries)
}
