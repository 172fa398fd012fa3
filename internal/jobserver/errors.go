package jobserver

import (
	"errors"
	"strings"
)

var (
	// ErrValidation wraps all request validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrTaskNotFound is returned by Status for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAwaitTimeout is returned by AwaitSync when the task does not
	// reach a terminal status within the caller's deadline. The task
	// keeps running in the background.
	ErrAwaitTimeout = errors.New("task did not complete within the deadline")

	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// orphanMessage is the error_message recorded on tasks whose lease
// expired before the claiming worker completed them.
const orphanMessage = "orphaned task: lease expired before completion"

// Failure kinds surfaced in error_message prefixes. They let callers
// (and the HTTP layer) classify a failure without a dedicated column.
const (
	KindAuthentication = "authentication failure"
	KindRateLimited    = "upstream rate limited"
	KindTimeout        = "execution timeout"
	KindOrphaned       = "orphaned task"
	KindUnexpected     = "unexpected error"
)

// ErrorKind classifies a recorded failure message into one of the Kind
// constants. Unknown messages map to KindUnexpected.
func ErrorKind(message string) string {
	for _, kind := range []string{KindAuthentication, KindRateLimited, KindTimeout, KindOrphaned} {
		if strings.HasPrefix(message, kind) {
			return kind
		}
	}
	return KindUnexpected
}
