// Package scraper wraps the external browser-automation driver behind a
// narrow interface and normalizes what comes back.
package scraper

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/scrapeworks/osint-worker/api/types"
)

var (
	// ErrAuthenticationFailure means the upstream rejected the session or the
	// login itself. The executor invalidates the stored session before any
	// retry; resubmission needs a working credential.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrUpstreamRateLimited means the upstream throttled us. The task is not
	// retried; callers resubmit later.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")

	// ErrExecutionTimeout means the scrape exceeded its execution budget.
	ErrExecutionTimeout = errors.New("execution timeout")
)

// Driver performs the actual page interaction. Sessions cross this boundary
// only as opaque blobs; the osint-worker never inspects their contents.
type Driver interface {
	// Login authenticates with raw credentials and returns a serialized
	// session blob for reuse across jobs.
	Login(ctx context.Context, username, secret string) (json.RawMessage, error)

	// Scrape executes one operation under an existing session blob. A
	// rejected session comes back as ErrAuthenticationFailure.
	Scrape(ctx context.Context, sessionBlob json.RawMessage, op types.OperationType, p types.Parameters) (*Result, error)
}
