package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OperationType enumerates the scrape operations the worker understands.
// The set is closed; anything else is rejected at submission.
type OperationType string

const (
	OperationSearchUser OperationType = "search_user"
	OperationFollowing  OperationType = "following"
	OperationFollowers  OperationType = "followers"
	OperationTimeline   OperationType = "timeline"
)

// ParseOperationType validates a wire string against the closed operation set.
func ParseOperationType(s string) (OperationType, error) {
	switch op := OperationType(strings.ToLower(strings.TrimSpace(s))); op {
	case OperationSearchUser, OperationFollowing, OperationFollowers, OperationTimeline:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation type: %q", s)
	}
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSuccess    TaskStatus = "SUCCESS"
	TaskStatusFailure    TaskStatus = "FAILURE"
)

// Terminal reports whether no further status transitions are permitted.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailure
}

// Parameters carries the arguments of a scrape operation. Which fields are
// meaningful depends on the operation type: search_user uses Query+Limit,
// following/followers use Username+Limit, timeline uses Username+Count.
type Parameters struct {
	Query           string `json:"query,omitempty"`
	Username        string `json:"username,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Count           int    `json:"count,omitempty"`
	IncludeAnalysis bool   `json:"include_analysis,omitempty"`
}

// Task is the externally visible snapshot of a scraping task. Once a task_id
// has been handed out it always resolves to one of these via polling.
type Task struct {
	TaskID        string          `json:"task_id"`
	OperationType OperationType   `json:"operation_type"`
	Parameters    Parameters      `json:"parameters"`
	Status        TaskStatus      `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	ResultSize    int             `json:"result_size,omitempty"`
	ExecutionTime float64         `json:"execution_time,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Cached        bool            `json:"cached,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// TaskResponse is returned by the asynchronous submission endpoints (202).
type TaskResponse struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	StatusURL  string     `json:"status_url"`
	Parameters Parameters `json:"parameters"`
}

// StandardResponse is the common envelope for all API responses.
type StandardResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
