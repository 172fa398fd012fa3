package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/jobserver"
	"github.com/scrapeworks/osint-worker/internal/scraper"
	"github.com/scrapeworks/osint-worker/internal/vault"
)

// syncWaitTimeout bounds how long the synchronous endpoints block
// before telling the caller to fall back to polling the task.
const syncWaitTimeout = 60 * time.Second

// searchUsers handles GET .../search/users?q=&limit=. Async responds
// 202 with a pollable task; sync blocks until the task resolves.
func searchUsers(orchestrator Orchestrator, sync bool) func(c echo.Context) error {
	return func(c echo.Context) error {
		params := types.Parameters{Query: c.QueryParam("q")}
		if err := intQueryParam(c, "limit", &params.Limit); err != nil {
			return err
		}
		return dispatch(c, orchestrator, types.OperationSearchUser, params, sync)
	}
}

// userRelations handles the following/followers routes.
func userRelations(orchestrator Orchestrator, op types.OperationType, sync bool) func(c echo.Context) error {
	return func(c echo.Context) error {
		params := types.Parameters{Username: c.Param("username")}
		if err := intQueryParam(c, "limit", &params.Limit); err != nil {
			return err
		}
		return dispatch(c, orchestrator, op, params, sync)
	}
}

// userTimeline handles GET .../users/:username/timeline?count=&include_analysis=.
func userTimeline(orchestrator Orchestrator, sync bool) func(c echo.Context) error {
	return func(c echo.Context) error {
		params := types.Parameters{
			Username:        c.Param("username"),
			IncludeAnalysis: c.QueryParam("include_analysis") != "false",
		}
		if err := intQueryParam(c, "count", &params.Count); err != nil {
			return err
		}
		return dispatch(c, orchestrator, types.OperationTimeline, params, sync)
	}
}

func dispatch(c echo.Context, orchestrator Orchestrator, op types.OperationType, params types.Parameters, sync bool) error {
	ctx := c.Request().Context()

	if sync {
		task, err := orchestrator.AwaitSync(ctx, op, params, syncWaitTimeout)
		if err != nil {
			return errorResponse(c, err)
		}
		return syncResult(c, task)
	}

	task, err := orchestrator.Submit(ctx, op, params)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, types.TaskResponse{
		TaskID:     task.TaskID,
		Status:     task.Status,
		StatusURL:  statusURL(task.TaskID),
		Parameters: task.Parameters,
	})
}

// syncResult renders a terminal task for the synchronous endpoints:
// the payload directly on success, a classified error otherwise.
func syncResult(c echo.Context, task types.Task) error {
	if task.Status == types.TaskStatusSuccess {
		return c.JSON(http.StatusOK, types.StandardResponse{
			Status: "success",
			Data:   task,
		})
	}
	return c.JSON(failureStatusCode(task.ErrorMessage), types.APIError{
		Error: task.ErrorMessage,
		Code:  jobserver.ErrorKind(task.ErrorMessage),
	})
}

// taskStatus handles GET /tasks/:task_id.
func taskStatus(orchestrator Orchestrator) func(c echo.Context) error {
	return func(c echo.Context) error {
		task, err := orchestrator.Status(c.Request().Context(), c.Param("task_id"))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func statusURL(taskID string) string {
	return fmt.Sprintf("/api/v1/tasks/%s", taskID)
}

func intQueryParam(c echo.Context, name string, out *int) error {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	value, convErr := strconv.Atoi(raw)
	if convErr != nil {
		if err := c.JSON(http.StatusBadRequest, types.APIError{
			Error: fmt.Sprintf("%s must be an integer", name),
			Code:  "validation",
		}); err != nil {
			return err
		}
		return convErr
	}
	*out = value
	return nil
}

// errorResponse maps domain errors onto HTTP status codes.
func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, jobserver.ErrValidation):
		return c.JSON(http.StatusBadRequest, types.APIError{Error: err.Error(), Code: "validation"})
	case errors.Is(err, jobserver.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, types.APIError{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, jobserver.ErrAwaitTimeout):
		return c.JSON(http.StatusGatewayTimeout, types.APIError{Error: err.Error(), Code: "timeout"})
	case errors.Is(err, jobserver.ErrQueueFull):
		return c.JSON(http.StatusServiceUnavailable, types.APIError{Error: err.Error(), Code: "overloaded"})
	case errors.Is(err, vault.ErrDuplicateCredential):
		return c.JSON(http.StatusConflict, types.APIError{Error: err.Error(), Code: "duplicate"})
	case errors.Is(err, vault.ErrCredentialNotFound):
		return c.JSON(http.StatusNotFound, types.APIError{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, vault.ErrCredentialInactive):
		return c.JSON(http.StatusConflict, types.APIError{Error: err.Error(), Code: "inactive"})
	case errors.Is(err, vault.ErrNoMasterKey):
		return c.JSON(http.StatusServiceUnavailable, types.APIError{Error: err.Error(), Code: "vault_unavailable"})
	case errors.Is(err, scraper.ErrUpstreamRateLimited):
		return c.JSON(http.StatusTooManyRequests, types.APIError{Error: err.Error(), Code: "rate_limited"})
	case errors.Is(err, scraper.ErrAuthenticationFailure):
		return c.JSON(http.StatusUnauthorized, types.APIError{Error: err.Error(), Code: "authentication_failure"})
	default:
		return c.JSON(http.StatusInternalServerError, types.APIError{Error: err.Error(), Code: "internal"})
	}
}

// failureStatusCode maps a recorded failure message of a terminal task
// onto the status code the synchronous endpoints answer with.
func failureStatusCode(message string) int {
	switch jobserver.ErrorKind(message) {
	case jobserver.KindRateLimited:
		return http.StatusTooManyRequests
	case jobserver.KindTimeout:
		return http.StatusGatewayTimeout
	case jobserver.KindAuthentication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
