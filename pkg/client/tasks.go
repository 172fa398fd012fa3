package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/scrapeworks/osint-worker/api/types"
)

// SearchUsers submits an asynchronous profile search and returns a
// pollable handle.
func (c *Client) SearchUsers(ctx context.Context, query string, limit int) (*TaskHandle, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return c.submit(ctx, "/api/v1/scraping/search/users?"+params.Encode())
}

// Following submits an asynchronous scrape of the accounts a user follows.
func (c *Client) Following(ctx context.Context, username string, limit int) (*TaskHandle, error) {
	return c.relations(ctx, username, "following", limit)
}

// Followers submits an asynchronous scrape of a user's followers.
func (c *Client) Followers(ctx context.Context, username string, limit int) (*TaskHandle, error) {
	return c.relations(ctx, username, "followers", limit)
}

func (c *Client) relations(ctx context.Context, username, direction string, limit int) (*TaskHandle, error) {
	path := fmt.Sprintf("/api/v1/scraping/users/%s/%s", url.PathEscape(username), direction)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return c.submit(ctx, path)
}

// Timeline submits an asynchronous timeline scrape with frequency analysis.
func (c *Client) Timeline(ctx context.Context, username string, count int, includeAnalysis bool) (*TaskHandle, error) {
	params := url.Values{}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}
	if !includeAnalysis {
		params.Set("include_analysis", "false")
	}
	path := fmt.Sprintf("/api/v1/scraping/users/%s/timeline", url.PathEscape(username))
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.submit(ctx, path)
}

func (c *Client) submit(ctx context.Context, path string) (*TaskHandle, error) {
	resp := types.TaskResponse{}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &TaskHandle{
		TaskID:     resp.TaskID,
		client:     c,
		maxRetries: 60,
		delay:      time.Second,
	}, nil
}

// GetTask retrieves the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	task := types.Task{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
