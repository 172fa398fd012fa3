package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// classify maps raw driver errors onto the failure taxonomy. The upstream
// library reports most conditions as formatted strings, so this is
// substring matching by necessity.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrExecutionTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ErrUpstreamRateLimited
	case strings.Contains(msg, "login") ||
		strings.Contains(msg, "auth") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "denylogin") ||
		strings.Contains(msg, "suspended"):
		return ErrAuthenticationFailure
	default:
		return nil
	}
}

// classifyWrap returns the classified sentinel wrapped around the original
// error, or the original error unchanged when no category applies.
func classifyWrap(err error) error {
	if sentinel := classify(err); sentinel != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}
