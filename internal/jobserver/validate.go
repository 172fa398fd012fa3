package jobserver

import (
	"fmt"
	"strings"

	"github.com/scrapeworks/osint-worker/api/types"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 100
)

// validateParameters checks and normalizes the request parameters for
// an operation. It fills defaults, rejects out-of-range values and
// strips fields the operation does not use so that equivalent requests
// fingerprint identically.
func (js *JobServer) validateParameters(op types.OperationType, p types.Parameters) (types.Parameters, error) {
	out := types.Parameters{}

	switch op {
	case types.OperationSearchUser:
		query := strings.TrimSpace(p.Query)
		if query == "" {
			return out, fmt.Errorf("%w: query is required for %s", ErrValidation, op)
		}
		out.Query = query
		limit, err := boundedValue("limit", p.Limit, defaultResultLimit, 1, maxResultLimit)
		if err != nil {
			return out, err
		}
		out.Limit = limit

	case types.OperationFollowing, types.OperationFollowers:
		username := strings.TrimSpace(strings.TrimPrefix(p.Username, "@"))
		if username == "" {
			return out, fmt.Errorf("%w: username is required for %s", ErrValidation, op)
		}
		out.Username = username
		limit, err := boundedValue("limit", p.Limit, defaultResultLimit, 1, maxResultLimit)
		if err != nil {
			return out, err
		}
		out.Limit = limit

	case types.OperationTimeline:
		username := strings.TrimSpace(strings.TrimPrefix(p.Username, "@"))
		if username == "" {
			return out, fmt.Errorf("%w: username is required for %s", ErrValidation, op)
		}
		out.Username = username
		count, err := boundedValue("count", p.Count, js.defaultCount, js.minCount, js.maxCount)
		if err != nil {
			return out, err
		}
		out.Count = count
		out.IncludeAnalysis = p.IncludeAnalysis

	default:
		return out, fmt.Errorf("%w: unknown operation type %q", ErrValidation, op)
	}

	return out, nil
}

// boundedValue applies the default when the field was omitted and
// rejects explicit values outside [min, max].
func boundedValue(field string, value, def, min, max int) (int, error) {
	if value == 0 {
		return def, nil
	}
	if value < min || value > max {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrValidation, field, min, max)
	}
	return value, nil
}
