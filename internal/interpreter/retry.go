package interpreter

import (
	"math"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/pkg/httpx"
)

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// computeBackoff mirrors the exponential-with-jitter shape used for stage
// retries: base doubles per attempt, clamped to [min, max], then jittered by
// +/-20% (httpx.JitterSleep) so many simultaneously-retrying steps don't
// thunder back in lockstep. Decide does not call it, and nothing sets
// StepProjection.NextRunAt, so a failed step with retry budget left is
// re-enqueued on the next tick without waiting.
func computeBackoff(policy *domain.RetryPolicy, attempt int) time.Duration {
	minB := defaultMinBackoff
	maxB := defaultMaxBackoff
	if policy != nil && policy.BackoffSeconds > 0 {
		minB = time.Duration(policy.BackoffSeconds) * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempt-1)))
	if d > maxB {
		d = maxB
	}
	return httpx.JitterSleep(d)
}

func shouldRetry(policy *domain.RetryPolicy, attempt int) bool {
	if policy == nil || policy.Max <= 0 {
		return false
	}
	return attempt < policy.Max
}
