package upstream

import "fmt"

// RateLimitedError distinguishes a 429 response from other transient
// upstream failures, resolving spec.md's open question about whether the
// replenishment loop should special-case rate limiting: it does, by
// logging this error distinctly, though it still stops the current batch
// rather than retrying inline (see stagepool.replenish).
type RateLimitedError struct {
	RetryAfter string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
	}
	return "upstream rate limited"
}

// TransientError wraps a retryable (5xx) upstream failure that persisted
// through all configured attempts.
type TransientError struct {
	Status int
	Detail string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upstream transient failure: %d %s", e.Status, e.Detail)
}

// PermanentError wraps a non-retryable (4xx other than 429) upstream
// response.
type PermanentError struct {
	Status int
	Detail string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("upstream error: %d %s", e.Status, e.Detail)
}
