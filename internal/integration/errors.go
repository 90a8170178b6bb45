package integration

import "errors"

// ErrNotRetryable wraps errors rejected by RetryConfig.Retryable.
var ErrNotRetryable = errors.New("non-retryable error")
