package connmgr

import (
	"errors"
	"strings"
)

// ErrAllProvidersUnavailable is returned when every pool endpoint is
// unusable and the fallback connection is also exhausted
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// ErrorClass categorizes a call failure for retry and failover decisions
type ErrorClass int

const (
	// ClassRetryable covers transient failures: timeouts, 5xx, rate
	// limiting, generic network errors, RPC internal errors
	ClassRetryable ErrorClass = iota
	// ClassPermanent covers connectivity policy failures that retrying
	// cannot fix. The endpoint is failed over permanently.
	ClassPermanent
)

// ClassifyError classifies errors to determine retry and failover behavior
func ClassifyError(err error) ErrorClass {
	errStr := strings.ToLower(err.Error())

	// Connectivity policy failures - retrying the same endpoint cannot help
	if strings.Contains(errStr, "cors") ||
		strings.Contains(errStr, "cross-origin") ||
		strings.Contains(errStr, "blocked by client") ||
		strings.Contains(errStr, "access control") {
		return ClassPermanent
	}

	// Rate limiting and upstream errors
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return ClassRetryable
	}

	// Network errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") {
		return ClassRetryable
	}

	// JSON-RPC internal error
	if strings.Contains(errStr, "-32603") ||
		strings.Contains(errStr, "internal error") {
		return ClassRetryable
	}

	// Unknown errors are treated as transient
	return ClassRetryable
}
