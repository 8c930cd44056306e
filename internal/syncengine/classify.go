package syncengine

import (
	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

type outcome int

const (
	outcomeSynced outcome = iota
	// outcomeRetryable returns the operation to pending.
	outcomeRetryable
	// outcomeAuth parks the operation in failed_retryable until credentials come back.
	outcomeAuth
	outcomePermanent
)

func (o outcome) String() string {
	switch o {
	case outcomeSynced:
		return "synced"
	case outcomeRetryable:
		return "retryable"
	case outcomeAuth:
		return "auth"
	case outcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// classify decides what a failed attempt does to the operation. attempts is
// the retry count including the attempt that just failed.
//
// Bad requests and missing items never succeed on retry. Connectivity,
// timeouts, rate limiting and session problems always may, so they are never
// escalated. Everything else is retried until maxAttempts is reached.
func classify(re *core.RemoteError, attempts, maxAttempts int) outcome {
	switch re.Code {
	case core.CodeBadRequest, core.CodeNotFound:
		return outcomePermanent
	case core.CodeUnauthorized, core.CodeNoCredentials:
		return outcomeAuth
	case core.CodeNetworkError, core.CodeTimeout, core.CodeRateLimit:
		return outcomeRetryable
	}

	switch re.Status {
	case 400, 404:
		return outcomePermanent
	case 401:
		return outcomeAuth
	}

	if maxAttempts > 0 && attempts >= maxAttempts {
		return outcomePermanent
	}
	return outcomeRetryable
}

// stopsDrain reports whether the failure means the network is gone, in which
// case the rest of the queue would fail the same way.
func stopsDrain(re *core.RemoteError) bool {
	return re != nil && re.Code == core.CodeNetworkError
}
