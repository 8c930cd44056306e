package inventoryapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

// statusError maps a non-2xx HTTP status to a RemoteError. message is the
// remote's own message when the body carried one.
func statusError(status int, remoteCode int, message string) *core.RemoteError {
	re := &core.RemoteError{Status: status}
	switch status {
	case http.StatusBadRequest:
		re.Code = core.CodeBadRequest
		re.Message = "Invalid data sent to the inventory API"
		re.UserMessage = "Please check your input and try again"
	case http.StatusUnauthorized:
		re.Code = core.CodeUnauthorized
		re.Message = "Authentication failed"
		re.UserMessage = core.MsgSessionExpired
	case http.StatusNotFound:
		re.Code = core.CodeNotFound
		re.Message = "Resource not found"
		re.UserMessage = "The requested item was not found in the inventory system"
	case http.StatusTooManyRequests:
		re.Code = core.CodeRateLimit
		re.Message = "Rate limit exceeded"
		re.UserMessage = "Too many requests. Please wait a moment and try again"
	default:
		re.Code = core.CodeAPIError
		re.Message = "API request failed"
		re.UserMessage = core.MsgUnexpectedError
	}
	if message != "" {
		re.Message = message
	}
	if remoteCode != 0 {
		re.Err = &remoteCodeError{code: remoteCode}
	}
	return re
}

// apiError is a 2xx response whose body carries a non-zero code.
func apiError(status, remoteCode int, message string) *core.RemoteError {
	if message == "" {
		message = "API request failed"
	}
	return &core.RemoteError{
		Status:      status,
		Code:        core.CodeAPIError,
		Message:     message,
		UserMessage: core.MsgUnexpectedError,
		Err:         &remoteCodeError{code: remoteCode},
	}
}

// transportError classifies a failure that produced no HTTP response.
func transportError(err error) *core.RemoteError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &core.RemoteError{
			Code:        core.CodeTimeout,
			Message:     "request timed out",
			UserMessage: "The inventory system did not respond in time. The change will be retried",
			Err:         err,
		}
	}
	return &core.RemoteError{
		Code:        core.CodeNetworkError,
		Message:     err.Error(),
		UserMessage: "The inventory system is unreachable. The change will be retried",
		Err:         err,
	}
}

func credentialsError(err error) *core.RemoteError {
	return &core.RemoteError{
		Code:        core.CodeNoCredentials,
		Message:     err.Error(),
		UserMessage: core.MsgSessionExpired,
		Err:         err,
	}
}

// remoteCodeError keeps the numeric code from the response body.
type remoteCodeError struct {
	code int
}

func (e *remoteCodeError) Error() string {
	return "remote code " + strconv.Itoa(e.code)
}
