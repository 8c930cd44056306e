package core

import (
	"context"
	"errors"
	"fmt"
)

// Error codes carried by RemoteError.
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimit      = "RATE_LIMIT"
	CodeAPIError       = "API_ERROR"
	CodeNetworkError   = "NETWORK_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeNoCredentials  = "NO_CREDENTIALS"
	CodeUnknownError   = "UNKNOWN_ERROR"
	MsgSessionExpired  = "Your session has expired. Please log in again"
	MsgUnexpectedError = "An unexpected error occurred. Please try again"
)

// RemoteError is the typed failure returned by the remote inventory system.
// Status is the HTTP status when one was received and 0 otherwise.
type RemoteError struct {
	Status      int
	Code        string
	Message     string
	UserMessage string
	Err         error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AsRemoteError extracts a RemoteError from err. Errors of any other type are
// reported as UNKNOWN_ERROR.
func AsRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{
		Code:        CodeUnknownError,
		Message:     err.Error(),
		UserMessage: MsgUnexpectedError,
		Err:         err,
	}
}

// AdjustmentRequest is a single stock adjustment sent to the remote system.
type AdjustmentRequest struct {
	// IdempotencyKey lets the remote side collapse resubmissions of the same operation.
	IdempotencyKey string
	ItemID         string
	LocationID     string
	SignedQuantity int
	Reason         string
	BatchTag       string
	Description    string
}

// ItemInfo describes an inventory item found by SKU.
type ItemInfo struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	BatchTracked  bool   `json:"batch_tracked"`
	ShelfLifeDays int    `json:"shelf_life_days,omitempty"`
}

// RequiresExpiryDate reports whether adjustments for the item need an expiry date.
func (i ItemInfo) RequiresExpiryDate() bool {
	return i.BatchTracked && i.ShelfLifeDays > 0
}

// LocationInfo is a stock location (warehouse).
type LocationInfo struct {
	LocationID   string `json:"location_id"`
	LocationName string `json:"location_name"`
}

// AdjustmentReason is one of the reasons configured in the remote system.
type AdjustmentReason struct {
	ReasonID string `json:"reason_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
}

// AdjustmentClient is the network boundary to the remote inventory system.
// Implementations must not retry internally.
type AdjustmentClient interface {
	// SubmitAdjustment performs one adjustment call and returns the remote adjustment id.
	// Failures are returned as *RemoteError.
	SubmitAdjustment(ctx context.Context, req AdjustmentRequest) (string, error)

	// FetchItemBySku looks up an item. A missing item is a RemoteError with CodeNotFound.
	FetchItemBySku(ctx context.Context, sku string) (*ItemInfo, error)

	// FetchLocations lists the stock locations of the organization.
	FetchLocations(ctx context.Context) ([]LocationInfo, error)

	// FetchAdjustmentReasons lists the configured adjustment reasons.
	FetchAdjustmentReasons(ctx context.Context) ([]AdjustmentReason, error)
}
