package core

import (
	"time"
)

// Action is the direction of a stock adjustment.
type Action string

const (
	// ActionAdd increases stock on hand.
	ActionAdd Action = "ADD"

	// ActionReduce decreases stock on hand.
	ActionReduce Action = "REDUCE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionReduce
}

// Status is the sync state of an Operation.
type Status string

const (
	// StatusPending means the operation waits in the pending queue for a sync attempt.
	StatusPending Status = "pending"

	// StatusSyncing means a remote call for the operation is in flight.
	StatusSyncing Status = "syncing"

	// StatusSynced means the remote system confirmed the adjustment. Terminal.
	StatusSynced Status = "synced"

	// StatusFailedRetryable means the last attempt failed because the session is not
	// usable. The operation stays queued and is retried once credentials are back.
	StatusFailedRetryable Status = "failed_retryable"

	// StatusFailedPermanent means the operation cannot succeed by retrying. Terminal
	// unless the operator retries it manually.
	StatusFailedPermanent Status = "failed_permanent"
)

// Terminal reports whether s only changes through a manual retry.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusFailedPermanent
}

// Queued reports whether an operation in status s belongs in the pending queue.
func (s Status) Queued() bool {
	return s == StatusPending || s == StatusSyncing || s == StatusFailedRetryable
}

// Operation is a single user-initiated inventory adjustment, tracked from
// creation to its terminal outcome.
type Operation struct {
	OperationID string    `json:"operation_id"`
	CreatedAt   time.Time `json:"created_at"`

	// Item identity is denormalized at creation time for display.
	ItemID   string `json:"item_id"`
	ItemSKU  string `json:"item_sku"`
	ItemName string `json:"item_name"`

	Action Action `json:"action"`

	// Quantity is always positive. The signed delta is derived from Action
	// when the adjustment is sent.
	Quantity int `json:"quantity"`

	Reason           string `json:"reason"`
	BatchOrSerial    string `json:"batch_or_serial,omitempty"`
	ManufacturedDate string `json:"manufactured_date,omitempty"`
	ExpiryDate       string `json:"expiry_date,omitempty"`
	LocationID       string `json:"location_id"`

	Status             Status     `json:"status"`
	RemoteAdjustmentID string     `json:"remote_adjustment_id,omitempty"`
	RetryCount         int        `json:"retry_count"`
	LastErrorCode      string     `json:"last_error_code,omitempty"`
	LastErrorMessage   string     `json:"last_error_message,omitempty"`
	LastAttemptAt      *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt      *time.Time `json:"next_attempt_at,omitempty"`
}

// SignedQuantity returns the quantity delta to send to the remote system.
func (o *Operation) SignedQuantity() int {
	if o.Action == ActionReduce {
		return -o.Quantity
	}
	return o.Quantity
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.LastAttemptAt != nil {
		t := *o.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if o.NextAttemptAt != nil {
		t := *o.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return &c
}

// OperationDraft is the validated input the intake hands to the sync engine.
type OperationDraft struct {
	ItemID           string
	ItemSKU          string
	ItemName         string
	Action           Action
	Quantity         int
	Reason           string
	BatchOrSerial    string
	ManufacturedDate string
	ExpiryDate       string
	LocationID       string
}
