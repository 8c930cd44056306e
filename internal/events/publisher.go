package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/registry"
)

// ErrPublisherClosed is returned when publishing to a closed publisher.
var ErrPublisherClosed = errors.New("event publisher is closed")

// TransitionEvent records one status change of an operation.
// From is empty for the event emitted at creation.
type TransitionEvent struct {
	OperationID        string      `json:"operation_id"`
	ItemSKU            string      `json:"item_sku,omitempty"`
	From               core.Status `json:"from,omitempty"`
	To                 core.Status `json:"to"`
	RetryCount         int         `json:"retry_count"`
	ErrorCode          string      `json:"error_code,omitempty"`
	RemoteAdjustmentID string      `json:"remote_adjustment_id,omitempty"`
	At                 time.Time   `json:"at"`
}

// NewTransitionEvent builds the event for op having moved from from to op.Status.
func NewTransitionEvent(op *core.Operation, from core.Status, at time.Time) TransitionEvent {
	return TransitionEvent{
		OperationID:        op.OperationID,
		ItemSKU:            op.ItemSKU,
		From:               from,
		To:                 op.Status,
		RetryCount:         op.RetryCount,
		ErrorCode:          op.LastErrorCode,
		RemoteAdjustmentID: op.RemoteAdjustmentID,
		At:                 at,
	}
}

// Publisher delivers transition events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...TransitionEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...TransitionEvent) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// New creates the publisher selected by config.Type.
func New(config registry.InternalEventsConfig) (Publisher, error) {
	switch config.Type {
	case "", "none":
		return NopPublisher{}, nil
	case "memory":
		return NewMemoryPublisher(config.BufferSize), nil
	case "kafka":
		kc := config.KafkaConfig
		return NewKafkaPublisher(KafkaConfig{
			Brokers:         kc.Brokers,
			Topic:           kc.Topic,
			BatchSize:       kc.BatchSize,
			BatchTimeout:    kc.BatchTimeout,
			WriteTimeout:    kc.WriteTimeout,
			RequiredAcks:    kc.RequiredAcks,
			MaxMessageBytes: kc.MaxMessageBytes,
		})
	default:
		return nil, fmt.Errorf("unsupported events type: %s", config.Type)
	}
}
