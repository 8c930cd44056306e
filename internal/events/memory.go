package events

import (
	"context"
	"errors"
	"sync"
)

// ErrMemoryPublisherFull is returned when the buffer has no room left.
var ErrMemoryPublisherFull = errors.New("memory publisher buffer is full")

// MemoryPublisher buffers events in a channel. Consumers read them with
// Events or Drain; useful for tests and for an in-process activity feed.
type MemoryPublisher struct {
	ch     chan TransitionEvent
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher creates a publisher holding up to bufferSize events.
func NewMemoryPublisher(bufferSize int) *MemoryPublisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryPublisher{ch: make(chan TransitionEvent, bufferSize)}
}

// Publish buffers events without blocking.
func (p *MemoryPublisher) Publish(ctx context.Context, events ...TransitionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	for _, ev := range events {
		select {
		case p.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return ErrMemoryPublisherFull
		}
	}
	return nil
}

// Events exposes the channel for consumers. It is closed by Close.
func (p *MemoryPublisher) Events() <-chan TransitionEvent {
	return p.ch
}

// Drain returns every buffered event without waiting.
func (p *MemoryPublisher) Drain() []TransitionEvent {
	var out []TransitionEvent
	for {
		select {
		case ev, ok := <-p.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Size returns the number of buffered events.
func (p *MemoryPublisher) Size() int {
	return len(p.ch)
}

// Close stops accepting events and closes the channel.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.ch)
	return nil
}
