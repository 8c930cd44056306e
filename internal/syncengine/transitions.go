package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// operation's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Transition events of an operation.
const (
	eventDequeue       = "dequeue"
	eventSucceed       = "succeed"
	eventRequeue       = "requeue"
	eventFailAuth      = "fail_auth"
	eventFailPermanent = "fail_permanent"
	eventRetry         = "retry"
	eventRecover       = "recover"
)

var (
	statusPending         = string(core.StatusPending)
	statusSyncing         = string(core.StatusSyncing)
	statusSynced          = string(core.StatusSynced)
	statusFailedRetryable = string(core.StatusFailedRetryable)
	statusFailedPermanent = string(core.StatusFailedPermanent)
)

// operationTransitions is the complete status machine. Anything not listed
// here is rejected, which is what keeps synced operations immutable.
var operationTransitions = fsm.Events{
	{Name: eventDequeue, Src: []string{statusPending, statusFailedRetryable}, Dst: statusSyncing},
	{Name: eventSucceed, Src: []string{statusSyncing}, Dst: statusSynced},
	{Name: eventRequeue, Src: []string{statusSyncing}, Dst: statusPending},
	{Name: eventFailAuth, Src: []string{statusSyncing}, Dst: statusFailedRetryable},
	{Name: eventFailPermanent, Src: []string{statusSyncing}, Dst: statusFailedPermanent},
	{Name: eventRetry, Src: []string{statusFailedPermanent, statusFailedRetryable}, Dst: statusPending},
	// An attempt interrupted by a restart has an unknown outcome.
	{Name: eventRecover, Src: []string{statusSyncing}, Dst: statusPending},
}

// transition applies event to op and updates op.Status.
func transition(op *core.Operation, event string) error {
	machine := fsm.NewFSM(string(op.Status), operationTransitions, fsm.Callbacks{})
	if err := machine.Event(context.Background(), event); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, op.Status, err)
	}
	op.Status = core.Status(machine.Current())
	return nil
}

// canTransition reports whether event is allowed from status.
func canTransition(status core.Status, event string) bool {
	return fsm.NewFSM(string(status), operationTransitions, fsm.Callbacks{}).Can(event)
}
