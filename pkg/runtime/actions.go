package runtime

import (
	"context"
	"fmt"
	"time"
)

// ActionKind discriminates module lifecycle notifications.
type ActionKind int

const (
	// ActionStart announces a module about to start. The runtime waits
	// for the Ready acknowledgement before the container actually runs,
	// so listeners can finish per-module setup first.
	ActionStart ActionKind = iota

	// ActionStop announces a module that stopped
	ActionStop

	// ActionRemove announces a module whose container was removed
	ActionRemove
)

// String returns the lowercase action name for logging.
func (k ActionKind) String() string {
	switch k {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// ModuleAction is a lifecycle notification emitted by the runtime and
// consumed by the workload manager, which maintains per-module API
// registrations from them.
type ModuleAction struct {
	// Kind is the lifecycle transition
	Kind ActionKind

	// Module is the module name
	Module string

	// Ready, set only on ActionStart, is closed by the consumer once
	// the module's registration is in place. The runtime blocks the
	// container start on it (with a deadline) so a module never runs
	// before the workload API knows it.
	Ready chan struct{}
}

// StartAckTimeout bounds how long a runtime waits for an ActionStart
// acknowledgement before starting the container anyway.
const StartAckTimeout = 5 * time.Second

// SendStart emits an ActionStart on ch and waits for acknowledgement.
// Returns once the consumer closes Ready, the timeout passes, or ctx is
// done. A missing or slow consumer delays a module start but never
// blocks it forever.
func SendStart(ctx context.Context, ch chan<- ModuleAction, module string) error {
	ready := make(chan struct{})

	select {
	case ch <- ModuleAction{Kind: ActionStart, Module: module, Ready: ready}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ready:
		return nil
	case <-time.After(StartAckTimeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendNotify emits a Stop or Remove action without waiting. The send is
// non-blocking: when the consumer is gone (shutdown) the notification is
// dropped, which is harmless because registrations die with the consumer.
func SendNotify(ch chan<- ModuleAction, kind ActionKind, module string) {
	select {
	case ch <- ModuleAction{Kind: kind, Module: module}:
	default:
	}
}
