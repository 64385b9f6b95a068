// Package runtimetest provides an in-memory Runtime for tests.
//
// The fake records every call, supports per-operation error injection, and
// emits ModuleActions like a real runtime so action-channel consumers can be
// tested without containers.
package runtimetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/edged/pkg/runtime"
)

// Fake is an in-memory runtime.Runtime. The zero value is not usable;
// construct with New.
type Fake struct {
	mu      sync.Mutex
	modules map[string]runtime.Module
	calls   []string
	closed  bool

	restarts      map[string]int
	removedImages []string

	lastStopTimeout time.Duration

	actions chan<- runtime.ModuleAction

	// Error injection per operation. A non-nil value is returned by
	// the corresponding method.
	FailList        error
	FailCreate      error
	FailStart       error
	FailRestart     error
	FailRemove      error
	FailStopAll     error
	FailRemoveImage error
}

var _ runtime.Runtime = (*Fake)(nil)
var _ runtime.InfoProvider = (*Fake)(nil)

// New returns an empty fake runtime.
func New() *Fake {
	return &Fake{
		modules:  make(map[string]runtime.Module),
		restarts: make(map[string]int),
	}
}

// NewWithActions returns a fake that emits ModuleActions on ch.
func NewWithActions(ch chan<- runtime.ModuleAction) *Fake {
	f := New()
	f.actions = ch
	return f
}

// SeedModule installs a module directly, bypassing Create/Start. Useful
// for arranging pre-existing state.
func (f *Fake) SeedModule(m runtime.Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[m.Name] = m
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
}

// ListModules returns all modules in name-insertion-independent order.
func (f *Fake) ListModules(ctx context.Context) ([]runtime.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("list")
	if f.FailList != nil {
		return nil, f.FailList
	}

	out := make([]runtime.Module, 0, len(f.modules))
	for _, m := range f.modules {
		out = append(out, m)
	}
	return out, nil
}

// CreateModule registers a stopped module for the spec.
func (f *Fake) CreateModule(ctx context.Context, spec runtime.ModuleSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("create " + spec.Name)
	if f.FailCreate != nil {
		return f.FailCreate
	}
	f.modules[spec.Name] = runtime.Module{
		Name:   spec.Name,
		ID:     "fake-" + spec.Name,
		Image:  spec.Image,
		Status: runtime.StatusStopped,
	}
	return nil
}

// StartModule marks a created module running. Like the real runtime it
// announces the start and waits for the acknowledgement first.
func (f *Fake) StartModule(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("start " + name)
	if f.FailStart != nil {
		f.mu.Unlock()
		return f.FailStart
	}

	m, ok := f.modules[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("no such module: %s", name)
	}
	ch := f.actions
	f.mu.Unlock()

	if ch != nil {
		if err := runtime.SendStart(ctx, ch, name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = runtime.StatusRunning
	m.StartedAt = time.Now()
	f.modules[name] = m
	return nil
}

// RestartModule restarts a module in place and counts the restart.
func (f *Fake) RestartModule(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("restart " + name)
	if f.FailRestart != nil {
		f.mu.Unlock()
		return f.FailRestart
	}

	m, ok := f.modules[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("no such module: %s", name)
	}
	ch := f.actions
	f.mu.Unlock()

	if ch != nil {
		if err := runtime.SendStart(ctx, ch, name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = runtime.StatusRunning
	m.StartedAt = time.Now()
	f.modules[name] = m
	f.restarts[name]++
	return nil
}

// RemoveModule deletes a module.
func (f *Fake) RemoveModule(ctx context.Context, name string) error {
	f.mu.Lock()
	f.record("remove " + name)
	if f.FailRemove != nil {
		f.mu.Unlock()
		return f.FailRemove
	}

	if _, ok := f.modules[name]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("no such module: %s", name)
	}
	delete(f.modules, name)
	ch := f.actions
	f.mu.Unlock()

	if ch != nil {
		runtime.SendNotify(ch, runtime.ActionRemove, name)
	}
	return nil
}

// StopAll stops every module and records the timeout it was given.
func (f *Fake) StopAll(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("stop_all")
	f.lastStopTimeout = timeout
	if f.FailStopAll != nil {
		return f.FailStopAll
	}

	now := time.Now()
	for name, m := range f.modules {
		if m.Status == runtime.StatusRunning {
			m.Status = runtime.StatusStopped
			m.FinishedAt = now
			f.modules[name] = m
		}
	}
	return nil
}

// RemoveImage records the removal.
func (f *Fake) RemoveImage(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record("remove_image " + ref)
	if f.FailRemoveImage != nil {
		return f.FailRemoveImage
	}
	f.removedImages = append(f.removedImages, ref)
	return nil
}

// Close marks the runtime closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Info describes the fake.
func (f *Fake) Info(ctx context.Context) (runtime.SystemInfo, error) {
	return runtime.SystemInfo{
		Kind:         "fake",
		Version:      "test",
		OS:           "linux",
		Architecture: "amd64",
	}, nil
}

// Module returns the current state of a module.
func (f *Fake) Module(name string) (runtime.Module, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modules[name]
	return m, ok
}

// Restarts returns how many times a module was restarted.
func (f *Fake) Restarts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts[name]
}

// RemovedImages returns image refs removed so far.
func (f *Fake) RemovedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removedImages))
	copy(out, f.removedImages)
	return out
}

// Calls returns the recorded operation log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// LastStopTimeout returns the timeout passed to the most recent StopAll.
func (f *Fake) LastStopTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastStopTimeout
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
