// Package runtime defines the contract between the daemon and the container
// runtime hosting its modules.
//
// A module is a containerized workload managed on behalf of the agent. The
// daemon itself only ever creates one module directly (the agent); everything
// else arrives through the agent and is visible here as generic modules.
//
// Implementations live in subpackages: docker backs production deployments,
// runtimetest backs tests with an in-memory fake.
package runtime

import (
	"context"
	"time"
)

// OwnerLabel marks containers managed by the daemon. Every module
// container carries it; listing and stop-all are scoped to it so
// unrelated containers on the same host are never touched.
const OwnerLabel = "net.edged.owner"

// OwnerLabelValue is the value set on managed containers.
const OwnerLabelValue = "edged"

// ModuleStatus describes the lifecycle state of a module.
type ModuleStatus string

const (
	// StatusRunning means the container is up
	StatusRunning ModuleStatus = "running"

	// StatusStopped means the container exists but is not running
	StatusStopped ModuleStatus = "stopped"

	// StatusFailed means the container exited with a non-zero code
	StatusFailed ModuleStatus = "failed"

	// StatusUnknown means the runtime reported a state the daemon
	// does not model
	StatusUnknown ModuleStatus = "unknown"
)

// Module is a containerized workload as reported by the runtime.
type Module struct {
	// Name is the module name, unique per device
	Name string

	// ID is the underlying container ID
	ID string

	// Image is the container image reference
	Image string

	// Status is the current lifecycle state
	Status ModuleStatus

	// ExitCode is the last exit code, meaningful when Status is
	// stopped or failed
	ExitCode int

	// StartedAt is when the container last started, zero if never
	StartedAt time.Time

	// FinishedAt is when the container last exited, zero if running
	FinishedAt time.Time
}

// ModuleSpec describes a module to create.
type ModuleSpec struct {
	// Name is the module name the container is registered under
	Name string

	// Image is the container image reference
	Image string

	// Env is injected into the container environment
	Env map[string]string

	// CreateOptions is runtime-specific creation JSON, passed through
	// to the runtime untouched
	CreateOptions string

	// Network is the container network to attach, empty for the
	// runtime default
	Network string
}

// Runtime is the container runtime contract.
//
// All blocking operations honor ctx. Implementations must scope every
// listing and bulk operation to containers carrying OwnerLabel.
type Runtime interface {
	// ListModules returns all managed modules, running or not.
	ListModules(ctx context.Context) ([]Module, error)

	// CreateModule creates a container for the spec without starting it.
	// The module's image is recorded as in-use for prune bookkeeping.
	CreateModule(ctx context.Context, spec ModuleSpec) error

	// StartModule starts a previously created module.
	StartModule(ctx context.Context, name string) error

	// RestartModule restarts a module in place.
	RestartModule(ctx context.Context, name string) error

	// RemoveModule stops and removes a module's container.
	RemoveModule(ctx context.Context, name string) error

	// StopAll stops every managed module, giving each up to timeout to
	// exit cleanly before it is killed. Used while the control-plane
	// APIs are down so modules cannot observe a half-started daemon.
	StopAll(ctx context.Context, timeout time.Duration) error

	// RemoveImage removes an image by reference.
	RemoveImage(ctx context.Context, ref string) error

	// Close releases the runtime connection.
	Close() error
}

// SystemInfo describes the runtime backing the modules, surfaced on the
// management API.
type SystemInfo struct {
	// Kind is the runtime implementation (docker, fake)
	Kind string `json:"kind"`

	// Version is the runtime server version
	Version string `json:"version"`

	// OS and Architecture describe the runtime host
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
}

// InfoProvider is implemented by runtimes that can describe themselves.
// Optional: the management API degrades gracefully when absent.
type InfoProvider interface {
	Info(ctx context.Context) (SystemInfo, error)
}
