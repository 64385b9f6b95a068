package edged

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle outcome by the phase that produced it.
type Kind int

const (
	// KindConfig is a rejected configuration.
	KindConfig Kind = iota

	// KindDirectory is a failed daemon directory bootstrap.
	KindDirectory

	// KindProvision is a failed device identity resolution.
	KindProvision

	// KindRuntimeInit is a failed module runtime construction.
	KindRuntimeInit

	// KindSubsystemStart is a control-plane API that failed to start.
	KindSubsystemStart

	// KindSteadyState is a supervision failure after startup finished.
	KindSteadyState

	// KindReprovisionFailed is a reprovision request the identity
	// service did not honor.
	KindReprovisionFailed

	// KindReprovisioned is the informational outcome of a successful
	// reprovision. The daemon exits so the supervisor restarts it
	// against the new identity; nothing actually failed.
	KindReprovisioned
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDirectory:
		return "directory"
	case KindProvision:
		return "provision"
	case KindRuntimeInit:
		return "runtime-init"
	case KindSubsystemStart:
		return "subsystem-start"
	case KindSteadyState:
		return "steady-state"
	case KindReprovisionFailed:
		return "reprovision-failed"
	case KindReprovisioned:
		return "reprovisioned"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Process exit codes. Supervisors key restart policy off these, so the
// mapping is part of the daemon's contract.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitReprovisioned = 3
	ExitConfig        = 78 // sysexits EX_CONFIG
)

// Error is a lifecycle outcome tagged with the phase it came from.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error returned by Run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var e *Error
	if !errors.As(err, &e) {
		return ExitFailure
	}

	switch e.Kind {
	case KindConfig:
		return ExitConfig
	case KindReprovisioned:
		return ExitReprovisioned
	default:
		return ExitFailure
	}
}

// IsReprovisioned reports whether err is the informational reprovisioned
// outcome rather than a failure. Callers log it at info, not error.
func IsReprovisioned(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindReprovisioned
}
