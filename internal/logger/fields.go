package logger

import "log/slog"

// Shared field keys. Every log statement uses this vocabulary so daemon
// logs can be filtered by module, API and action.
const (
	// Lifecycle
	KeyAPI      = "api"       // control-plane API: workload, management
	KeyAction   = "action"    // watchdog action: signal, reprovision, cert_renewal
	KeySignal   = "signal"    // OS signal name
	KeyExitCode = "exit_code" // process exit code
	KeyTasks    = "tasks"     // outstanding server task count

	// Modules
	KeyModule = "module" // module (containerized workload) name
	KeyImage  = "image"  // container image reference

	// Device identity
	KeyDeviceID = "device_id" // provisioned device identifier
	KeyHub      = "hub"       // backing hub name
	KeyGateway  = "gateway"   // resolved gateway host

	// Diagnostics
	KeyError   = "error"   // error message
	KeyPath    = "path"    // filesystem path
	KeyAttempt = "attempt" // retry attempt number
)

// Module tags an entry with a module name.
func Module(name string) slog.Attr {
	return slog.String(KeyModule, name)
}

// Image tags an entry with a container image reference.
func Image(ref string) slog.Attr {
	return slog.String(KeyImage, ref)
}

// API tags an entry with a control-plane API name.
func API(name string) slog.Attr {
	return slog.String(KeyAPI, name)
}

// Action tags an entry with a watchdog action.
func Action(a string) slog.Attr {
	return slog.String(KeyAction, a)
}

// DeviceID tags an entry with the provisioned device identifier.
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// Gateway tags an entry with the resolved gateway host.
func Gateway(host string) slog.Attr {
	return slog.String(KeyGateway, host)
}

// Tasks tags an entry with the outstanding server task count.
func Tasks(n int) slog.Attr {
	return slog.Int(KeyTasks, n)
}

// ExitCode tags an entry with a process exit code.
func ExitCode(code int) slog.Attr {
	return slog.Int(KeyExitCode, code)
}

// Path tags an entry with a filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Attempt tags an entry with a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Err tags an entry with an error message. A nil error produces an
// empty attribute, which every handler drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
