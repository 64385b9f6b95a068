package config

import (
	"os"
	"strings"
	"time"
)

// Defaults that matter to lifecycle behavior. The image prune values are
// load-bearing: an absent section must behave exactly like this set.
const (
	// DefaultHomedir is the daemon state directory
	DefaultHomedir = "/var/lib/edged"

	// DefaultAgentName is the module name of the supervised agent
	DefaultAgentName = "edgeAgent"

	// DefaultWatchdogPeriod is the interval between agent health checks
	DefaultWatchdogPeriod = 60 * time.Second

	// DefaultCleanupTime is the daily image prune start time (HH:MM)
	DefaultCleanupTime = "00:00"

	// DefaultPruneRecurrence is the interval between image prune runs
	DefaultPruneRecurrence = 24 * time.Hour

	// DefaultPruneMinAge is how long an image must be unused before removal
	DefaultPruneMinAge = 7 * 24 * time.Hour

	// DefaultRuntimeURI is the container runtime endpoint
	DefaultRuntimeURI = "unix:///var/run/docker.sock"

	// DefaultNetwork is the container network modules attach to
	DefaultNetwork = "edge-module-network"

	// DefaultTokenTTL is the lifetime of issued module API tokens
	DefaultTokenTTL = time.Hour
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Settings) {
	applyCoreDefaults(cfg)
	applyAgentDefaults(&cfg.Agent)
	applyConnectDefaults(cfg)
	applyWatchdogDefaults(&cfg.Watchdog)
	applyImagePruneDefaults(cfg)
	applyRuntimeDefaults(&cfg.Runtime)
	applyTrustDefaults(&cfg.Trust)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
}

// applyCoreDefaults sets homedir and hostname defaults.
func applyCoreDefaults(cfg *Settings) {
	if cfg.Homedir == "" {
		cfg.Homedir = DefaultHomedir
	}
	if cfg.Hostname == "" {
		// Fall back to the OS hostname; validation catches the case
		// where even that is unavailable
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}
	if cfg.Provisioning.Mode == "" {
		cfg.Provisioning.Mode = "manual"
	}
}

// applyAgentDefaults sets agent module defaults.
func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.Name == "" {
		cfg.Name = DefaultAgentName
	}
	// Image has no default - the agent image must be configured
}

// applyConnectDefaults derives connect URIs from listen URIs when unset.
// Modules on the host network can reach the same socket the daemon binds,
// so the listener address is the natural default.
func applyConnectDefaults(cfg *Settings) {
	if cfg.Listen.WorkloadURI == "" {
		cfg.Listen.WorkloadURI = "unix:///run/edged/workload.sock"
	}
	if cfg.Listen.ManagementURI == "" {
		cfg.Listen.ManagementURI = "unix:///run/edged/mgmt.sock"
	}
	if cfg.Connect.WorkloadURI == "" {
		cfg.Connect.WorkloadURI = cfg.Listen.WorkloadURI
	}
	if cfg.Connect.ManagementURI == "" {
		cfg.Connect.ManagementURI = cfg.Listen.ManagementURI
	}
}

// applyWatchdogDefaults sets watchdog defaults.
func applyWatchdogDefaults(cfg *WatchdogConfig) {
	if cfg.Period == 0 {
		cfg.Period = DefaultWatchdogPeriod
	}
	// MaxRetries zero value means retry forever
}

// applyImagePruneDefaults fills the image prune section.
// An absent section gets the full default set (pruning on, daily at
// midnight, week-old images eligible). A present section keeps its
// explicit values and has only the missing fields filled.
func applyImagePruneDefaults(cfg *Settings) {
	if cfg.ImagePrune == nil {
		cfg.ImagePrune = &ImagePruneConfig{}
	}
	p := cfg.ImagePrune
	if p.CleanupTime == "" {
		p.CleanupTime = DefaultCleanupTime
	}
	if p.Recurrence == 0 {
		p.Recurrence = DefaultPruneRecurrence
	}
	if p.MinAge == 0 {
		p.MinAge = DefaultPruneMinAge
	}
	// Enabled nil means on; IsEnabled handles it
}

// applyRuntimeDefaults sets container runtime defaults.
func applyRuntimeDefaults(cfg *RuntimeConfig) {
	if cfg.URI == "" {
		cfg.URI = DefaultRuntimeURI
	}
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
}

// applyTrustDefaults sets trust bundle and token defaults.
func applyTrustDefaults(cfg *TrustConfig) {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	// BundlePath and TokenSecret have no defaults; both are optional
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	// Daemons log to stderr; under systemd that is the journal stream.
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// GetDefaultSettings returns a Settings struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultSettings() *Settings {
	cfg := &Settings{
		Provisioning: ProvisioningConfig{
			Mode:     "manual",
			Endpoint: "http://localhost:8901",
			DeviceID: "edged-dev-device",
		},
		Agent: AgentConfig{
			// A concrete image so the default settings validate;
			// real deployments always override this
			Image: "ghcr.io/marmos91/edged-agent:latest",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
