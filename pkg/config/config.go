package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings represents the edged daemon configuration.
//
// This structure captures the static configuration of the daemon:
//   - Homedir and host identity
//   - Provisioning source (how the device obtains its identity)
//   - The agent module the watchdog keeps alive
//   - Listener and client-connect URIs for the two control-plane APIs
//   - Watchdog, image prune, and container runtime behavior
//   - Logging, telemetry, and metrics
//
// Module state (which workloads run, their images, their env) is owned by
// the agent at runtime and is never part of this file.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (EDGED_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Settings struct {
	// Homedir is the daemon state directory. The cache, mnt, and gc
	// subdirectories are created beneath it at startup.
	Homedir string `mapstructure:"homedir" validate:"required" yaml:"homedir"`

	// Hostname is the device hostname advertised to modules
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// ParentHostname is the gateway host used in nested topologies.
	// Agent environment values containing $upstream resolve to this.
	ParentHostname string `mapstructure:"parent_hostname" yaml:"parent_hostname,omitempty"`

	// Provisioning configures how the device obtains its identity
	Provisioning ProvisioningConfig `mapstructure:"provisioning" yaml:"provisioning"`

	// Agent describes the agent module the watchdog keeps running
	Agent AgentConfig `mapstructure:"agent" yaml:"agent"`

	// Connect holds the URIs modules use to reach the control-plane APIs
	Connect ConnectConfig `mapstructure:"connect" yaml:"connect"`

	// Listen holds the URIs the control-plane APIs bind to
	Listen ListenConfig `mapstructure:"listen" yaml:"listen"`

	// Watchdog controls agent supervision
	Watchdog WatchdogConfig `mapstructure:"watchdog" yaml:"watchdog"`

	// ImagePrune controls periodic removal of unused container images.
	// A nil section means pruning runs with all defaults.
	ImagePrune *ImagePruneConfig `mapstructure:"image_prune" yaml:"image_prune,omitempty"`

	// Runtime configures the container runtime connection
	Runtime RuntimeConfig `mapstructure:"runtime" yaml:"runtime"`

	// Trust configures the trust bundle served to modules and the
	// secret used to sign module API tokens
	Trust TrustConfig `mapstructure:"trust" yaml:"trust"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Provisioning modes accepted by ProvisioningConfig.Mode.
const (
	ProvisioningModeManual = "manual"
	ProvisioningModeDPS    = "dps"
)

// ProvisioningConfig configures how the device obtains its identity.
type ProvisioningConfig struct {
	// Mode selects the provisioning source.
	// Valid values: manual, dps
	Mode string `mapstructure:"mode" validate:"required,oneof=manual dps" yaml:"mode"`

	// Endpoint is the identity service endpoint.
	// For manual mode this is the hub endpoint; for dps mode the
	// provisioning service global endpoint.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// DeviceID is the device identity for manual provisioning
	DeviceID string `mapstructure:"device_id" yaml:"device_id,omitempty"`

	// Hub is the hub hostname the device reports to. Optional for
	// standalone devices with no upstream hub.
	Hub string `mapstructure:"hub" yaml:"hub,omitempty"`

	// RegistrationID is the registration identity for dps provisioning
	RegistrationID string `mapstructure:"registration_id" yaml:"registration_id,omitempty"`

	// ScopeID is the dps identity scope
	ScopeID string `mapstructure:"scope_id" yaml:"scope_id,omitempty"`

	// DynamicReprovisioning re-runs provisioning when the backing
	// identity changes out from under the device
	DynamicReprovisioning bool `mapstructure:"dynamic_reprovisioning" yaml:"dynamic_reprovisioning,omitempty"`
}

// AgentConfig describes the agent module the watchdog keeps alive.
// The agent is the one module edged manages directly; it in turn
// deploys and supervises every other module.
type AgentConfig struct {
	// Name is the module name the agent container is registered under.
	// Default: "edgeAgent"
	Name string `mapstructure:"name" yaml:"name"`

	// Image is the agent container image reference
	Image string `mapstructure:"image" validate:"required" yaml:"image"`

	// Env is injected into the agent container. Values may reference
	// $upstream, which resolves to ParentHostname before use.
	Env map[string]string `mapstructure:"env" yaml:"env,omitempty"`

	// CreateOptions is runtime-specific container creation JSON
	// passed through to the container runtime untouched
	CreateOptions string `mapstructure:"create_options" yaml:"create_options,omitempty"`
}

// ConnectConfig holds the URIs modules use to reach the control-plane APIs.
// These are handed to modules through their environment so they can find
// the workload and management sockets from inside their containers.
type ConnectConfig struct {
	// WorkloadURI is the workload API address as seen by modules
	WorkloadURI string `mapstructure:"workload_uri" yaml:"workload_uri"`

	// ManagementURI is the management API address as seen by modules
	ManagementURI string `mapstructure:"management_uri" yaml:"management_uri"`
}

// ListenConfig holds the URIs the control-plane APIs bind to.
// Supported schemes: http:// (TCP), unix:// (socket path), and fd://
// (socket activation, resolved through the init system).
type ListenConfig struct {
	// WorkloadURI is the workload API listener
	WorkloadURI string `mapstructure:"workload_uri" validate:"required" yaml:"workload_uri"`

	// ManagementURI is the management API listener
	ManagementURI string `mapstructure:"management_uri" validate:"required" yaml:"management_uri"`
}

// WatchdogConfig controls agent supervision.
type WatchdogConfig struct {
	// Period is the interval between agent health checks.
	// Default: 60s
	Period time.Duration `mapstructure:"period" yaml:"period"`

	// MaxRetries is the number of consecutive failed health checks
	// tolerated before the watchdog gives up and the daemon exits.
	// Zero means retry forever.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`
}

// RuntimeConfig configures the container runtime connection.
type RuntimeConfig struct {
	// URI is the container runtime endpoint.
	// Default: unix:///var/run/docker.sock
	URI string `mapstructure:"uri" yaml:"uri"`

	// Network is the container network modules are attached to.
	// Default: "edge-module-network"
	Network string `mapstructure:"network" yaml:"network"`
}

// TrustConfig configures the trust bundle served to modules and the
// signing secret for module API tokens.
type TrustConfig struct {
	// BundlePath is the PEM bundle served on the workload API and
	// watched for renewal. When the file changes on disk the daemon
	// restarts to pick up the new bundle.
	BundlePath string `mapstructure:"bundle_path" yaml:"bundle_path,omitempty"`

	// TokenSecret signs module API tokens (HS256). When empty a
	// process-lifetime secret is generated at startup, which means
	// tokens do not survive a daemon restart.
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret,omitempty"`

	// TokenTTL is the lifetime of issued module tokens.
	// Default: 1h
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// ImagePruneConfig controls periodic removal of unused container images.
//
// Enabled is a pointer so an omitted key keeps pruning on (the default)
// while an explicit false turns it off.
type ImagePruneConfig struct {
	// Enabled controls whether pruning runs at all.
	// Default: true
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`

	// CleanupTime is the local wall-clock time of the first run each
	// day, in 24-hour HH:MM format.
	// Default: "00:00"
	CleanupTime string `mapstructure:"cleanup_time" yaml:"cleanup_time"`

	// Recurrence is the interval between runs. Must be at least 24h.
	// Default: 24h
	Recurrence time.Duration `mapstructure:"recurrence" yaml:"recurrence"`

	// MinAge is how long an image must have been unused before it is
	// eligible for removal.
	// Default: 168h (7 days)
	MinAge time.Duration `mapstructure:"min_age" yaml:"min_age"`
}

// IsEnabled reports whether pruning should run. A nil receiver or nil
// Enabled field both mean the default, which is on.
func (c *ImagePruneConfig) IsEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics.
// Metrics are served on the management API at /metrics.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (EDGED_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Settings: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Settings, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultSettings()
		return cfg, nil
	}

	// Unmarshal into settings struct with custom decode hooks
	var cfg Settings
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad resolves and loads the daemon configuration with helpful
// error messages. An explicitly given path must exist; with no path the
// default location is used when present, and the daemon otherwise runs
// on built-in defaults.
func MustLoad(configPath string) (*Settings, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return Load("")
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create it, or point --config at an existing file:\n"+
				"  edged --config /path/to/config.yaml", configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveSettings saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveSettings(cfg *Settings, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with restricted permissions. The file may carry the module
	// token signing secret and provisioning credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use EDGED_ prefix and underscores
	// Example: EDGED_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("EDGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: /etc/edged/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// A daemon reads system-wide configuration from /etc/edged. EDGED_CONFIG_DIR
// overrides it, which keeps tests and rootless runs away from /etc.
func getConfigDir() string {
	if dir := os.Getenv("EDGED_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/edged"
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}
