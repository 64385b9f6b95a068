// Package commands implements the edged command line entry point.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/edged/internal/edged"
	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/metrics"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd is the daemon itself; edged has no subcommands. Running the
// binary runs the daemon until a terminal outcome.
var rootCmd = &cobra.Command{
	Use:   "edged",
	Short: "edged - edge device module daemon",
	Long: `edged supervises containerized modules on an edge device. It provisions
the device identity, keeps the agent module alive, serves the workload
and management APIs, and periodically prunes unused container images.

Use --config to point at a configuration file, or edged reads
/etc/edged/config.yaml and falls back to built-in defaults.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: /etc/edged/config.yaml)")
}

// Execute runs the daemon and maps its outcome to the process exit
// code. This is called by main.main().
func Execute() int {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)

	err := rootCmd.Execute()
	code := edged.ExitCode(err)

	switch {
	case err == nil:
	case edged.IsReprovisioned(err):
		// Not a failure: the device moved and the supervisor restarts
		// the daemon into a fresh provisioning round.
		logger.Info(err.Error(), logger.ExitCode(code))
	default:
		logger.Error("daemon failed", logger.Err(err), logger.ExitCode(code))
	}
	return code
}

func runDaemon(cmd *cobra.Command, args []string) error {
	settings, err := config.MustLoad(cfgFile)
	if err != nil {
		return &edged.Error{Kind: edged.KindConfig, Err: err}
	}

	if err := logger.Init(logger.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: settings.Logging.Output,
	}); err != nil {
		return &edged.Error{Kind: edged.KindConfig, Err: fmt.Errorf("initializing logger: %w", err)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        settings.Telemetry.Enabled,
		ServiceName:    "edged",
		ServiceVersion: Version,
		Endpoint:       settings.Telemetry.Endpoint,
		Insecure:       settings.Telemetry.Insecure,
		SampleRate:     settings.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        settings.Telemetry.Profiling.Enabled,
		ServiceName:    "edged",
		ServiceVersion: Version,
		Endpoint:       settings.Telemetry.Profiling.Endpoint,
		ProfileTypes:   settings.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("starting edged",
		"version", Version, "commit", Commit, "built", Date)
	logger.Info("configuration loaded", "source", configSource(cfgFile))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled",
			"endpoint", settings.Telemetry.Endpoint,
			"sample_rate", settings.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("profiling enabled",
			"endpoint", settings.Telemetry.Profiling.Endpoint,
			"profile_types", settings.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("profiling disabled")
	}

	// The metrics registry must exist before the daemon builds anything
	// that records into it.
	if settings.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled")
	} else {
		logger.Info("metrics collection disabled")
	}

	return edged.Run(ctx, settings)
}

// configSource returns a description of where the config was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
