// Package watchdog keeps the agent module alive and decides when the
// daemon leaves its steady state. It owns the receiving end of the
// shared action channel: signal handlers, the management API, and the
// trust bundle watcher all post to it, and the first action received
// ends supervision.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
)

// Action is the reason the daemon leaves its steady state. The set is
// closed: subsystems post one of these three and nothing else.
type Action int

const (
	// ActionSignal reports SIGINT or SIGTERM. Clean shutdown.
	ActionSignal Action = iota

	// ActionReprovision reports that the device must obtain a fresh
	// identity. The daemon exits with a dedicated code so the init
	// system restarts it into a new provisioning round.
	ActionReprovision

	// ActionCertRenewal reports a rotated trust bundle. The daemon
	// restarts cleanly and serves the new bundle after it comes back.
	ActionCertRenewal
)

func (a Action) String() string {
	switch a {
	case ActionSignal:
		return "signal"
	case ActionReprovision:
		return "reprovision"
	case ActionCertRenewal:
		return "cert-renewal"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ChannelCapacity sizes the shared action channel. Posts never block,
// so the buffer only has to absorb the burst between two watchdog
// wakeups.
const ChannelCapacity = 8

// NewChannel builds the action channel shared by every subsystem that
// can ask the daemon to stop.
func NewChannel() chan Action {
	return make(chan Action, ChannelCapacity)
}

// Notify posts an action without blocking and reports whether it was
// accepted. A full or abandoned channel drops the action, which is safe
// because in both cases the daemon is already on its way down.
func Notify(ch chan<- Action, a Action) bool {
	select {
	case ch <- a:
		return true
	default:
		return false
	}
}

// IdentityChecker verifies that the device identity the daemon started
// with still holds. A nil checker skips the verification; manual
// provisioning has no identity service to ask.
type IdentityChecker interface {
	CheckIdentity(ctx context.Context, expected identity.DeviceInfo) error
}

// Run supervises the agent module until an action arrives or
// supervision itself fails.
//
// Each cycle makes sure the agent exists and runs, creating and
// starting it from the settings when missing and restarting it when
// stopped, then confirms the device identity is still current. Cycles
// repeat every Watchdog.Period. More than MaxRetries consecutive
// failed cycles end supervision with an error; MaxRetries zero retries
// forever. An identity change ends supervision immediately, retries
// cannot fix it.
//
// Run returns exactly once. The returned Action is meaningful only
// when the error is nil.
func Run(
	ctx context.Context,
	settings *config.Settings,
	device identity.DeviceInfo,
	rt runtime.Runtime,
	checker IdentityChecker,
	m *metrics.DaemonMetrics,
	actions <-chan Action,
) (Action, error) {
	period := settings.Watchdog.Period
	if period <= 0 {
		period = config.DefaultWatchdogPeriod
	}

	logger.Info("watchdog started",
		logger.Module(settings.Agent.Name),
		"period", period.String(),
		"max_retries", settings.Watchdog.MaxRetries)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	failures := 0
	for {
		// An action that arrived while we slept wins over the health
		// cycle: no point restarting an agent the daemon is about to
		// stop anyway.
		select {
		case a := <-actions:
			logger.Info("watchdog received action", logger.Action(a.String()))
			return a, nil
		default:
		}

		if err := ensureAgent(ctx, settings, device, rt, checker, m); err != nil {
			if errors.Is(err, identity.ErrIdentityChanged) {
				return ActionSignal, fmt.Errorf("device identity changed while running: %w", err)
			}

			failures++
			m.WatchdogFailure()
			logger.Warn("watchdog cycle failed", logger.Err(err), logger.Attempt(failures))

			if max := settings.Watchdog.MaxRetries; max > 0 && failures > max {
				return ActionSignal, fmt.Errorf("watchdog gave up after %d consecutive failures: %w", failures, err)
			}
		} else {
			failures = 0
		}

		select {
		case a := <-actions:
			logger.Info("watchdog received action", logger.Action(a.String()))
			return a, nil
		case <-ctx.Done():
			return ActionSignal, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ensureAgent is one health cycle: the agent module must exist and run,
// and the device identity must still match what the daemon started
// with.
func ensureAgent(
	ctx context.Context,
	settings *config.Settings,
	device identity.DeviceInfo,
	rt runtime.Runtime,
	checker IdentityChecker,
	m *metrics.DaemonMetrics,
) error {
	modules, err := rt.ListModules(ctx)
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}

	name := settings.Agent.Name
	var agent *runtime.Module
	for i := range modules {
		if modules[i].Name == name {
			agent = &modules[i]
			break
		}
	}

	switch {
	case agent == nil:
		logger.Info("agent module not found, creating it",
			logger.Module(name), logger.Image(settings.Agent.Image))
		spec := settings.AgentSpec(deviceEnv(device))
		if err := rt.CreateModule(ctx, spec); err != nil {
			return fmt.Errorf("creating agent module: %w", err)
		}
		if err := rt.StartModule(ctx, name); err != nil {
			return fmt.Errorf("starting agent module: %w", err)
		}
		m.AgentRestarted()

	case agent.Status != runtime.StatusRunning:
		logger.Info("agent module is not running, restarting it",
			logger.Module(name), "status", string(agent.Status))
		if err := rt.RestartModule(ctx, name); err != nil {
			return fmt.Errorf("restarting agent module: %w", err)
		}
		m.AgentRestarted()
	}

	if checker != nil {
		if err := checker.CheckIdentity(ctx, device); err != nil {
			return fmt.Errorf("checking device identity: %w", err)
		}
	}
	return nil
}

// deviceEnv is the identity environment the agent bootstrap receives.
// Empty fields are omitted rather than exported as empty variables.
func deviceEnv(device identity.DeviceInfo) map[string]string {
	env := make(map[string]string, 3)
	if device.DeviceID != "" {
		env[config.EnvDeviceID] = device.DeviceID
	}
	if device.HubName != "" {
		env[config.EnvHub] = device.HubName
	}
	if device.GatewayHost != "" {
		env[config.EnvGatewayHost] = device.GatewayHost
	}
	return env
}
