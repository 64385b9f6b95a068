// Package edged orchestrates the daemon lifecycle: configuration check,
// state bootstrap, identity provisioning, module runtime and
// control-plane startup, steady-state supervision, and ordered
// shutdown.
package edged

import (
	"context"
	"errors"
	"fmt"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"github.com/marmos91/edged/internal/edged/imagegc"
	"github.com/marmos91/edged/internal/edged/mgmt"
	"github.com/marmos91/edged/internal/edged/tasks"
	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/edged/workload"
	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/imageprune"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
	"github.com/marmos91/edged/pkg/runtime/docker"
)

const (
	// stopAllTimeout bounds how long each module left over from a
	// previous daemon instance gets to stop cleanly at startup.
	stopAllTimeout = 30 * time.Second

	// drainBudget and drainPoll bound the shutdown wait for the API
	// serving tasks.
	drainBudget = 10 * time.Second
	drainPoll   = 100 * time.Millisecond

	// moduleActionBuffer absorbs bursts of runtime lifecycle events
	// while the workload manager is busy elsewhere.
	moduleActionBuffer = 64

	// servingTasks is the number of serving tasks the daemon waits on
	// during shutdown: the workload API and the management API.
	servingTasks = 2
)

// Run executes the daemon lifecycle and blocks until a terminal
// outcome. It returns nil on a clean stop (signal or certificate
// renewal) and an *Error tagged with the failing phase otherwise; a
// successful reprovision comes back as the informational
// KindReprovisioned outcome.
func Run(ctx context.Context, settings *config.Settings) error {
	startCtx, startupSpan := telemetry.StartLifecycleSpan(ctx, telemetry.SpanStartup)
	failStartup := func(e *Error) error {
		telemetry.RecordError(startCtx, e)
		startupSpan.End()
		return e
	}

	// A bad prune policy must be caught before anything touches the
	// system.
	gcOpts, err := config.CheckImagePruneSettings(settings.ImagePrune)
	if err != nil {
		return failStartup(newError(KindConfig, "checking image prune settings: %w", err))
	}

	d, err := bootstrapDirs(settings.Homedir)
	if err != nil {
		return failStartup(newError(KindDirectory, "%w", err))
	}

	idClient := identity.NewClient(settings.Provisioning.Endpoint)
	device, err := idClient.Provision(startCtx, settings.Provisioning, d.cache)
	if err != nil {
		return failStartup(newError(KindProvision, "resolving device identity: %w", err))
	}
	logger.Info("device identity resolved",
		logger.DeviceID(device.DeviceID),
		logger.KeyHub, device.HubName,
		logger.Gateway(device.GatewayHost))

	dm := metrics.NewDaemonMetrics()
	actions := make(chan runtime.ModuleAction, moduleActionBuffer)

	store, err := imageprune.Open(d.gc)
	if err != nil {
		return failStartup(newError(KindRuntimeInit, "%w", err))
	}
	defer func() { _ = store.Close() }()

	rt, err := docker.New(startCtx, settings.Runtime, actions, store)
	if err != nil {
		return failStartup(newError(KindRuntimeInit, "%w", err))
	}
	defer func() { _ = rt.Close() }()

	// Modules from a previous daemon instance must not observe a
	// half-started control plane.
	stopCtx, stopSpan := telemetry.StartLifecycleSpan(startCtx, telemetry.SpanStopAll)
	if err := rt.StopAll(stopCtx, stopAllTimeout); err != nil {
		logger.Warn("failed to stop modules on startup", logger.Err(err))
	} else {
		logger.Info("all modules stopped")
	}
	stopSpan.End()

	counter := tasks.NewCounter(servingTasks)
	watchdogCh := watchdog.NewChannel()

	manager, workloadShutdown, err := workload.Start(startCtx, settings, rt, device,
		counter, actions, watchdogCh, dm)
	if err != nil {
		return failStartup(newError(KindSubsystemStart, "starting workload API: %w", err))
	}

	// Persist the identity only now that the runtime is confirmed up;
	// an identity change clears the modules through it.
	if err := updateDeviceCache(startCtx, d.cache, device, rt); err != nil {
		return failStartup(newError(KindProvision, "%w", err))
	}

	// Resolve $upstream references once the gateway is known. Every
	// later phase uses the derived copy.
	gateway := device.GatewayHost
	if gateway == "" {
		gateway = settings.ParentHostname
	}
	derived := settings.AgentUpstreamResolve(gateway)
	settings = &derived

	mgmtShutdown, err := mgmt.Start(ctx, settings, rt, watchdogCh, counter, dm)
	if err != nil {
		return failStartup(newError(KindSubsystemStart, "starting management API: %w", err))
	}

	go func() {
		if err := manager.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("workload API stopped unexpectedly", logger.Err(err))
		}
	}()

	setSignalHandlers(watchdogCh)

	telemetry.SetAttributes(startCtx, telemetry.DeviceID(device.DeviceID))
	startupSpan.End()
	logger.Info("daemon started", logger.DeviceID(device.DeviceID))
	notifySupervisor(sd.SdNotifyReady)

	// Manual provisioning has no identity service to poll, so the
	// watchdog skips the identity check.
	var checker watchdog.IdentityChecker
	if settings.Provisioning.Mode != config.ProvisioningModeManual {
		checker = idClient
	}

	reason, err := superviseSteadyState(ctx, settings, device, rt, checker,
		gcOpts, store, dm, imagegc.Run, watchdogCh)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return newError(KindSteadyState, "%w", err)
		}
		// A cancelled context is the embedding caller asking for a
		// stop; treat it like a signal.
		reason = watchdog.ActionSignal
	}

	logger.Info("shutting down", logger.Action(reason.String()))
	notifySupervisor(sd.SdNotifyStopping)

	shutdownCtx, shutdownSpan := telemetry.StartLifecycleSpan(ctx, telemetry.SpanShutdown,
		telemetry.Action(reason.String()))
	requestShutdown("management", mgmtShutdown)
	requestShutdown("workload", workloadShutdown)
	drainTasks(shutdownCtx, counter, drainBudget, drainPoll)
	shutdownSpan.End()

	return finishShutdown(shutdownCtx, reason, idClient, d.cache)
}

// gcRunner matches imagegc.Run so supervision tests can stand in for
// the real maintenance loop.
type gcRunner func(ctx context.Context, bootstrapImage string, opts config.ImagePruneOptions,
	rt runtime.Runtime, store *imageprune.Store, m *metrics.DaemonMetrics) error

// superviseSteadyState runs the health watchdog, plus the image GC
// maintenance loop when pruning is enabled, until steady state ends.
// The watchdog finishing first decides the shutdown reason and the GC
// loop is cancelled behind it. The GC loop finishing at all is fatal,
// even with a watchdog result pending: a healthy maintenance loop never
// returns.
func superviseSteadyState(
	ctx context.Context,
	settings *config.Settings,
	device identity.DeviceInfo,
	rt runtime.Runtime,
	checker watchdog.IdentityChecker,
	gcOpts config.ImagePruneOptions,
	store *imageprune.Store,
	dm *metrics.DaemonMetrics,
	runGC gcRunner,
	actions <-chan watchdog.Action,
) (watchdog.Action, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type watchdogResult struct {
		action watchdog.Action
		err    error
	}
	watchdogDone := make(chan watchdogResult, 1)
	go func() {
		action, err := watchdog.Run(ctx, settings, device, rt, checker, dm, actions)
		watchdogDone <- watchdogResult{action: action, err: err}
	}()

	if !gcOpts.Enabled {
		res := <-watchdogDone
		return res.action, res.err
	}

	gcDone := make(chan error, 1)
	go func() {
		gcDone <- runGC(ctx, settings.Agent.Image, gcOpts, rt, store, dm)
	}()

	select {
	case res := <-watchdogDone:
		return res.action, res.err

	case err := <-gcDone:
		if ctx.Err() != nil {
			// The caller's context ended both loops; report the
			// watchdog's outcome, not a GC failure.
			res := <-watchdogDone
			return res.action, res.err
		}
		logger.Error("image garbage collection stopped unexpectedly", logger.Err(err))
		if err == nil {
			err = errors.New("image garbage collection stopped unexpectedly")
		}
		return watchdog.ActionSignal, fmt.Errorf("image garbage collection: %w", err)
	}
}

// notifySupervisor reports lifecycle state to the init system when one
// is listening. Outside systemd the call is a no-op.
func notifySupervisor(state string) {
	if _, err := sd.SdNotify(false, state); err != nil {
		logger.Warn("failed to notify init system", logger.Err(err))
	}
}

// requestShutdown posts the one-shot stop trigger for an API server.
// The trigger has capacity one and is sent exactly once per lifecycle;
// a full buffer is a sequencing bug, logged and survived.
func requestShutdown(name string, ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
		logger.Error("shutdown trigger already pending", logger.API(name))
	}
}

// drainTasks polls the task counter until both servers have stopped or
// the budget runs out. On timeout the outstanding count is logged and
// shutdown proceeds; a stuck server must not wedge the daemon open.
func drainTasks(ctx context.Context, counter *tasks.Counter, budget, poll time.Duration) {
	_, span := telemetry.StartLifecycleSpan(ctx, telemetry.SpanDrain,
		telemetry.Tasks(counter.Outstanding()))
	defer span.End()

	deadline := time.Now().Add(budget)
	for counter.Outstanding() > 0 {
		if time.Now().After(deadline) {
			logger.Warn("servers did not stop in time, proceeding with shutdown",
				logger.Tasks(counter.Outstanding()))
			return
		}
		time.Sleep(poll)
	}
	logger.Info("all servers stopped")
}

// finishShutdown maps the shutdown reason to the daemon's terminal
// outcome.
func finishShutdown(ctx context.Context, reason watchdog.Action, idClient *identity.Client, cacheDir string) error {
	switch reason {
	case watchdog.ActionReprovision:
		if err := idClient.Reprovision(ctx, cacheDir); err != nil {
			return newError(KindReprovisionFailed, "reprovisioning device: %w", err)
		}
		return newError(KindReprovisioned,
			"device reprovisioned, restarting to pick up the new identity")

	case watchdog.ActionCertRenewal:
		logger.Info("shutting down for certificate renewal")
		return nil

	default:
		return nil
	}
}
