// Package workload runs the module-facing control-plane API and tracks
// which modules exist. Modules reach it over the workload socket to
// fetch the trust bundle, look up the device they run on, and obtain
// API tokens; the runtime feeds it lifecycle events so only modules
// that actually exist can do any of that.
package workload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/edged/internal/edged/listen"
	"github.com/marmos91/edged/internal/edged/tasks"
	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/identity"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
)

// Server timeouts for the workload API. Module calls are small and
// quick; anything slower is a stuck client.
const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	serverIdleTimeout  = 60 * time.Second

	// workloadSocketMode opens the socket wide: module containers reach
	// it through a bind mount and run under arbitrary users.
	workloadSocketMode = 0o666

	shutdownTimeout = 5 * time.Second
)

// Manager owns the module registry and the workload HTTP API.
type Manager struct {
	settings *config.Settings
	device   identity.DeviceInfo
	counter  *tasks.Counter
	actions  <-chan runtime.ModuleAction
	metrics  *metrics.DaemonMetrics

	tokens  *TokenService
	server  *http.Server
	ln      net.Listener
	watcher *bundleWatcher

	shutdown chan struct{}

	mu       sync.RWMutex
	registry map[string]struct{}
}

// Start binds the workload listener, seeds the module registry from
// the runtime, and prepares the HTTP API. Serving does not begin until
// Serve is called; the returned channel requests a graceful stop.
//
// The registry seed covers modules that predate this daemon instance:
// a restarted daemon finds the agent already running, so no start
// event will ever announce it.
func Start(
	ctx context.Context,
	settings *config.Settings,
	rt runtime.Runtime,
	device identity.DeviceInfo,
	counter *tasks.Counter,
	actions <-chan runtime.ModuleAction,
	watchdogTx chan<- watchdog.Action,
	dm *metrics.DaemonMetrics,
) (*Manager, chan<- struct{}, error) {
	ln, err := listen.Bind(settings.Listen.WorkloadURI, workloadSocketMode)
	if err != nil {
		return nil, nil, fmt.Errorf("binding workload listener: %w", err)
	}

	tokens, err := NewTokenService(settings.Trust.TokenSecret, settings.Trust.TokenTTL)
	if err != nil {
		ln.Close()
		return nil, nil, err
	}

	m := &Manager{
		settings: settings,
		device:   device,
		counter:  counter,
		actions:  actions,
		metrics:  dm,
		tokens:   tokens,
		ln:       ln,
		shutdown: make(chan struct{}, 1),
		registry: make(map[string]struct{}),
	}

	modules, err := rt.ListModules(ctx)
	if err != nil {
		ln.Close()
		return nil, nil, fmt.Errorf("seeding module registry: %w", err)
	}
	for _, mod := range modules {
		m.registry[mod.Name] = struct{}{}
	}

	m.server = &http.Server{
		Handler:      m.router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	if settings.Trust.BundlePath != "" {
		w, err := watchBundle(settings.Trust.BundlePath, watchdogTx)
		if err != nil {
			// The API can still serve whatever bundle is on disk;
			// without the watch a rotation needs a manual restart.
			logger.Warn("trust bundle renewal detection unavailable", logger.Err(err))
		} else {
			m.watcher = w
		}
	}

	logger.Info("workload API listening",
		"uri", settings.Listen.WorkloadURI,
		"modules", len(m.registry))
	return m, m.shutdown, nil
}

// Serve runs the accept loop and the action-consumption loop as one
// task. It returns when a shutdown is requested, ctx is cancelled, or
// the server fails, releasing the task counter exactly once.
func (m *Manager) Serve(ctx context.Context) error {
	defer m.counter.Release()
	if m.watcher != nil {
		defer m.watcher.Close()
	}

	serveErr := make(chan error, 1)
	go func() {
		err := m.server.Serve(m.ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	for {
		select {
		case action := <-m.actions:
			m.applyAction(action)

		case <-m.shutdown:
			logger.Info("workload API shutdown requested")
			return m.stopServer()

		case <-ctx.Done():
			_ = m.stopServer()
			return ctx.Err()

		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("workload API failed: %w", err)
			}
			return nil
		}
	}
}

func (m *Manager) stopServer() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("workload API shutdown: %w", err)
	}
	logger.Info("workload API stopped")
	return nil
}

// applyAction folds one runtime lifecycle event into the registry.
// Start events are acknowledged only after the module is registered,
// so a module can never run ahead of its own registration. Stopped
// modules stay registered; they still exist and may restart.
func (m *Manager) applyAction(a runtime.ModuleAction) {
	switch a.Kind {
	case runtime.ActionStart:
		m.mu.Lock()
		m.registry[a.Module] = struct{}{}
		m.mu.Unlock()
		if a.Ready != nil {
			close(a.Ready)
		}
		logger.Debug("module registered", logger.Module(a.Module))

	case runtime.ActionRemove:
		m.mu.Lock()
		delete(m.registry, a.Module)
		m.mu.Unlock()
		logger.Debug("module deregistered", logger.Module(a.Module))

	case runtime.ActionStop:
		// Nothing to fold in.
	}
}

// Registered reports whether a module is known to the registry.
func (m *Manager) Registered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registry[name]
	return ok
}

// Modules returns the registered module names, sorted.
func (m *Manager) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.registry))
	for name := range m.registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
