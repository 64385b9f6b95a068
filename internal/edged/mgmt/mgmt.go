// Package mgmt runs the operator-facing management API. Operator
// tooling reaches it over the management socket to inspect modules,
// restart them, read a host health snapshot, scrape metrics, and
// request a device reprovision.
package mgmt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/marmos91/edged/internal/edged/listen"
	"github.com/marmos91/edged/internal/edged/tasks"
	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/pkg/config"
	"github.com/marmos91/edged/pkg/metrics"
	"github.com/marmos91/edged/pkg/runtime"
)

// Server timeouts for the management API. Operator calls are small and
// quick; anything slower is a stuck client.
const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	serverIdleTimeout  = 60 * time.Second

	// mgmtSocketMode keeps the socket to root and the daemon group.
	// Operator tooling joins the group instead of running as root.
	mgmtSocketMode = 0o660

	shutdownTimeout = 5 * time.Second
)

// Server is the management API server.
type Server struct {
	settings   *config.Settings
	rt         runtime.Runtime
	watchdogTx chan<- watchdog.Action
	counter    *tasks.Counter
	metrics    *metrics.DaemonMetrics

	server *http.Server
	ln     net.Listener

	shutdown chan struct{}
}

// Start binds the management listener and serves immediately in its own
// goroutine. The returned channel requests a graceful stop; the serving
// goroutine releases the task counter exactly once when it exits.
//
// The watchdog sender is part of the contract because reprovisioning is
// requested over this API and delivered as a watchdog action.
func Start(
	ctx context.Context,
	settings *config.Settings,
	rt runtime.Runtime,
	watchdogTx chan<- watchdog.Action,
	counter *tasks.Counter,
	dm *metrics.DaemonMetrics,
) (chan<- struct{}, error) {
	ln, err := listen.Bind(settings.Listen.ManagementURI, mgmtSocketMode)
	if err != nil {
		return nil, fmt.Errorf("binding management listener: %w", err)
	}

	s := &Server{
		settings:   settings,
		rt:         rt,
		watchdogTx: watchdogTx,
		counter:    counter,
		metrics:    dm,
		ln:         ln,
		shutdown:   make(chan struct{}, 1),
	}
	s.server = &http.Server{
		Handler:      s.router(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go s.serve(ctx)

	logger.Info("management API listening", "uri", settings.Listen.ManagementURI)
	return s.shutdown, nil
}

// serve runs the accept loop until a shutdown is requested, ctx is
// cancelled, or the server fails. A serve failure is logged rather than
// propagated: the daemon stays up on the workload API and the watchdog,
// degraded but still supervising its modules.
func (s *Server) serve(ctx context.Context) {
	defer s.counter.Release()

	serveErr := make(chan error, 1)
	go func() {
		err := s.server.Serve(s.ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-s.shutdown:
		logger.Info("management API shutdown requested")
		s.stopServer()

	case <-ctx.Done():
		s.stopServer()

	case err := <-serveErr:
		if err != nil {
			logger.Error("management API failed", logger.Err(err))
		}
	}
}

func (s *Server) stopServer() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("management API shutdown failed", logger.Err(err))
		return
	}
	logger.Info("management API stopped")
}
