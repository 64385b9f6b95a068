package edged

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/logger"
)

// setSignalHandlers bridges SIGINT and SIGTERM onto the watchdog action
// channel. Each delivery posts one ActionSignal without blocking; once
// the daemon stops draining the channel further posts are dropped, which
// is fine because a shutdown is already underway. The listeners are
// never torn down, they die with the process.
func setSignalHandlers(watchdogTx chan<- watchdog.Action) {
	listenSignal(os.Interrupt, watchdogTx)
	listenSignal(syscall.SIGTERM, watchdogTx)
}

func listenSignal(sig os.Signal, watchdogTx chan<- watchdog.Action) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)

	go func() {
		for s := range ch {
			logger.Info("received signal, requesting shutdown",
				logger.KeySignal, s.String())
			watchdog.Notify(watchdogTx, watchdog.ActionSignal)
		}
	}()
}
