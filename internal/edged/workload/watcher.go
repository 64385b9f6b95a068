package workload

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/edged/internal/edged/watchdog"
	"github.com/marmos91/edged/internal/logger"
)

// bundleWatcher watches the trust bundle file and posts a cert-renewal
// action when it changes, so the daemon restarts into the new CA.
//
// Certificate tooling typically replaces the bundle atomically (write
// to a temp file, rename over), which a watch on the file itself would
// miss. The watch is therefore on the parent directory, with events
// filtered by file name.
type bundleWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
}

func watchBundle(path string, watchdogTx chan<- watchdog.Action) (*bundleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating trust bundle watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching trust bundle directory: %w", err)
	}

	bw := &bundleWatcher{
		watcher: w,
		path:    path,
		done:    make(chan struct{}),
	}
	go bw.loop(watchdogTx)

	logger.Info("watching trust bundle for renewal", logger.Path(path))
	return bw, nil
}

func (b *bundleWatcher) loop(watchdogTx chan<- watchdog.Action) {
	defer close(b.done)

	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != b.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Info("trust bundle changed, requesting restart",
				logger.Path(b.path), "op", event.Op.String())
			watchdog.Notify(watchdogTx, watchdog.ActionCertRenewal)

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("trust bundle watcher error", logger.Err(err))
		}
	}
}

// Close stops the watcher and waits for its event loop to drain.
func (b *bundleWatcher) Close() error {
	err := b.watcher.Close()
	<-b.done
	return err
}
