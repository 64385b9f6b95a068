// Package listen turns the daemon's listener URIs into bound
// net.Listeners. Three schemes are supported, matching the settings
// validation: http:// binds a TCP port, unix:// binds a socket file,
// and fd:// picks up a socket passed in by the init system.
package listen

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/marmos91/edged/internal/logger"
)

// Bind resolves uri into a listening socket. socketMode applies only to
// unix:// listeners; the workload socket is opened wide so module
// containers can reach it over a bind mount, the management socket is
// kept group-only.
func Bind(uri string, socketMode os.FileMode) (net.Listener, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid listen uri %q: %w", uri, err)
	}

	switch u.Scheme {
	case "http":
		return bindTCP(u)
	case "unix":
		return bindUnix(u.Path, socketMode)
	case "fd":
		return bindActivated(u.Host)
	default:
		return nil, fmt.Errorf("unsupported listen scheme %q in %q", u.Scheme, uri)
	}
}

func bindTCP(u *url.URL) (net.Listener, error) {
	if u.Port() == "" {
		return nil, fmt.Errorf("http listen uri %q requires an explicit port", u.String())
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", u.Host, err)
	}
	return ln, nil
}

// bindUnix binds a socket file, replacing any stale socket a previous
// run left behind. Refusing to remove non-socket files keeps a
// misconfigured path from destroying unrelated data.
func bindUnix(path string, mode os.FileMode) (net.Listener, error) {
	if path == "" {
		return nil, fmt.Errorf("unix listen uri is missing a socket path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("listen path %q exists and is not a socket", path)
		}
		logger.Debug("removing stale socket", logger.Path(path))
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	return ln, nil
}

// bindActivated resolves a socket handed over by systemd socket
// activation. The fd:// host names the FileDescriptorName= of the unit;
// an empty name takes the first passed socket.
func bindActivated(name string) (net.Listener, error) {
	byName, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("reading activated sockets: %w", err)
	}

	if name == "" {
		for _, lns := range byName {
			if len(lns) > 0 {
				return lns[0], nil
			}
		}
		return nil, fmt.Errorf("no activated sockets were passed to the daemon")
	}

	lns, ok := byName[name]
	if !ok || len(lns) == 0 {
		return nil, fmt.Errorf("no activated socket named %q", name)
	}
	return lns[0], nil
}
