// Package logger is the daemon's process-wide structured logger, a thin
// front end over log/slog. It self-initializes so code that runs before
// the settings are loaded can already log; Init reconfigures it once the
// logging section is known.
//
// Text output adapts to where it lands. Under systemd the journal
// captures the daemon's stderr, so lines carry sd-daemon priority
// prefixes and no timestamp (journald records its own). On a terminal
// levels are colored. Anywhere else lines are plain with a full
// timestamp.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/mattn/go-isatty"
)

// Config selects the level, format and destination of daemon logs. It
// mirrors the logging section of the daemon settings.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text or json
	Output string // stderr, stdout, or a file path
}

var (
	mu      sync.RWMutex
	slogger *slog.Logger

	// minLevel gates the package-level logging funcs before any
	// argument handling happens.
	minLevel atomic.Int32
)

func init() {
	configure(os.Stderr, slog.LevelInfo, "text", detectMode(os.Stderr, stderrStream))
}

// Init applies the logging configuration. An unknown level or format
// and an unopenable log file are reported as errors; the caller treats
// them as configuration failures.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	w, mode, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}

	configure(w, level, format, mode)
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// openOutput resolves the configured destination. The standard streams
// are probed for the journal and for a terminal; files always get plain
// text.
func openOutput(output string) (io.Writer, textMode, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, detectMode(os.Stderr, stderrStream), nil
	case "stdout":
		return os.Stdout, detectMode(os.Stdout, stdoutStream), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, modePlain, fmt.Errorf("opening log file %q: %w", output, err)
		}
		return f, modePlain, nil
	}
}

type stdStream int

const (
	stderrStream stdStream = iota
	stdoutStream
)

// detectMode classifies a standard stream. The journal check comes
// first: a journal socket is not a terminal, and falling through to the
// terminal check would dress journal lines as plain text without the
// priority prefixes journald filters on.
func detectMode(f *os.File, s stdStream) textMode {
	onJournal := false
	switch s {
	case stderrStream:
		onJournal, _ = journal.StderrIsJournalStream()
	case stdoutStream:
		onJournal, _ = journal.StdoutIsJournalStream()
	}
	if onJournal {
		return modeJournal
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return modeColor
	}
	return modePlain
}

// configure swaps the active handler. Tests call it directly to log
// into a buffer.
func configure(w io.Writer, level slog.Level, format string, mode textMode) {
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		h = newTextHandler(w, level, mode)
	}

	mu.Lock()
	slogger = slog.New(h)
	mu.Unlock()
	minLevel.Store(int32(level))
}

func active() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level. Arguments alternate keys and values, slog
// style; the helpers in fields.go build typed attributes.
func Debug(msg string, args ...any) {
	if minLevel.Load() > int32(slog.LevelDebug) {
		return
	}
	active().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if minLevel.Load() > int32(slog.LevelInfo) {
		return
	}
	active().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if minLevel.Load() > int32(slog.LevelWarn) {
		return
	}
	active().Warn(msg, args...)
}

// Error logs at error level. Errors are never filtered.
func Error(msg string, args ...any) {
	active().Error(msg, args...)
}
