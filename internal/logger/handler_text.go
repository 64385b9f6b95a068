package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// textMode selects how text lines are dressed for their destination.
type textMode int

const (
	// modePlain writes timestamped lines without escape codes.
	modePlain textMode = iota
	// modeColor writes terminal lines with colored levels and short
	// times.
	modeColor
	// modeJournal prefixes lines with sd-daemon priorities and leaves
	// timestamps to journald.
	modeJournal
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// textHandler is the slog handler behind the daemon's text format.
type textHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Level
	mode  textMode

	attrs  []slog.Attr
	prefix string // dotted group path applied to attribute keys
}

func newTextHandler(w io.Writer, level slog.Level, mode textMode) *textHandler {
	return &textHandler{
		w:     w,
		mu:    new(sync.Mutex),
		level: level,
		mode:  mode,
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	// Assemble the whole line first; the lock is held only for the
	// single write.
	var buf []byte

	switch h.mode {
	case modeJournal:
		buf = fmt.Appendf(buf, "<%d>%s", levelPriority(r.Level), r.Message)
	case modeColor:
		buf = fmt.Appendf(buf, "%s %s %s",
			r.Time.Format("15:04:05.000"), coloredLevel(r.Level), r.Message)
	default:
		buf = fmt.Appendf(buf, "%s %-5s %s",
			r.Time.Format("2006-01-02T15:04:05.000Z07:00"), levelLabel(r.Level), r.Message)
	}

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.prefix + a.Key
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + name + "."
	return c
}

// clone shares the writer mutex so every derived handler serializes on
// the same output.
func (h *textHandler) clone() *textHandler {
	return &textHandler{
		w:      h.w,
		mu:     h.mu,
		level:  h.level,
		mode:   h.mode,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		prefix: h.prefix,
	}
}

func (h *textHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	// Groups flatten into dotted keys.
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			g.Key = a.Key + "." + g.Key
			buf = h.appendAttr(buf, g)
		}
		return buf
	}

	if h.mode == modeColor {
		return fmt.Appendf(buf, " %s%s%s=%s", colorCyan, a.Key, colorReset, textValue(a.Value))
	}
	return fmt.Appendf(buf, " %s=%s", a.Key, textValue(a.Value))
}

// textValue renders a value, quoting anything that would break the
// key=value grammar.
func textValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		s = fmt.Sprintf("%v", v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// levelPriority maps slog levels to the syslog priorities journald
// filters on.
func levelPriority(l slog.Level) journal.Priority {
	switch {
	case l < slog.LevelInfo:
		return journal.PriDebug
	case l < slog.LevelWarn:
		return journal.PriInfo
	case l < slog.LevelError:
		return journal.PriWarning
	default:
		return journal.PriErr
	}
}

func levelLabel(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

func coloredLevel(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return colorGray + "DEBUG" + colorReset
	case l < slog.LevelWarn:
		return colorGreen + "INFO " + colorReset
	case l < slog.LevelError:
		return colorYellow + "WARN " + colorReset
	default:
		return colorRed + "ERROR" + colorReset
	}
}
