// Package logging builds the process logger.
//
// Records are rendered as JSON, as slog text, or as colored one-line text
// for terminals. Timestamps are always shown in a fixed, configured zone so
// lines from different hosts compare directly.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// LevelNotice sits between INFO and WARN. It marks lines an operator wants
// to spot at a glance: a stored upload, an authenticated heartbeat.
const LevelNotice = slog.Level(2)

// TimeLayout is the timestamp layout used by every handler.
const TimeLayout = "2006-01-02 15:04:05 -07:00"

// Options configures New.
type Options struct {
	Level    string // debug, info, warn, error
	Format   string // text, json
	Color    string // auto, always, never
	Location *time.Location
	Output   io.Writer
}

// New returns a logger writing to opts.Output (stdout when nil).
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: replaceAttr(loc),
	}

	var h slog.Handler
	switch {
	case opts.Format == "json":
		h = slog.NewJSONHandler(out, handlerOpts)
	case useColor(opts.Color, out):
		h = newColorHandler(out, handlerOpts.Level, loc)
	default:
		h = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(h)
}

// ParseLevel maps a level name to a slog level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelName(l slog.Level) string {
	if l == LevelNotice {
		return "NOTICE"
	}
	return l.String()
}

func replaceAttr(loc *time.Location) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if t, ok := a.Value.Any().(time.Time); ok {
				a.Value = slog.StringValue(t.In(loc).Format(TimeLayout))
			}
		case slog.LevelKey:
			if l, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(levelName(l))
			}
		}
		return a
	}
}

func useColor(mode string, out io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
