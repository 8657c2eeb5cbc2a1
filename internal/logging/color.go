package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// noticeColor is the ANSI colour (bright magenta) for NOTICE level names.
const noticeColor = 13

// newColorHandler returns a tint handler for terminals. Timestamps keep
// their time.Time kind so tint formats them with TimeLayout in loc.
func newColorHandler(out io.Writer, level slog.Leveler, loc *time.Location) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: TimeLayout,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.TimeValue(t.In(loc))
				}
			case slog.LevelKey:
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelNotice {
					return tint.Attr(noticeColor, slog.String(slog.LevelKey, "NOTICE"))
				}
			}
			return a
		},
	})
}
