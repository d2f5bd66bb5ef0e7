// Package logging builds the process-wide slog logger. Development runs get
// a colored console handler, everything else structured JSON.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
)

// New returns a logger writing to w at the given level ("debug", "info",
// "warn", "error"). A console handler is used when the ENV environment
// variable is "development", a JSON handler otherwise.
func New(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	lv := parseLevel(level)

	var handler slog.Handler
	if os.Getenv("ENV") == "development" {
		handler = console.NewHandler(w, &console.HandlerOptions{Level: lv})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lv,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
