// Package logger builds the process slog.Logger.
package logger

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// LevelTrace is below debug, for per-frame and per-row chatter.
const LevelTrace = slog.LevelDebug - 4

// Options selects level, format and source annotation.
type Options struct {
	Level     string // trace|debug|info|warn|error, default info
	Format    string // text|json, default text
	AddSource bool
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	levels := map[string]slog.Level{
		"trace": LevelTrace,
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	lvl := ParseLevel(opts.Level)

	replaceAttr := func(_ []string, attr slog.Attr) slog.Attr {
		if opts.AddSource && attr.Key == slog.SourceKey {
			if src, ok := attr.Value.Any().(*slog.Source); ok {
				src.File = filepath.Base(src.File)
				attr.Value = slog.AnyValue(src)
			}
		}
		if attr.Key == slog.LevelKey {
			if recLvl, ok := attr.Value.Any().(slog.Level); ok && recLvl == LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return attr
	}

	handlerOpts := &slog.HandlerOptions{
		AddSource:   opts.AddSource,
		Level:       lvl,
		ReplaceAttr: replaceAttr,
	}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
