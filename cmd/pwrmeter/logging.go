package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogconsole "github.com/phsym/console-slog"
)

// newLogger builds the process logger. The console handler is used on a
// terminal or when asked for, JSON with a "ts" time key otherwise.
func newLogger(w io.Writer, o LogOptions) (*slog.Logger, error) {
	level := &slog.LevelVar{}
	if err := level.UnmarshalText([]byte(o.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	format := o.Format
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "console"
		}
	}

	var handler slog.Handler
	switch format {
	case "console":
		handler = slogconsole.NewHandler(w, &slogconsole.HandlerOptions{
			Level: level,
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					a.Key = "ts"
				}
				return a
			},
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", o.Format)
	}
	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
