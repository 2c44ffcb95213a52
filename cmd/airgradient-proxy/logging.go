package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/config"
)

// newLogger builds the process logger. Output goes to stdout when
// log-to-stdout is set and to stderr otherwise.
func newLogger(cfg config.Config) *slog.Logger {
	out := os.Stderr
	if cfg.LogToStdout {
		out = os.Stdout
	}
	return newLoggerTo(out, cfg.Debug, !isTerminal(out)).With("service", cfg.ServiceName)
}

func newLoggerTo(w io.Writer, debug, noColor bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
