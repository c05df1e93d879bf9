package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"forge-ai/internal/infra/config"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New builds the process-wide *slog.Logger from config. The returned close
// function releases the log file when output names one; defer it in main.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	sink, closeSink, err := sinkFor(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	lvl, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(sink, opts)
	} else {
		handler = slog.NewTextHandler(sink, opts)
	}
	return slog.New(handler), closeSink, nil
}

// sinkFor maps an output name to a writer. "stdout" and "stderr" are
// special; anything else is treated as a file path and opened append-only.
func sinkFor(output string) (io.Writer, func() error, error) {
	keep := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, keep, nil
	case "", "stderr":
		return os.Stderr, keep, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
