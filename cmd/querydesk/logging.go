package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/pslog"
)

// loggerOptions maps a configured level onto structured logger options.
func loggerOptions(level string) (pslog.Options, error) {
	opts := pslog.Options{Mode: pslog.ModeStructured, NoColor: true}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		opts.MinLevel = pslog.TraceLevel
	case "debug":
		opts.MinLevel = pslog.DebugLevel
	case "", "info":
		opts.MinLevel = pslog.InfoLevel
	case "error":
		opts.MinLevel = pslog.ErrorLevel
	default:
		return pslog.Options{}, fmt.Errorf("unsupported logging.level %q", level)
	}
	return opts, nil
}

// withFileLogging tees structured logs into a rotated file when
// logging.file is set. The returned closer flushes and closes the file.
func withFileLogging(ctx context.Context, cfg appconfig.LoggingConfig, console io.Writer) (context.Context, io.Closer, error) {
	path := strings.TrimSpace(cfg.File)
	if path == "" {
		return ctx, closerFunc(func() error { return nil }), nil
	}
	opts, err := loggerOptions(cfg.Level)
	if err != nil {
		return ctx, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ctx, nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	writer := io.Writer(rotator)
	if console != nil {
		writer = io.MultiWriter(console, rotator)
	}
	logger := pslog.NewWithOptions(writer, opts)
	logger.Info("log file opened", "path", path, "max_size_mb", cfg.MaxSizeMB, "max_backups", cfg.MaxBackups)
	return pslog.ContextWithLogger(ctx, logger), rotator, nil
}
