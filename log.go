package main

import (
	"log/slog"
	"os"

	"github.com/gregLibert/se-terminal/pkg/config"
	"gopkg.in/natefinch/lumberjack.v2"
	"hermannm.dev/devlog"
)

var level slog.LevelVar

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
		Level: &level,
	})))
}

// setupLogging applies the log section. With a file configured, records go to a
// rotated JSON log instead of the terminal.
func setupLogging(c config.LogConfig, debug bool) (func(), error) {
	lvl, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)

	if c.File == "" {
		return func() {}, nil
	}

	out := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: &level})))

	return func() {
		if err := out.Close(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}, nil
}
