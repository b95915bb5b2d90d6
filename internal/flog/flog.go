// Package flog provides the leveled logging helpers used throughout
// freezefs, wrapping log/slog the way rclone's fs/log package wraps it
// with a handful of extra severities.
package flog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Extra levels above slog's built-in four, matching fs.SlogLevelNotice and
// friends.
const (
	LevelNotice   = slog.LevelInfo + 2
	LevelCritical = slog.LevelError + 2
	LevelAlert    = slog.LevelError + 4
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetVerbose raises or lowers the global log level. Verbose mode logs at
// Debug; non-verbose mode logs at Info and above.
func SetVerbose(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// Debugf logs at debug level; only visible when SetVerbose(true) was
// called.
func Debugf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelDebug, sprintf(format, args...))
}

// Logf logs at info level.
func Logf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelInfo, sprintf(format, args...))
}

// Noticef logs at notice level, between info and warn.
func Noticef(format string, args ...any) {
	logger.Log(context.Background(), LevelNotice, sprintf(format, args...))
}

// Errorf logs at error level.
func Errorf(format string, args ...any) {
	logger.Log(context.Background(), slog.LevelError, sprintf(format, args...))
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
