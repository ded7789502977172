package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Setup returns a logger writing to w at the given level ("debug", "info",
// "warn", "error") in the given format ("text" or "json").
//
// The terminal UI owns stdout, so callers normally pass stderr or a file.
func Setup(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logger: unknown format %q", format)
	}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("logger: unknown level %q", level)
	}
	return lvl, nil
}
