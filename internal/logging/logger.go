// Package logging provides the daemon's own structured logger plus the
// per-process log writers handed to forked children and tasks. Grounded on
// loykin-provisr's internal/logger package: log/slog with a colorized text
// handler for interactive use, and gopkg.in/natefinch/lumberjack.v2 for
// rotating a child's stdout/stderr capture files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// ChildLogConfig describes where a forked worker or task's stdout/stderr is
// captured: size/age/backup-bounded rotation via lumberjack.
type ChildLogConfig struct {
	Dir        string
	StdoutPath string
	StderrPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writers returns rotating writers for a forked child named name (the
// mediator's alias for a worker, or the task name for a task).
func (c ChildLogConfig) Writers(name string) (stdout, stderr io.WriteCloser) {
	outPath := c.StdoutPath
	errPath := c.StderrPath
	if outPath == "" && c.Dir != "" {
		outPath = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if errPath == "" && c.Dir != "" {
		errPath = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if outPath != "" {
		stdout = &lj.Logger{Filename: outPath, MaxSize: valOr(c.MaxSizeMB, DefaultMaxSizeMB), MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups), MaxAge: valOr(c.MaxAgeDays, DefaultMaxAgeDays), Compress: c.Compress}
	}
	if errPath != "" {
		stderr = &lj.Logger{Filename: errPath, MaxSize: valOr(c.MaxSizeMB, DefaultMaxSizeMB), MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups), MaxAge: valOr(c.MaxAgeDays, DefaultMaxAgeDays), Compress: c.Compress}
	}
	return stdout, stderr
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the daemon's own logger: colorized text to w when interactive
// is true, plain text otherwise (the shape a log aggregator expects).
func New(w io.Writer, level slog.Level, interactive bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if interactive {
		return slog.New(NewColorTextHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
