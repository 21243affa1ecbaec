package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger keeps the printf-style surface used across the app on top of slog
type Logger struct {
	verbose bool
	slog    *slog.Logger
}

func NewLogger(verbose bool) *Logger {
	return newLoggerTo(os.Stdout, verbose)
}

func newLoggerTo(w io.Writer, verbose bool) *Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return &Logger{
		verbose: verbose,
		slog: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})),
	}
}

// Slog exposes the structured logger for key/value call sites
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

func (l *Logger) Printf(format string, v ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if !l.verbose {
		return
	}
	l.slog.Debug(fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.slog.Warn(fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, v...))
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.slog.Error(fmt.Sprintf("[FATAL] "+format, v...))
	os.Exit(1)
}
