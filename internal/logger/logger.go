// Package logger provides the process-wide structured logger used by
// dbgctl (controller and wire server) and dbgcli; the worker shim does not
// log through it. The debugger console owns stdout
// (raw debugger output and the REPL prompt are printed there verbatim),
// so logs always go to stderr, plus an optional file.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var Log *slog.Logger

func init() {
	// A usable default before Init runs, so package-level helpers never
	// nil-panic when called from code that forgot to call Init (e.g. tests).
	Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Init replaces the package logger with one at the given level. An
// unrecognized level falls back to info rather than failing: a bad
// --log-level must not keep the controller from starting while workers are
// already paused at breakpoints. logFile, when non-empty, receives a copy
// of everything written to stderr.
func Init(level string, logFile string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	out := io.Writer(os.Stderr)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	Log = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(Log)
	return nil
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
