package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Writer = os.Stderr
}

// Leveled logging functions backed by the pterm default logger.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are printed; callers use it to
// skip building expensive debug output.
func DebugEnabled() bool {
	return pterm.DefaultLogger.CanPrint(pterm.LogLevelDebug)
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// LogOptions selects level, format and an optional rotating log file.
type LogOptions struct {
	Level      string // trace, debug, info, warn, error
	Format     string // color or json
	File       string // empty: stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ConfigureLogging applies opts to the default logger. The returned closer
// flushes the log file, if any.
func ConfigureLogging(opts LogOptions) (io.Closer, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	pterm.DefaultLogger.Level = level

	switch strings.ToLower(opts.Format) {
	case "", "color", "colour", "text":
		pterm.DefaultLogger.Formatter = pterm.LogFormatterColorful
	case "json":
		pterm.DefaultLogger.Formatter = pterm.LogFormatterJSON
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		pterm.DefaultLogger.Writer = os.Stderr
		return nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	pterm.DefaultLogger.Writer = io.MultiWriter(os.Stderr, file)
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(s string) (pterm.LogLevel, error) {
	switch strings.ToLower(s) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	default:
		return pterm.LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ---------------------------------------------------------------------------
// pion logging adapter
// ---------------------------------------------------------------------------

// PionLoggerFactory routes logs of pion components (the virtual network used
// in tests) through the default logger.
type PionLoggerFactory struct{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) msg(format string, args ...interface{}) string {
	return l.scope + ": " + fmt.Sprintf(format, args...)
}

func (l pionLogger) Trace(msg string) { pterm.DefaultLogger.Trace(l.scope + ": " + msg) }
func (l pionLogger) Debug(msg string) { pterm.DefaultLogger.Debug(l.scope + ": " + msg) }
func (l pionLogger) Info(msg string)  { pterm.DefaultLogger.Info(l.scope + ": " + msg) }
func (l pionLogger) Warn(msg string)  { pterm.DefaultLogger.Warn(l.scope + ": " + msg) }
func (l pionLogger) Error(msg string) { pterm.DefaultLogger.Error(l.scope + ": " + msg) }

func (l pionLogger) Tracef(format string, args ...interface{}) {
	pterm.DefaultLogger.Trace(l.msg(format, args...))
}

func (l pionLogger) Debugf(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.msg(format, args...))
}

func (l pionLogger) Infof(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.msg(format, args...))
}

func (l pionLogger) Warnf(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.msg(format, args...))
}

func (l pionLogger) Errorf(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.msg(format, args...))
}
