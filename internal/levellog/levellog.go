// Package levellog is a write-once level gate over a standard
// `log.New(os.Stdout, "", log.LstdFlags)` logger, with a minimum
// severity set once at startup from the `--log-level` flag.
package levellog

import (
	"log"
	"os"
	"strings"
)

// Level is a logging severity. Levels are ordered; a Logger discards
// anything below its configured minimum.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	None
)

// ParseLevel maps the `--log-level` flag's accepted values
// (debug|info|warn|error|none) to a Level. Unrecognized input falls
// back to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	case "none":
		return None
	default:
		return Info
	}
}

// Logger gates a *log.Logger by a minimum Level, set once at
// construction and never mutated afterward.
type Logger struct {
	min Level
	std *log.Logger
}

// New returns a Logger writing to os.Stdout with the standard
// timestamp flags, gated at min.
func New(min Level, prefix string) *Logger {
	return &Logger{
		min: min,
		std: log.New(os.Stdout, prefix, log.LstdFlags),
	}
}

func (l *Logger) log(lvl Level, format string, args []interface{}) {
	if lvl < l.min {
		return
	}

	l.std.Printf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, format, args) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, format, args) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, format, args) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, format, args) }

// Printf implements fasthttp.Logger, gated at Debug so per-connection
// protocol-handler chatter only appears at the most verbose level.
func (l *Logger) Printf(format string, args ...interface{}) { l.log(Debug, format, args) }
