// Package logging contains the singleton loggers used across razel.
// It deliberately has little else since it's a dependency everywhere.
package logging

import (
	"fmt"
	"os"

	"gopkg.in/op/go-logging.v1"
)

// MustGetLogger returns the named singleton logger. Callers should hold onto
// the result in a package-level var rather than calling this per log line.
func MustGetLogger(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}

// Level is a re-export of the underlying library's type.
type Level = logging.Level

// Re-exports of the log levels we use.
const (
	CRITICAL = logging.CRITICAL
	ERROR    = logging.ERROR
	WARNING  = logging.WARNING
	NOTICE   = logging.NOTICE
	INFO     = logging.INFO
	DEBUG    = logging.DEBUG
)

const formatString = "%{time:15:04:05.000} %{level:7s} %{module}: %{message}"

// Init sets the single stderr logging backend everything above this
// package logs through, at the given verbosity. Unlike please's `cli`
// package this has no interactive console display -- razel has no TUI --
// just a plain leveled backend.
func Init(level Level) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(formatString))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

// Verbosity is a go-flags-compatible wrapper around Level so it can be
// used directly as a struct tag field (`choice:"error" choice:"warning" ...`),
// mirroring please's own cli.Verbosity flag type.
type Verbosity Level

// UnmarshalFlag implements flags.Unmarshaler.
func (v *Verbosity) UnmarshalFlag(value string) error {
	switch value {
	case "error":
		*v = Verbosity(ERROR)
	case "warning":
		*v = Verbosity(WARNING)
	case "notice":
		*v = Verbosity(NOTICE)
	case "info":
		*v = Verbosity(INFO)
	case "debug":
		*v = Verbosity(DEBUG)
	default:
		return fmt.Errorf("logging: invalid verbosity %q", value)
	}
	return nil
}
