// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package clog provides the leveled, printf-style logger embedded by the
// components of this module. It is a thin facade over zerolog so that log
// output can be enabled or disabled per component at runtime.
package clog

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Clog is embedded by value in the types that log. The zero value discards
// everything; create a usable instance with NewLogger.
type Clog struct {
	zl      *zerolog.Logger
	prefix  string
	enabled *atomic.Bool
}

// NewLogger creates a logger writing to stderr. The prefix is prepended to
// every message, typically identifying the component and port address.
// Logging starts disabled; call LogMode(true) to enable it.
func NewLogger(prefix string) Clog {
	return NewLoggerTo(os.Stderr, prefix)
}

// NewLoggerTo creates a logger writing to w. Used by tests to capture output.
func NewLoggerTo(w io.Writer, prefix string) Clog {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger()
	return Clog{
		zl:      &zl,
		prefix:  prefix,
		enabled: &atomic.Bool{},
	}
}

// LogMode enables or disables output. Safe for concurrent use.
func (sf Clog) LogMode(enable bool) {
	if sf.enabled != nil {
		sf.enabled.Store(enable)
	}
}

func (sf Clog) logf(level zerolog.Level, format string, args ...any) {
	if sf.enabled == nil || !sf.enabled.Load() {
		return
	}
	sf.zl.WithLevel(level).Msg(sf.prefix + fmt.Sprintf(format, args...))
}

// Debug logs at debug level.
func (sf Clog) Debug(format string, args ...any) {
	sf.logf(zerolog.DebugLevel, format, args...)
}

// Warn logs at warning level.
func (sf Clog) Warn(format string, args ...any) {
	sf.logf(zerolog.WarnLevel, format, args...)
}

// Error logs at error level.
func (sf Clog) Error(format string, args ...any) {
	sf.logf(zerolog.ErrorLevel, format, args...)
}

// Critical logs at fatal severity without terminating the process.
func (sf Clog) Critical(format string, args ...any) {
	// zerolog's Fatal() calls os.Exit; a library must not do that.
	if sf.enabled == nil || !sf.enabled.Load() {
		return
	}
	sf.zl.WithLevel(zerolog.FatalLevel).Msg(sf.prefix + fmt.Sprintf(format, args...))
}
