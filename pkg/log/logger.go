// Copyright 2021-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"io"
	"log"
	"os"
)

// Logger describes a logger to be used in memtrain.
type Logger interface {
	// Debugf logs a diagnostic message. Diagnostic messages are dropped
	// unless the logger was created with debugging enabled.
	Debugf(format string, args ...interface{})

	// Warnf logs an warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and immediately exits the application
	// with os.Exit.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere within memtrain.
var DefaultLogger Logger

func init() {
	DefaultLogger = New(os.Stderr, false)
}

// New returns a Logger writing to w. Debug messages are printed only
// if debug is true.
func New(w io.Writer, debug bool) Logger {
	return logWrapper{Logger: log.New(w, "", log.LstdFlags), debug: debug}
}

type logWrapper struct {
	Logger *log.Logger
	debug  bool
}

// Debugf implements Logger.
func (logger logWrapper) Debugf(format string, args ...interface{}) {
	if !logger.debug {
		return
	}
	logger.Logger.Printf("[memtrain][DEBUG] "+format, args...)
}

// Warnf implements Logger.
func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[memtrain][WARN] "+format, args...)
}

// Errorf implements Logger.
func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[memtrain][ERROR] "+format, args...)
}

// Fatalf implements Logger.
func (logger logWrapper) Fatalf(format string, args ...interface{}) {
	logger.Logger.Fatalf("[memtrain][FATAL] "+format, args...)
}

// OrDefault returns l, or DefaultLogger if l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return DefaultLogger
	}
	return l
}

// Debugf logs a diagnostic message.
func Debugf(format string, args ...interface{}) {
	DefaultLogger.Debugf(format, args...)
}

// Warnf logs an warning message.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}

// Fatalf logs a fatal message and immediately exits the application
// with os.Exit (which is expected to be called by the DefaultLogger.Fatalf).
func Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf(format, args...)
}
