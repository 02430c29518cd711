// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// package log is our own log package, basically a wrapper for logrus with some improvements like:
// - lazy evaluation of WithFields funcs
// - shrinked logrus API (no Fatal, Panic...)
// - added agent domain API helpers like WithComponent
// this file was based on logrus/exported.go
package log

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// logrus wrapper
type wrap struct {
	l  *logrus.Logger
	mu *sync.Mutex
}

// usual singleton access used on the codebase
var w = wrap{
	l:  logrus.StandardLogger(),
	mu: &sync.Mutex{},
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	w.l.SetOutput(out)
}

// AddHook adds a hook to the singleton logger used in the codebase
func AddHook(hook logrus.Hook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.l.Hooks.Add(hook)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	w.l.SetFormatter(formatter)
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	w.l.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return w.l.GetLevel()
}

// IsLevelEnabled checks if the log level of the standard logger is greater than the level param
func IsLevelEnabled(level logrus.Level) bool {
	return w.l.IsLevelEnabled(level)
}

// Trace logs a message at level Trace on the standard logger.
func Trace(args ...interface{}) {
	w.l.Trace(args...)
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	w.l.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	w.l.Info(args...)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	w.l.Warn(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	w.l.Error(args...)
}

// Debugf logs a message at level Debug on the standard logger.
func Debugf(format string, args ...interface{}) {
	w.l.Debugf(format, args...)
}

// Infof logs a message at level Info on the standard logger.
func Infof(format string, args ...interface{}) {
	w.l.Infof(format, args...)
}

// Warnf logs a message at level Warn on the standard logger.
func Warnf(format string, args ...interface{}) {
	w.l.Warnf(format, args...)
}

// Errorf logs a message at level Error on the standard logger.
func Errorf(format string, args ...interface{}) {
	w.l.Errorf(format, args...)
}
