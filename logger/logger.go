/*
 * Copyright 2025 The TSDP Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides leveled logging for the dataplane library.
// Components log through the package-level functions by default; callers
// can install their own backend with SetDefault.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level defines log severity levels.
type Level int

const (
	// DEBUG shows detailed pipeline tracing.
	DEBUG Level = iota
	// INFO shows lifecycle events.
	INFO
	// WARN shows recoverable problems.
	WARN
	// ERROR shows failures.
	ERROR
	// OFF disables logging entirely.
	OFF
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string to a Level. Unknown names map
// to INFO.
func ParseLevel(name string) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "OFF":
		return OFF
	default:
		return INFO
	}
}

// Logger is the minimal interface components log through.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

type defaultLogger struct {
	level  Level
	logger *log.Logger
}

// New creates a logger writing to output at the given level.
func New(level Level, output io.Writer) Logger {
	return &defaultLogger{
		level:  level,
		logger: log.New(output, "", 0),
	}
}

func (l *defaultLogger) Debug(format string, args ...interface{}) { l.emit(DEBUG, format, args...) }
func (l *defaultLogger) Info(format string, args ...interface{})  { l.emit(INFO, format, args...) }
func (l *defaultLogger) Warn(format string, args ...interface{})  { l.emit(WARN, format, args...) }
func (l *defaultLogger) Error(format string, args ...interface{}) { l.emit(ERROR, format, args...) }

func (l *defaultLogger) SetLevel(level Level) { l.level = level }

func (l *defaultLogger) emit(level Level, format string, args ...interface{}) {
	if l.level == OFF || level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] %s", ts, level, fmt.Sprintf(format, args...))
}

type discardLogger struct{}

// NewDiscard returns a logger that drops everything. Used when a
// component's logging toggle is off.
func NewDiscard() Logger { return &discardLogger{} }

func (d *discardLogger) Debug(format string, args ...interface{}) {}
func (d *discardLogger) Info(format string, args ...interface{})  {}
func (d *discardLogger) Warn(format string, args ...interface{})  {}
func (d *discardLogger) Error(format string, args ...interface{}) {}
func (d *discardLogger) SetLevel(level Level)                     {}

var defaultInstance Logger = New(INFO, os.Stdout)

// SetDefault installs the global default logger.
func SetDefault(l Logger) {
	if l != nil {
		defaultInstance = l
	}
}

// GetDefault returns the global default logger.
func GetDefault() Logger { return defaultInstance }

// Debug logs through the default logger.
func Debug(format string, args ...interface{}) { defaultInstance.Debug(format, args...) }

// Info logs through the default logger.
func Info(format string, args ...interface{}) { defaultInstance.Info(format, args...) }

// Warn logs through the default logger.
func Warn(format string, args ...interface{}) { defaultInstance.Warn(format, args...) }

// Error logs through the default logger.
func Error(format string, args ...interface{}) { defaultInstance.Error(format, args...) }
