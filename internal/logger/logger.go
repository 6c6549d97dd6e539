// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the process-wide structured logger: slog
// with TRACE..ERROR severities, text or JSON output, and optional
// file output with lumberjack rotation behind an asynchronous writer.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/GoogleCloudPlatform/pagecached/cfg"
)

// LevelTrace sits below slog's built-in debug level.
const LevelTrace = slog.Level(-8)

const (
	textFormat = "text"
	jsonFormat = "json"
)

type loggerFactory struct {
	// file is nil when logging to stderr.
	file      io.WriteCloser
	sysWriter io.Writer
	format    string
	level     string
	logRotate cfg.LogRotateLoggingConfig
}

var (
	defaultLoggerFactory = &loggerFactory{
		sysWriter: os.Stderr,
		format:    textFormat,
		level:     string(cfg.InfoLogSeverity),
	}
	defaultLogger = defaultLoggerFactory.newLogger(string(cfg.InfoLogSeverity))
)

// InitLogFile switches the default logger to the configuration's file,
// format, and severity. With no file path configured, output stays on
// stderr.
func InitLogFile(config cfg.LoggingConfig) error {
	if config.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(config.FilePath),
			MaxSize:    config.LogRotate.MaxFileSizeMb,
			MaxBackups: config.LogRotate.BackupFileCount,
			Compress:   config.LogRotate.Compress,
		}
		defaultLoggerFactory.file = NewAsyncLogger(lj, defaultAsyncBufferSize)
		defaultLoggerFactory.sysWriter = defaultLoggerFactory.file
	}
	defaultLoggerFactory.format = config.Format
	defaultLoggerFactory.logRotate = config.LogRotate
	defaultLoggerFactory.level = string(config.Severity)
	defaultLogger = defaultLoggerFactory.newLogger(string(config.Severity))
	return nil
}

// CloseLogFile flushes and closes the log file if one is open.
func CloseLogFile() error {
	if defaultLoggerFactory.file != nil {
		err := defaultLoggerFactory.file.Close()
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = os.Stderr
		return err
	}
	return nil
}

func (f *loggerFactory) newLogger(level string) *slog.Logger {
	var programLevel = new(slog.LevelVar)
	logger := slog.New(f.createJsonOrTextHandler(f.sysWriter, programLevel, ""))
	setLoggingLevel(level, programLevel)
	return logger
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	if f.format == jsonFormat {
		return newJSONHandler(writer, levelVar, prefix)
	}
	return newTextHandler(writer, levelVar, prefix)
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch cfg.LogSeverity(level) {
	case cfg.TraceLogSeverity:
		programLevel.Set(LevelTrace)
	case cfg.DebugLogSeverity:
		programLevel.Set(slog.LevelDebug)
	case cfg.InfoLogSeverity:
		programLevel.Set(slog.LevelInfo)
	case cfg.WarningLogSeverity:
		programLevel.Set(slog.LevelWarn)
	case cfg.ErrorLogSeverity:
		programLevel.Set(slog.LevelError)
	case cfg.OffLogSeverity:
		programLevel.Set(slog.Level(12))
	default:
		programLevel.Set(slog.LevelInfo)
	}
}

// Tracef logs at the level below debug, for high-volume cache
// diagnostics.
func Tracef(format string, v ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

func Info(msg string) {
	defaultLogger.Info(msg)
}

func Warnf(format string, v ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}

func Error(msg string) {
	defaultLogger.Error(msg)
}

// Fatal logs an error and exits the process.
func Fatal(msg string) {
	defaultLogger.Error(msg)
	_ = CloseLogFile()
	os.Exit(1)
}
