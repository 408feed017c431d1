package utils

import (
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Logger struct {
	level       LogLevel
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

func NewLogger(level string) *Logger {
	return NewLoggerTo(level, os.Stdout, os.Stderr)
}

// NewLoggerTo sends debug and info lines to out, warnings and errors to errOut
func NewLoggerTo(level string, out, errOut io.Writer) *Logger {
	flags := log.Ldate | log.Ltime
	return &Logger{
		level:       ParseLogLevel(level),
		debugLogger: log.New(out, "DEBUG: ", flags),
		infoLogger:  log.New(out, "INFO: ", flags),
		warnLogger:  log.New(errOut, "WARN: ", flags),
		errorLogger: log.New(errOut, "ERROR: ", flags),
	}
}

func NewDiscardLogger() *Logger {
	return NewLoggerTo("error", io.Discard, io.Discard)
}

func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(format string, v ...any) {
	if l.level > LevelDebug {
		return
	}
	l.debugLogger.Printf(format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	if l.level > LevelInfo {
		return
	}
	l.infoLogger.Printf(format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	if l.level > LevelWarn {
		return
	}
	l.warnLogger.Printf(format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.errorLogger.Printf(format, v...)
}
