// Package log provides a global printf-style logger with a configurable level.
// It is used for wire-level tracing of upstream Fleet API and OAuth traffic;
// the HTTP server uses structured logging instead.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Failures surfaced to the caller.
	LevelWarning              // Anomalies expected to occur occasionally.
	LevelInfo                 // Major events, such as cache refreshes.
	LevelDebug                // Detailed upstream request/response IO.
)

var labels = map[Level]string{
	LevelDebug:   "[debug]",
	LevelInfo:    "[info ]",
	LevelWarning: "[warn ]",
	LevelError:   "[error]",
}

var (
	mu          sync.Mutex
	globalLevel Level
	output      io.Writer = os.Stderr
)

func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// SetOutput redirects log output, which defaults to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func emit(level Level, format string, a ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if level > globalLevel {
		return
	}
	fmt.Fprintf(output, "%s %s %s\n", time.Now().Format(time.RFC3339), labels[level], fmt.Sprintf(format, a...))
}

func Debug(format string, a ...interface{}) {
	emit(LevelDebug, format, a...)
}

func Info(format string, a ...interface{}) {
	emit(LevelInfo, format, a...)
}

func Warning(format string, a ...interface{}) {
	emit(LevelWarning, format, a...)
}

func Error(format string, a ...interface{}) {
	emit(LevelError, format, a...)
}
