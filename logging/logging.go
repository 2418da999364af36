// Package logging provides the file logger and the component-tagged
// debug sink used across the controller and its publishers.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger writes timestamped log lines to a file. It is safe for
// concurrent use from the scan thread and the console thread.
type FileLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens (or creates) the log file in append mode.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: file}, nil
}

// Log writes one formatted line with a millisecond timestamp.
func (l *FileLogger) Log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s %s\n", timestamp, fmt.Sprintf(format, args...))
}

// Close flushes and closes the log file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var (
	debugMu   sync.RWMutex
	debugSink func(component, format string, args ...interface{})
)

// SetDebugSink installs the process-wide debug sink. Passing nil
// silences debug logging.
func SetDebugSink(fn func(component, format string, args ...interface{})) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugSink = fn
}

// DebugLog routes a component-tagged debug message to the sink, if any.
func DebugLog(component, format string, args ...interface{}) {
	debugMu.RLock()
	fn := debugSink
	debugMu.RUnlock()
	if fn != nil {
		fn(component, format, args...)
	}
}
