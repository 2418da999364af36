package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	l.Log("scan overrun: %d ms", 142)
	l.Log("state transition: %s -> %s", "IDLE", "STARTUP")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "scan overrun: 142 ms") {
		t.Errorf("missing first line: %q", content)
	}
	if !strings.Contains(content, "IDLE -> STARTUP") {
		t.Errorf("missing second line: %q", content)
	}

	// Writes after close are dropped silently.
	l.Log("should not appear")
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "should not appear") {
		t.Error("log written after close")
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Log("goroutine %d line %d", n, j)
			}
		}(i)
	}
	wg.Wait()
}

func TestDebugSink(t *testing.T) {
	var got []string
	SetDebugSink(func(component, format string, args ...interface{}) {
		got = append(got, component)
	})
	defer SetDebugSink(nil)

	DebugLog("mqtt", "connected to %s", "broker")
	DebugLog("kafka", "sent %d", 3)
	if len(got) != 2 || got[0] != "mqtt" || got[1] != "kafka" {
		t.Errorf("sink calls = %v", got)
	}

	SetDebugSink(nil)
	DebugLog("mqtt", "dropped") // must not panic
}
