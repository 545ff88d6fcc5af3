package jsonrpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"testing"
)

// recordingLogger captures log messages for assertions.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == entry {
			return true
		}
	}
	return false
}

// slog.Logger must satisfy Logger so callers can pass one directly.
var _ Logger = (*slog.Logger)(nil)

func TestDispatcherOrderAndPanicIsolation(t *testing.T) {
	logger := &recordingLogger{}
	d := &dispatcher{logger: func() Logger { return logger }}

	var calls []string
	d.handlers.add(func(method string, _ json.RawMessage) { calls = append(calls, "first:"+method) })
	d.handlers.add(func(string, json.RawMessage) { panic("listener bug") })
	d.handlers.add(func(method string, params json.RawMessage) {
		calls = append(calls, fmt.Sprintf("third:%s:%s", method, params))
	})

	d.dispatch("Client.OnVolumeChanged", json.RawMessage(`{"id":"c1"}`))

	want := []string{
		"first:Client.OnVolumeChanged",
		`third:Client.OnVolumeChanged:{"id":"c1"}`,
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if !logger.contains("ERROR: notification handler panic recovered") {
		t.Error("panic was not logged")
	}
}

func TestListenerSetRemove(t *testing.T) {
	var s listenerSet[func() string]
	a := s.add(func() string { return "a" })
	b := s.add(func() string { return "b" })
	s.add(func() string { return "c" })

	if !s.remove(b) {
		t.Fatal("remove(b) = false, want true")
	}
	if s.remove(b) {
		t.Error("second remove(b) = true, want false")
	}

	var got []string
	s.each(func(fn func() string) { got = append(got, fn()) }, nil)
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("listeners = %v, want [a c]", got)
	}

	s.remove(a)
	if s.len() != 1 {
		t.Errorf("len() = %d, want 1", s.len())
	}
}

func TestDispatcherNilLogger(t *testing.T) {
	d := &dispatcher{logger: func() Logger { return nil }}
	d.handlers.add(func(string, json.RawMessage) { panic("boom") })

	// Must not panic even without a logger.
	d.dispatch("Server.OnUpdate", nil)
}
