package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sessionworks/broker/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  slog.Level
	}{
		{name: "verbose maps to Debug", level: observability.LevelVerbose, want: slog.LevelDebug},
		{name: "info maps to Info", level: observability.LevelInfo, want: slog.LevelInfo},
		{name: "warning maps to Warn", level: observability.LevelWarning, want: slog.LevelWarn},
		{name: "error maps to Error", level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.want {
				t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestSlogObserver_EmitsEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger)

	obs.OnEvent(context.Background(), observability.Event{
		Type:      observability.EventSessionTransition,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "session",
		Data:      map[string]any{"session_id": "s-1", "from": "active", "to": "disconnected"},
	})

	out := buf.String()
	for _, want := range []string{"session.transition", "session_id=s-1", "source=session"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *recordingObserver) OnEvent(_ context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiObserver_FansOut(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}

	multi := observability.NewMultiObserver(first, nil, second)
	multi.OnEvent(context.Background(), observability.Event{Type: observability.EventQueueOverflow})

	if first.count() != 1 || second.count() != 1 {
		t.Errorf("fan-out counts = %d, %d; want 1, 1", first.count(), second.count())
	}
}

func TestDispatcher_DeliversAndCloses(t *testing.T) {
	rec := &recordingObserver{}
	d := observability.NewDispatcher(rec, 8)

	d.Emit(observability.EventSyncCheckpoint, observability.LevelInfo, "snapshot",
		map[string]any{"session_id": "s-1"})
	d.Close()

	if rec.count() != 1 {
		t.Errorf("got %d events after Close, want 1", rec.count())
	}
}

func TestDispatcher_DropsOnOverflow(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingObserver{release: block}
	d := observability.NewDispatcher(slow, 1)
	defer close(block)

	// First event occupies the observer, second fills the buffer, the rest
	// must be dropped without blocking.
	for i := 0; i < 10; i++ {
		d.Emit(observability.EventFrameAdmitted, observability.LevelVerbose, "session", nil)
	}

	if d.Dropped() == 0 {
		t.Error("expected dropped events when buffer is full")
	}
}

type blockingObserver struct {
	release chan struct{}
}

func (b *blockingObserver) OnEvent(_ context.Context, _ observability.Event) {
	<-b.release
}

func TestGetObserver(t *testing.T) {
	if _, err := observability.GetObserver("noop"); err != nil {
		t.Errorf("noop observer should be registered: %v", err)
	}
	if _, err := observability.GetObserver("slog"); err != nil {
		t.Errorf("slog observer should be registered: %v", err)
	}
	if _, err := observability.GetObserver("nope"); err == nil {
		t.Error("unknown observer should return an error")
	}
}
