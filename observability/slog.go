package observability

import (
	"context"
	"log/slog"
)

// SlogObserver renders broker events as structured log records: the event
// type is the message, the emitting subsystem becomes a "source" attribute,
// and the event's data map is flattened into attributes with session_id
// first so per-session traffic greps cleanly.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver writing to the given logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+2)
	if id, ok := event.Data["session_id"]; ok {
		attrs = append(attrs, slog.Any("session_id", id))
	}
	attrs = append(attrs, slog.String("source", event.Source))
	for key, value := range event.Data {
		if key == "session_id" {
			continue
		}
		attrs = append(attrs, slog.Any(key, value))
	}

	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
