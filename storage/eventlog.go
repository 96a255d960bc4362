package storage

import (
	"log/slog"

	"strikelend/core/events"
	"strikelend/core/types"
)

type attributed interface {
	Event() *types.Event
}

// EventLog adapts the store to events.Emitter so engine events land in the
// audit trail. Persistence failures are logged, never propagated; the engine
// transition that produced the event has already committed.
type EventLog struct {
	store *Store
	log   *slog.Logger
}

// NewEventLog wraps the store as an emitter. A nil logger falls back to the
// process default.
func NewEventLog(store *Store, log *slog.Logger) *EventLog {
	if log == nil {
		log = slog.Default()
	}
	return &EventLog{store: store, log: log}
}

// Emit implements events.Emitter.
func (l *EventLog) Emit(evt events.Event) {
	if l == nil || l.store == nil || evt == nil {
		return
	}
	payload, ok := evt.(attributed)
	if !ok {
		return
	}
	if err := l.store.AppendEvent(payload.Event()); err != nil {
		l.log.Error("append event", "type", evt.EventType(), "error", err)
	}
}
