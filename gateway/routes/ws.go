package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"strikelend/core/events"
	"strikelend/core/types"
)

type attributed interface {
	Event() *types.Event
}

// Hub fans engine events out to websocket subscribers. It implements
// events.Emitter so it can join the engine's emitter fanout. Slow
// subscribers are dropped rather than allowed to backpressure the engine.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	msgs chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload, ok := evt.(attributed)
	if !ok {
		return
	}
	msg, err := json.Marshal(payload.Event())
	if err != nil {
		return
	}
	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.msgs <- msg:
		default:
			delete(h.subs, sub)
			close(sub.msgs)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{msgs: make(chan []byte, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.msgs)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Info("websocket accept", "error", err)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.msgs:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
