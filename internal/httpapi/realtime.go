package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

// realtimeHub fans every bus event out to connected websocket subscribers.
// Slow subscribers drop events rather than stalling the bus.
type realtimeHub struct {
	logger      *zap.Logger
	unsubscribe func()

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	closed      bool
}

const subscriberBuffer = 32

func newRealtimeHub(events *moodtrace.EventBus, logger *zap.Logger) *realtimeHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := &realtimeHub{
		logger:      logger,
		subscribers: map[chan []byte]struct{}{},
	}
	if events != nil {
		hub.unsubscribe = events.Subscribe(hub.broadcast)
	}
	return hub
}

func (h *realtimeHub) broadcast(event moodtrace.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("dropping unmarshalable event", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- payload:
		default:
			h.logger.Debug("dropping event for slow realtime subscriber")
		}
	}
}

func (h *realtimeHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := make(chan []byte, subscriberBuffer)
	if !h.addSubscriber(ch) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.removeSubscriber(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *realtimeHub) addSubscriber(ch chan []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[ch] = struct{}{}
	return true
}

func (h *realtimeHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *realtimeHub) removeSubscriber(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, ch)
}

func (h *realtimeHub) close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = map[chan []byte]struct{}{}
}
