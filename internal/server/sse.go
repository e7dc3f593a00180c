package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/engine"
)

// historyCap bounds the replay buffer for late subscribers. Events are hints;
// a client that missed more than this re-fetches the case list anyway.
const historyCap = 128

// Broadcaster fans engine events out to all connected SSE clients.
// Thread-safe; one instance per server.
type Broadcaster struct {
	mu      sync.Mutex
	history []engine.Event
	clients map[uint64]chan engine.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed only on real broadcaster Close(), not slow-client drops
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan engine.Event),
		doneCh:  make(chan struct{}),
	}
}

// Send is the engine's event sink. It never blocks: slow clients are dropped.
func (b *Broadcaster) Send(ev engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// Slow client: drop to prevent blocking the engine.
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns an events channel, a done channel, and an unsubscribe
// function. The events channel replays recent history, then streams live
// events. The done channel closes only on broadcaster Close, not on a
// slow-client drop, so callers can tell the two apart.
func (b *Broadcaster) Subscribe() (<-chan engine.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan engine.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	// Channel is sized to fit all history plus live headroom, so the replay
	// never blocks while holding the mutex.
	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close signals that no more events will be sent. All client channels close.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of the replay buffer.
func (b *Broadcaster) History() []engine.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]engine.Event, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams broadcaster events to one HTTP client as Server-Sent
// Events. Each event's kind becomes the SSE event name.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Channel closed. Only emit "done" if the broadcaster
				// actually finished (vs. this client being dropped).
				select {
				case <-doneCh:
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
