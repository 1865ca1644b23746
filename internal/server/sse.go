package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/meshrun/meshrun/internal/emit"
)

// heartbeatInterval keeps idle SSE connections alive through proxies that
// close connections after a period of silence.
const heartbeatInterval = 15 * time.Second

// Broadcaster fans out one pipeline's lifecycle events to any number of SSE
// clients, replaying history to new subscribers. It is fed by a single
// goroutine draining the pipeline's emit.Stream.
type Broadcaster struct {
	mu      sync.Mutex
	history []emit.Event
	clients map[uint64]chan emit.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: map[uint64]chan emit.Event{}, doneCh: make(chan struct{})}
}

// Pump drains stream until it is exhausted (the emitter was closed), pushing
// every event to Send. Call this in its own goroutine per pipeline.
func (b *Broadcaster) Pump(stream *emit.Stream) {
	for {
		ev, ok := stream.Next()
		if !ok {
			b.Close()
			return
		}
		b.Send(ev)
	}
}

func (b *Broadcaster) Send(ev emit.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

func (b *Broadcaster) Subscribe() (<-chan emit.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan emit.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++
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

func (b *Broadcaster) History() []emit.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emit.Event, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams a Broadcaster's events as Server-Sent Events, with a
// periodic heartbeat comment to keep idle connections open.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
