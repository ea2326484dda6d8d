// Package hub streams topology events to Server-Sent Events subscribers.
//
// Events that report a name through EventName are written as named SSE
// events, so a browser can attach per-type listeners. A subscriber may pass
// ?types=topology_updated,ports_scanned to receive only those names.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// keepAliveInterval is how often idle connections get a comment line
const keepAliveInterval = 30 * time.Second

// Named is implemented by events that carry a type name
type Named interface {
	EventName() string
}

// frame is one encoded SSE message
type frame struct {
	name string
	data []byte
}

type subscriber struct {
	id     string
	types  map[string]bool
	frames chan frame
}

func (s *subscriber) wants(name string) bool {
	return len(s.types) == 0 || s.types[name]
}

// Hub tracks subscribers and fans events out to them
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	join        chan *subscriber
	leave       chan *subscriber
	events      chan any
	done        chan struct{}
}

// New creates a new Hub
func New() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		events:      make(chan any, 256),
		done:        make(chan struct{}),
	}
}

// Run delivers events until ctx is cancelled, then closes every stream
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.frames)
			}
			h.mu.Unlock()
			return

		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("Hub: subscriber %s joined (total: %d)", sub.id, total)

		case sub := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.frames)
			}
			total := len(h.subscribers)
			h.mu.Unlock()
			log.Printf("Hub: subscriber %s left (total: %d)", sub.id, total)

		case event := <-h.events:
			f, err := encode(event)
			if err != nil {
				log.Printf("Hub: failed to encode event: %v", err)
				continue
			}
			h.deliver(f)
		}
	}
}

func encode(event any) (frame, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return frame{}, err
	}
	f := frame{data: data}
	if n, ok := event.(Named); ok {
		f.name = n.EventName()
	}
	return f, nil
}

func (h *Hub) deliver(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		if f.name != "" && !sub.wants(f.name) {
			continue
		}
		select {
		case sub.frames <- f:
		default:
			log.Printf("Hub: subscriber %s is behind, dropping %s", sub.id, nameOr(f.name, "event"))
		}
	}
}

// Broadcast queues an event for every interested subscriber
func (h *Hub) Broadcast(event any) {
	select {
	case h.events <- event:
	default:
		log.Println("Hub: queue full, dropping event")
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP streams events to one subscriber until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sub := &subscriber{
		id:     uuid.NewString(),
		types:  parseTypes(r.URL.Query().Get("types")),
		frames: make(chan frame, 64),
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	select {
	case h.join <- sub:
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	defer func() {
		select {
		case h.leave <- sub:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected %s\n\n", sub.id)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case f, ok := <-sub.frames:
			if !ok {
				return
			}
			seq++
			if err := writeFrame(w, seq, f); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, seq uint64, f frame) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", seq)
	if f.name != "" {
		fmt.Fprintf(&b, "event: %s\n", f.name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", f.data)
	_, err := w.Write([]byte(b.String()))
	return err
}

// parseTypes splits a comma list of event names; empty means all
func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
