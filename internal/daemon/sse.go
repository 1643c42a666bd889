package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/loopworks/hookgate/internal/audit"
	"github.com/loopworks/hookgate/internal/hook"
	"github.com/loopworks/hookgate/internal/logger"
)

// Broadcaster polls the audit store for new invocations and fans them out to
// SSE clients
type Broadcaster struct {
	mu           sync.RWMutex
	clients      map[chan SSEEvent]bool
	store        *audit.Store
	pollInterval time.Duration

	// lastID marks the newest invocation already broadcast. Only the poll
	// goroutine touches it.
	lastID string
	primed bool
}

// NewBroadcaster creates a new SSE broadcaster
func NewBroadcaster(store *audit.Store) *Broadcaster {
	return &Broadcaster{
		clients:      make(map[chan SSEEvent]bool),
		store:        store,
		pollInterval: 500 * time.Millisecond,
	}
}

// Run polls for new invocations and sends heartbeats until the context is
// cancelled, then closes every client channel
func (b *Broadcaster) Run(ctx context.Context) error {
	poll := time.NewTicker(b.pollInterval)
	defer poll.Stop()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeClients()
			return nil
		case <-poll.C:
			b.checkForNewEntries()
		case <-heartbeat.C:
			b.Broadcast(SSEEvent{
				Type: SSEHeartbeat,
				Data: map[string]any{
					"time":    time.Now().UTC(),
					"clients": b.ClientCount(),
				},
			})
		}
	}
}

// Subscribe adds a new client to receive events
func (b *Broadcaster) Subscribe() chan SSEEvent {
	ch := make(chan SSEEvent, 100)
	b.mu.Lock()
	b.clients[ch] = true
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client
func (b *Broadcaster) Unsubscribe(ch chan SSEEvent) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Broadcast sends an event to all connected clients
func (b *Broadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// Channel is full, skip this client
			logger.Debug().Msg("SSE client channel full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) closeClients() {
	b.mu.Lock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) checkForNewEntries() {
	if b.store == nil {
		return
	}

	entries, err := b.store.RecentEntries(100)
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to poll audit store for SSE")
		return
	}

	// First poll records the high-water mark without replaying history
	if !b.primed {
		if len(entries) > 0 {
			b.lastID = entries[0].ID
		}
		b.primed = true
		return
	}

	var fresh []*audit.Entry
	for _, e := range entries {
		if e.ID == b.lastID {
			break
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return
	}
	b.lastID = fresh[0].ID

	// Broadcast oldest first
	for i := len(fresh) - 1; i >= 0; i-- {
		e := fresh[i]
		b.Broadcast(SSEEvent{
			Type: SSEInvocation,
			Data: invocationResponse(e),
		})

		if e.Action == string(hook.ActionBlock) {
			b.Broadcast(SSEEvent{
				Type: SSEBlocked,
				Data: map[string]any{
					"rule":       e.Rule,
					"session_id": e.SessionID,
					"tool_name":  e.ToolName,
					"message":    e.Message,
				},
			})
		}
	}
}

// ServeHTTP handles SSE connections
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	writeSSEEvent(w, SSEEvent{
		Type: "connected",
		Data: map[string]any{
			"message": "Connected to hookgate daemon",
			"time":    time.Now().UTC(),
		},
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, event)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event SSEEvent) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
