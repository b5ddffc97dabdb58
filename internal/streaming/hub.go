// Package streaming fans import progress out to Server-Sent Event clients,
// one broadcaster per import session.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/tally/internal/logger"
)

const (
	clientBuffer    = 10
	eventBuffer     = 100
	criticalWait    = 100 * time.Millisecond
	clientWait      = 50 * time.Millisecond
	shutdownLingers = 100 * time.Millisecond
)

// Client represents a connected SSE client
type Client struct {
	Events chan SSEEvent
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{Events: make(chan SSEEvent, clientBuffer)}
}

// terminal events end a session stream.
func terminal(t EventType) bool {
	return t == EventTypeComplete || t == EventTypeError
}

// SessionBroadcaster delivers the events of one import session to every
// client watching it. Terminal events are retried briefly; progress events
// are dropped when a buffer is full.
type SessionBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	events   chan SSEEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
	log      zerolog.Logger
}

// NewSessionBroadcaster creates a broadcaster that stops when ctx ends. It
// logs through the logger carried by ctx.
func NewSessionBroadcaster(ctx context.Context) *SessionBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &SessionBroadcaster{
		clients: make(map[*Client]struct{}),
		events:  make(chan SSEEvent, eventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.FromContext(ctx),
	}
}

// Register adds a client to the broadcaster
func (b *SessionBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = struct{}{}
	b.log.Debug().Int("clients", len(b.clients)).Msg("stream client registered")
}

// Unregister removes a client and closes its channel unless Stop already did.
func (b *SessionBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; !ok {
		return
	}
	delete(b.clients, client)
	if !b.stopped {
		close(client.Events)
	}
	b.log.Debug().Int("clients", len(b.clients)).Msg("stream client unregistered")
}

// ClientCount returns the number of connected clients
func (b *SessionBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stopped reports whether the broadcaster has shut down.
func (b *SessionBroadcaster) Stopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// Broadcast queues an event for every client. It never blocks for more
// than a short wait.
func (b *SessionBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	if terminal(event.Type) {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(criticalWait):
			b.log.Error().Str("event", string(event.Type)).Int("capacity", cap(b.events)).Msg("failed to queue terminal event")
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		b.log.Warn().Str("event", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// Stop closes every client channel and releases the broadcaster. Safe to
// call more than once.
func (b *SessionBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		close(b.events)
		b.mu.Unlock()
		b.cancel()
	})
}

// Start runs the delivery loop until ctx ends or a terminal event has been
// delivered.
func (b *SessionBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.deliver(event)
				if terminal(event.Type) {
					time.Sleep(shutdownLingers)
					return
				}
			}
		}
	}()
}

func (b *SessionBroadcaster) deliver(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if terminal(event.Type) {
			select {
			case client.Events <- event:
			case <-time.After(clientWait):
				b.log.Error().Str("event", string(event.Type)).Msg("failed to deliver terminal event to client")
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			b.log.Warn().Str("event", string(event.Type)).Msg("client queue full, skipping event")
		}
	}
}

// StreamHub manages broadcasters for multiple import sessions
type StreamHub struct {
	mu           sync.RWMutex
	broadcasters map[string]*SessionBroadcaster
}

// NewStreamHub creates a new stream hub
func NewStreamHub() *StreamHub {
	return &StreamHub{broadcasters: make(map[string]*SessionBroadcaster)}
}

// Register adds a client to the session, starting a broadcaster bound to
// ctx if the session has none running.
func (h *StreamHub) Register(ctx context.Context, sessionID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[sessionID]
	if !ok || b.Stopped() {
		b = NewSessionBroadcaster(ctx)
		h.broadcasters[sessionID] = b
		b.Start()
		log := logger.FromContext(ctx)
		log.Debug().Str("session", sessionID).Msg("started session broadcaster")
	}

	client := NewClient()
	b.Register(client)
	return client
}

// Unregister removes a client; the last one out stops the broadcaster.
func (h *StreamHub) Unregister(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.broadcasters[sessionID]
	if !ok {
		return
	}
	b.Unregister(client)
	if b.ClientCount() == 0 {
		b.Stop()
		delete(h.broadcasters, sessionID)
	}
}

// Broadcast sends an event to all clients of a session. Sessions nobody is
// watching drop the event.
func (h *StreamHub) Broadcast(sessionID string, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if b, ok := h.broadcasters[sessionID]; ok {
		b.Broadcast(event)
	}
}

// IsRunning checks if a live broadcaster exists for the session
func (h *StreamHub) IsRunning(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.broadcasters[sessionID]
	return ok && !b.Stopped()
}
