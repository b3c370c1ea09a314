package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-posemusic/internal/log"
)

// ErrBackedUp is returned when a broadcast is dropped because the hub is full.
var ErrBackedUp = errors.New("hub backed up")

type outbound struct {
	msg    Message
	sticky bool
}

// Hub tracks subscribers and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]bool

	// Replayed to every client that joins
	sticky   *Message
	stickyMu sync.Mutex

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	// Guards clients for ClientCount
	mu sync.RWMutex

	// Closed when Run returns
	done chan struct{}

	seq     atomic.Uint64
	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub. A nil logger uses the global one.
func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Or(logger).With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then closes every client.
// This should be called in a goroutine
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			if msg, ok := h.stickyMessage(); ok {
				select {
				case client.send <- msg:
				default:
				}
			}
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", count)

		case out := <-h.broadcast:
			if out.sticky {
				h.setSticky(out.msg)
			}
			h.fanOut(out.msg)
		}
	}
}

func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("dropped slow client", "seq", msg.Seq)
		}
	}
}

// setSticky keeps msg unless a newer sticky message is already stored.
func (h *Hub) setSticky(msg Message) {
	h.stickyMu.Lock()
	defer h.stickyMu.Unlock()
	if h.sticky == nil || h.sticky.Seq < msg.Seq {
		h.sticky = &msg
	}
}

func (h *Hub) stickyMessage() (Message, bool) {
	h.stickyMu.Lock()
	defer h.stickyMu.Unlock()
	if h.sticky == nil {
		return Message{}, false
	}
	return *h.sticky, true
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) enqueue(data []byte, sticky bool) error {
	if data == nil {
		return nil
	}
	out := outbound{msg: Message{Seq: h.seq.Add(1), Data: data}, sticky: sticky}
	select {
	case h.broadcast <- out:
		return nil
	default:
	}

	// Late joiners still get a dropped sticky message.
	if sticky {
		h.setSticky(out.msg)
	}
	if n := h.dropped.Add(1); n%100 == 1 {
		h.logger.Warn("broadcast channel full, dropping messages", "dropped", n)
	}
	return ErrBackedUp
}

// BroadcastBytes sends pre-encoded JSON to every client. When the hub is
// backed up the message is dropped. Nil data is ignored.
func (h *Hub) BroadcastBytes(data []byte) {
	h.enqueue(data, false)
}

// BroadcastSticky is BroadcastBytes, and the message is also replayed to
// clients that join later, until the next sticky broadcast replaces it.
// It returns ErrBackedUp when connected clients missed the message.
func (h *Hub) BroadcastSticky(data []byte) error {
	return h.enqueue(data, true)
}

// BroadcastJSON encodes v and broadcasts it.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.BroadcastBytes(data)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were dropped because the hub was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
