package api

import (
	"sync"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-linkd/lib/events"
)

type broadcast struct {
	code string
	data []byte
}

// Hub fans lifecycle events out to websocket clients. Publish never blocks:
// when the broadcast buffer or a client's queue is full the event is dropped
// for that client, and a client that falls behind is disconnected.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once

	mu    sync.RWMutex
	count int
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run serves the hub until Stop.
func (h *Hub) Run() {
	log.WithFields(logger.Fields{"at": "(Hub).Run"}).Debug("event hub started")
	defer log.WithFields(logger.Fields{"at": "(Hub).Run"}).Debug("event hub stopped")

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.code) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					log.WithFields(logger.Fields{
						"at":     "(Hub).Run",
						"remote": c.remote,
						"reason": "slow_consumer",
					}).Warn("dropping event stream client")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.setCount(len(h.clients))

		case <-h.quit:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return
		}
	}
}

// Stop closes every client stream and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Publish implements events.Sink.
func (h *Hub) Publish(ev events.Event) {
	data, err := events.MarshalEvent(ev)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":   "(Hub).Publish",
			"type": string(ev.EventType()),
		}).Error("failed to encode event")
		return
	}
	select {
	case h.broadcast <- broadcast{code: ev.SessionCode(), data: data}:
	case <-h.quit:
	default:
		log.WithFields(logger.Fields{
			"at":     "(Hub).Publish",
			"code":   ev.SessionCode(),
			"reason": "broadcast_buffer_full",
		}).Warn("dropping event")
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
