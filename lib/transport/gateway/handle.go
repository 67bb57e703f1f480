package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gorilla/websocket"

	"github.com/go-i2p/go-linkd/lib/transport"
)

type handle struct {
	code string
	conn *websocket.Conn

	events chan transport.Event
	done   chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	identity string
	closing  bool

	closeOnce sync.Once
}

func newHandle(code string, conn *websocket.Conn) *handle {
	return &handle{
		code:   code,
		conn:   conn,
		events: make(chan transport.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (h *handle) Events() <-chan transport.Event { return h.events }

func (h *handle) Identity() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *handle) Send(ctx context.Context, msg transport.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return transport.ErrHandleClosed
	default:
	}
	return h.writeFrame(frame{Type: frameSend, Code: h.code, Send: &msg})
}

// Close closes the websocket. It does not wait for the gateway.
func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		h.identity = ""
		h.mu.Unlock()

		h.writeMu.Lock()
		_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = h.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.writeMu.Unlock()

		err = h.conn.Close()
		close(h.done)
	})
	return err
}

func (h *handle) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop is the only writer of h.events and closes it on exit.
func (h *handle) readLoop() {
	defer close(h.events)

	h.conn.SetReadLimit(maxFrameSize)
	_ = h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(string) error {
		return h.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sawClose := false
	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			if !sawClose && !h.isClosing() {
				log.WithFields(logger.Fields{
					"at":     "(handle) readLoop",
					"code":   h.code,
					"reason": "gateway_read_failed",
				}).WithError(err).Warn("gateway connection lost")
				h.clearIdentity()
				h.deliver(transport.Event{Kind: transport.EventClose, Reason: transport.ReasonConnectionLost})
			}
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			log.WithError(err).WithField("code", h.code).Warn("dropping gateway frame")
			continue
		}
		if f.Type == frameError {
			log.WithFields(logger.Fields{
				"at":    "(handle) readLoop",
				"code":  h.code,
				"error": f.Error,
			}).Warn("gateway reported an error")
			continue
		}

		ev, ok := f.toEvent()
		if !ok {
			log.WithFields(logger.Fields{"code": h.code, "type": f.Type}).Debug("ignoring gateway frame")
			continue
		}
		switch ev.Kind {
		case transport.EventOpen:
			h.setIdentity(ev.Identity)
		case transport.EventClose:
			sawClose = true
			h.clearIdentity()
		}
		if !h.deliver(ev) {
			return
		}
	}
}

func (h *handle) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := h.conn.WriteMessage(websocket.PingMessage, nil)
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// deliver blocks until the event is consumed or the handle is closed.
func (h *handle) deliver(ev transport.Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *handle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *handle) setIdentity(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identity = id
}

func (h *handle) clearIdentity() { h.setIdentity("") }
