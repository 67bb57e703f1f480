package api

import (
	"net/http"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512

	clientQueue = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is one /events websocket subscriber.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	code   string
	remote string
}

func (c *Client) wants(code string) bool {
	return c.code == "" || c.code == code
}

// handleEvents upgrades to a websocket and streams event envelopes.
// ?code= limits the stream to one session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Server).handleEvents",
			"remote": r.RemoteAddr,
		}).Warn("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, clientQueue),
		code:   r.URL.Query().Get("code"),
		remote: r.RemoteAddr,
	}
	if !s.hub.Register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.WithFields(logger.Fields{
		"at":     "(Server).handleEvents",
		"remote": c.remote,
		"code":   c.code,
	}).Debug("event stream client connected")

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithFields(logger.Fields{
					"at":     "(Client).readPump",
					"remote": c.remote,
				}).Debug("event stream read error")
			}
			return
		}
	}
}

// writePump sends queued envelopes and pings. A closed send channel means
// the hub dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
