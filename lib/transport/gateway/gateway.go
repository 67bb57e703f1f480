// Package gateway implements transport.Opener on top of a websocket
// connection to a protocol gateway sidecar. Each session gets its own
// websocket; frames are JSON envelopes.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/transport"
)

var log = logger.GetGoI2PLogger()

const (
	// Time allowed to write a frame to the gateway.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the gateway.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Credentials can be large; messages are small.
	maxFrameSize = 1 << 20

	eventBuffer = 64
)

// Config configures the gateway client.
type Config struct {
	// URL is the gateway websocket endpoint, e.g. ws://localhost:7661/link.
	URL         string
	DialTimeout time.Duration
	// Token is sent as a bearer token when set.
	Token string
}

// Dialer opens gateway handles.
type Dialer struct {
	cfg Config
	ws  *websocket.Dialer
}

// New creates a Dialer.
func New(cfg Config) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

// Open dials the gateway and sends the open frame for req.
func (d *Dialer) Open(ctx context.Context, req transport.OpenRequest) (transport.Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	conn, _, err := d.ws.DialContext(dialCtx, d.cfg.URL, header)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to dial gateway %s", d.cfg.URL)
	}

	h := newHandle(req.Code, conn)
	if err := h.writeFrame(openFrame(req)); err != nil {
		conn.Close()
		return nil, oops.Wrapf(err, "failed to send open frame for %s", req.Code)
	}

	go h.readLoop()
	go h.pingLoop()

	log.WithFields(logger.Fields{
		"at":     "(Dialer) Open",
		"code":   req.Code,
		"method": string(req.Method),
		"url":    d.cfg.URL,
	}).Debug("gateway handle opened")
	return h, nil
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, oops.Wrapf(err, "invalid gateway frame")
	}
	return f, nil
}
