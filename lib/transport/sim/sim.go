// Package sim provides an in-process transport that stands in for the
// external gateway. Tests drive each Handle by hand; the serve command can run
// it with AutoCode and AutoOpen to exercise the orchestrator without a gateway.
package sim

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-linkd/lib/transport"
)

var log = logger.GetGoI2PLogger()

// eventBuffer bounds how many undelivered events a handle holds.
const eventBuffer = 64

// Options control the simulator's automatic behaviour.
type Options struct {
	// AutoCode emits a code-ready event as soon as a fresh handle opens.
	AutoCode bool
	// AutoOpen emits an open event when a handle opens with stored credentials.
	AutoOpen bool
	// Identity maps a session code to the identity reported by AutoOpen.
	// Defaults to "sim:" + code.
	Identity func(code string) string
}

// Gateway is a transport.Opener that records every handle it opens.
type Gateway struct {
	opts Options

	mu       sync.Mutex
	handles  map[string][]*Handle
	failNext []error
}

// New creates a simulated gateway.
func New(opts Options) *Gateway {
	return &Gateway{
		opts:    opts,
		handles: make(map[string][]*Handle),
	}
}

// Open implements transport.Opener.
func (g *Gateway) Open(ctx context.Context, req transport.OpenRequest) (transport.Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if len(g.failNext) > 0 {
		err := g.failNext[0]
		g.failNext = g.failNext[1:]
		g.mu.Unlock()
		return nil, err
	}
	h := newHandle(req)
	g.handles[req.Code] = append(g.handles[req.Code], h)
	g.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":        "(Gateway) Open",
		"code":      req.Code,
		"method":    string(req.Method),
		"restoring": req.Credentials != nil,
	}).Debug("simulated handle opened")

	switch {
	case req.Credentials != nil && g.opts.AutoOpen:
		h.Connect(g.identity(req.Code))
	case req.Credentials == nil && g.opts.AutoCode:
		h.EmitCode(autoPayload(req))
	}
	return h, nil
}

// FailNext makes the next Open calls return the given errors, in order.
func (g *Gateway) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = append(g.failNext, errs...)
}

// Last returns the most recent handle opened for code, or nil.
func (g *Gateway) Last(code string) *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	hs := g.handles[code]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Opened returns how many handles were opened for code.
func (g *Gateway) Opened(code string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles[code])
}

func (g *Gateway) identity(code string) string {
	if g.opts.Identity != nil {
		return g.opts.Identity(code)
	}
	return "sim:" + code
}

func autoPayload(req transport.OpenRequest) string {
	if req.Method == transport.MethodPairing {
		return pairingCode()
	}
	return fmt.Sprintf("sim-qr:%s:%s", req.Code, pairingCode())
}

// pairingCode returns an 8 character code in the XXXX-XXXX display format.
func pairingCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTVWXYZ23456789"
	b := make([]byte, 0, 9)
	for i := 0; i < 8; i++ {
		if i == 4 {
			b = append(b, '-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		b = append(b, alphabet[n.Int64()])
	}
	return string(b)
}
