package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-i2p/logger"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/metrics"
	"github.com/go-i2p/go-linkd/lib/session"
	"github.com/go-i2p/go-linkd/lib/transport"
)

// LinkRequest asks the pool to link a new account.
type LinkRequest struct {
	// Actor identifies who asked; cooldowns are tracked per actor.
	Actor string `json:"actor"`
	// Method is "qr" (default) or "pairing".
	Method string `json:"method"`
	// TargetAddress is the phone-style address to pair with.
	TargetAddress string `json:"targetAddress,omitempty"`
	// Code optionally fixes the session code.
	Code string `json:"code,omitempty"`
}

// LinkResult is what the caller shows to the user.
type LinkResult struct {
	Code           string           `json:"code"`
	Method         transport.Method `json:"method"`
	QR             string           `json:"qr,omitempty"`
	PairingDisplay string           `json:"pairingDisplay,omitempty"`
}

type admission struct {
	code   string
	actor  string
	method transport.Method
	target string
}

// RequestLink admits a new session and waits for its first code.
//
// A cooldown or capacity rejection creates nothing. If no code arrives within
// the link timeout ErrLinkTimeout is returned and the session keeps running
// under its watchdog. A session that ends before issuing a code reports its
// cause wrapped in session.ErrTransportFault.
func (p *Pool) RequestLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	a, err := p.prepare(req)
	if err != nil {
		p.metrics.Admission(metrics.AdmissionRejected)
		return nil, err
	}

	var (
		waitCh   <-chan session.CodeResult
		admitErr error
	)
	if err := p.commit(ctx, func() {
		var s *session.Supervisor
		if s, admitErr = p.admit(a); admitErr == nil {
			waitCh = s.AwaitCode()
		}
	}); err != nil {
		return nil, err
	}
	if admitErr != nil {
		return nil, admitErr
	}

	timer := time.NewTimer(p.cfg.LinkTimeout)
	defer timer.Stop()
	select {
	case res := <-waitCh:
		if res.Err != nil {
			if !errors.Is(res.Err, session.ErrTransportFault) {
				res.Err = fmt.Errorf("%w: %w", session.ErrTransportFault, res.Err)
			}
			return nil, res.Err
		}
		out := &LinkResult{Code: a.code, Method: a.method}
		if a.method == transport.MethodPairing {
			out.PairingDisplay = res.Payload
		} else {
			out.QR = res.Payload
		}
		return out, nil
	case <-timer.C:
		log.WithFields(logger.Fields{
			"at":      "(Pool) RequestLink",
			"code":    a.code,
			"timeout": p.cfg.LinkTimeout.String(),
			"reason":  "link_timeout",
		}).Warn("no link code issued in time")
		return nil, oops.Wrapf(ErrLinkTimeout, "session %s", a.code)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Admit admits a new session without waiting for its code. The code shows up
// later as a codeReady event.
func (p *Pool) Admit(ctx context.Context, req LinkRequest) (string, error) {
	a, err := p.prepare(req)
	if err != nil {
		p.metrics.Admission(metrics.AdmissionRejected)
		return "", err
	}
	var admitErr error
	if err := p.commit(ctx, func() { _, admitErr = p.admit(a) }); err != nil {
		return "", err
	}
	if admitErr != nil {
		return "", admitErr
	}
	return a.code, nil
}

// prepare validates a request and derives its code off the loop.
func (p *Pool) prepare(req LinkRequest) (admission, error) {
	a := admission{actor: strings.TrimSpace(req.Actor), target: strings.TrimSpace(req.TargetAddress)}
	if a.actor == "" {
		return a, oops.Wrapf(ErrInvalidLink, "actor is required")
	}
	method, err := transport.ParseMethod(req.Method)
	if err != nil {
		return a, oops.Wrapf(ErrInvalidLink, "%v", err)
	}
	a.method = method

	if method == transport.MethodPairing && digits(a.target) == "" {
		return a, oops.Wrapf(ErrInvalidLink, "pairing requires a target address")
	}

	switch {
	case req.Code != "":
		a.code = req.Code
	case method == transport.MethodPairing:
		a.code = digits(a.target)
	default:
		a.code = strings.ToLower(ulid.Make().String())
	}
	if err := credentials.ValidateCode(a.code); err != nil {
		return a, oops.Wrapf(ErrInvalidLink, "%v", err)
	}
	return a, nil
}

// admit runs on the loop. Cooldown is checked before capacity.
func (p *Pool) admit(a admission) (*session.Supervisor, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	now := p.now()
	fields := logger.Fields{
		"at":     "(Pool) admit",
		"actor":  a.actor,
		"code":   a.code,
		"method": string(a.method),
	}

	if until, ok := p.cooldowns[a.actor]; ok && now.Before(until) {
		retry := until.Sub(now)
		fields["reason"] = "cooldown"
		fields["retry_after"] = retry.String()
		log.WithFields(fields).Info("link request rate limited")
		p.metrics.Admission(metrics.AdmissionRateLimited)
		return nil, &RateLimitError{RetryAfter: retry}
	}

	live := len(p.sessions)
	existing := p.sessions[a.code]
	if existing != nil {
		if !awaitingUser(existing.State()) {
			fields["reason"] = "already_linked"
			fields["state"] = existing.State().String()
			log.WithFields(fields).Info("link request for an established session")
			p.metrics.Admission(metrics.AdmissionAlreadyLinked)
			return nil, oops.Wrapf(ErrAlreadyLinked, "session %s", a.code)
		}
		live--
	}
	if live >= p.cfg.Capacity {
		fields["reason"] = "pool_full"
		fields["capacity"] = p.cfg.Capacity
		log.WithFields(fields).Warn("link request rejected, pool full")
		p.metrics.Admission(metrics.AdmissionPoolFull)
		return nil, oops.Wrapf(ErrPoolFull, "capacity %d", p.cfg.Capacity)
	}

	if existing != nil {
		existing.Terminate(session.Termination{Reason: session.ReasonReplaced})
	}
	p.cooldowns[a.actor] = now.Add(p.cfg.Cooldown)
	p.metrics.Admission(metrics.AdmissionAccepted)
	log.WithFields(fields).Info("link request admitted")
	return p.spawn(a.code, a.actor, a.method, a.target, nil), nil
}

// awaitingUser reports whether a session can still be replaced by a fresh
// link request for its code.
func awaitingUser(st session.State) bool {
	return st == session.Creating || st == session.AwaitingQr || st == session.AwaitingPairing
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
