package pool

import (
	"context"
	"errors"
	"sort"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/credentials"
	"github.com/go-i2p/go-linkd/lib/session"
)

// Delete terminates the session and removes its credentials. Unknown codes
// are not an error; any credentials stored under them are removed. A code
// that could never have been stored counts as already gone.
func (p *Pool) Delete(ctx context.Context, code string) error {
	var found bool
	if err := p.commit(ctx, func() {
		if s, ok := p.sessions[code]; ok {
			found = true
			s.Terminate(session.Termination{Reason: session.ReasonDeleted, Purge: true})
		}
	}); err != nil {
		return err
	}
	if found {
		return nil
	}

	err := p.store.Remove(ctx, code)
	if errors.Is(err, credentials.ErrInvalidCode) {
		log.WithFields(logger.Fields{
			"at":     "(Pool) Delete",
			"code":   code,
			"reason": "invalid_code",
		}).Debug("delete of unknown session with unusable code")
		return nil
	}
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(Pool) Delete",
			"code":   code,
			"reason": "stale_credential_remove_failed",
		}).Warn("failed to remove credentials of unknown session")
		return oops.Wrapf(err, "remove credentials for %s", code)
	}
	log.WithField("code", code).Debug("delete of unknown session")
	return nil
}

// Status returns the session's current status. Recently terminated sessions
// report Terminated with their reason until their tombstone expires.
func (p *Pool) Status(ctx context.Context, code string) (session.Status, error) {
	var (
		st    session.Status
		found bool
	)
	if err := p.call(ctx, func() {
		if s, ok := p.sessions[code]; ok {
			st, found = s.Status(), true
			return
		}
		if tb, ok := p.tombstones[code]; ok && p.now().Before(tb.expires) {
			st, found = tb.status, true
		}
	}); err != nil {
		return session.Status{}, err
	}
	if !found {
		return session.Status{}, oops.Wrapf(ErrNotFound, "session %s", code)
	}
	return st, nil
}

// List returns every live session ordered by code.
func (p *Pool) List(ctx context.Context) ([]session.Status, error) {
	var out []session.Status
	if err := p.call(ctx, func() {
		out = make([]session.Status, 0, len(p.sessions))
		for _, s := range p.sessions {
			out = append(out, s.Status())
		}
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Len returns the number of live sessions.
func (p *Pool) Len(ctx context.Context) (int, error) {
	var n int
	err := p.call(ctx, func() { n = len(p.sessions) })
	return n, err
}
