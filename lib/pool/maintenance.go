package pool

import (
	"context"
	"errors"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-linkd/lib/handler"
	"github.com/go-i2p/go-linkd/lib/session"
	"github.com/go-i2p/go-linkd/lib/transport"
)

// RestoreActor is recorded as the requester of restored sessions.
const RestoreActor = "restore"

// restoreReaders bounds concurrent credential reads during Restore.
const restoreReaders = 8

// Sweep evicts sessions whose transport lost its identity and prunes expired
// cooldowns and tombstones. Sessions still covered by their watchdog are left
// alone. It returns the number of evicted sessions.
func (p *Pool) Sweep(ctx context.Context) (int, error) {
	var evicted int
	err := p.call(ctx, func() {
		for code, s := range p.sessions {
			if !s.Stale() {
				continue
			}
			log.WithFields(logger.Fields{
				"at":     "(Pool) Sweep",
				"code":   code,
				"state":  s.State().String(),
				"reason": session.ReasonSweep,
			}).Info("evicting session without identity")
			s.Terminate(session.Termination{Reason: session.ReasonSweep, Purge: true})
			evicted++
		}

		now := p.now()
		for actor, until := range p.cooldowns {
			if !now.Before(until) {
				delete(p.cooldowns, actor)
			}
		}
		for code, tb := range p.tombstones {
			if !now.Before(tb.expires) {
				delete(p.tombstones, code)
			}
		}
	})
	if err != nil {
		return 0, err
	}
	p.metrics.Swept(evicted)
	if evicted > 0 {
		log.WithField("evicted", evicted).Info("sweep finished")
	}
	return evicted, nil
}

type storedSession struct {
	code  string
	creds []byte
}

// Restore re-admits every session found in the credential store, up to
// capacity. Restored sessions skip the cooldown and start in Connecting.
// Unreadable entries are logged and skipped.
func (p *Pool) Restore(ctx context.Context) (int, error) {
	codes, err := p.store.List(ctx)
	if err != nil {
		return 0, oops.Wrapf(err, "list stored sessions")
	}

	found := make([]storedSession, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreReaders)
	for i, code := range codes {
		g.Go(func() error {
			data, ok, err := p.store.Read(gctx, code)
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"at":     "(Pool) Restore",
					"code":   code,
					"reason": "credential_read_failed",
				}).Warn("skipping unreadable stored session")
				return nil
			}
			if ok && len(data) > 0 {
				found[i] = storedSession{code: code, creds: data}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var restored, skipped int
	err = p.call(ctx, func() {
		if p.closed {
			return
		}
		for _, st := range found {
			if st.code == "" {
				continue
			}
			if _, live := p.sessions[st.code]; live {
				continue
			}
			if len(p.sessions) >= p.cfg.Capacity {
				skipped++
				continue
			}
			p.spawn(st.code, RestoreActor, transport.MethodQR, "", st.creds)
			restored++
		}
	})
	if err != nil {
		return restored, err
	}

	fields := logger.Fields{
		"at":       "(Pool) Restore",
		"stored":   len(codes),
		"restored": restored,
	}
	if skipped > 0 {
		fields["skipped"] = skipped
		fields["reason"] = "pool_full"
		log.WithFields(fields).Warn("not every stored session fits in the pool")
	} else {
		log.WithFields(fields).Info("restored stored sessions")
	}
	return restored, nil
}

// Reload swaps every live session's handler for one built by factory and
// uses factory for future sessions. Transports are not touched; in-flight
// messages finish on the previous handler.
func (p *Pool) Reload(ctx context.Context, factory handler.Factory) error {
	if factory == nil {
		factory = handler.NopFactory
	}
	var n int
	if err := p.call(ctx, func() {
		p.factory = factory
		for code, s := range p.sessions {
			s.SetHandler(factory(code))
			n++
		}
	}); err != nil {
		return err
	}
	p.metrics.Reloaded()
	log.WithFields(logger.Fields{
		"at":       "(Pool) Reload",
		"sessions": n,
	}).Info("handlers reloaded")
	return nil
}

// Shutdown terminates every session with reason shutdown, keeping their
// credentials, closes the transports concurrently and stops the loop. It
// waits for the closes until ctx ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopCron()

	var (
		handles  []transport.Handle
		flushing []<-chan struct{}
	)
	err := p.call(ctx, func() {
		if !p.closed {
			p.closed = true
			for _, s := range p.sessions {
				if h := s.Release(session.Termination{Reason: session.ReasonShutdown}); h != nil {
					handles = append(handles, h)
				}
			}
		}
		p.flushing = unflushed(p.flushing)
		flushing = append(flushing, p.flushing...)
	})
	if err != nil && !errors.Is(err, ErrPoolClosed) {
		return err
	}

	log.WithFields(logger.Fields{
		"at":         "(Pool) Shutdown",
		"transports": len(handles),
	}).Info("shutting down session pool")

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error { return closeWithin(ctx, h) })
	}
	err = g.Wait()

	// Credential writes queued before the release must land before the
	// caller closes the store.
	if ferr := awaitFlushed(ctx, flushing); ferr != nil {
		log.WithError(ferr).WithFields(logger.Fields{
			"at":      "(Pool) Shutdown",
			"pending": len(flushing),
			"reason":  "credential_flush_timeout",
		}).Warn("credential I/O still pending at shutdown")
		if err == nil {
			err = ferr
		}
	}

	p.quitOnce.Do(func() { close(p.quit) })
	<-p.loopDone
	return err
}

func awaitFlushed(ctx context.Context, chs []<-chan struct{}) error {
	for _, ch := range chs {
		select {
		case <-ch:
		case <-ctx.Done():
			return oops.Wrapf(ctx.Err(), "flush credentials")
		}
	}
	return nil
}

func closeWithin(ctx context.Context, h transport.Handle) error {
	done := make(chan error, 1)
	go func() { done <- h.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return oops.Wrapf(ctx.Err(), "close transport")
	}
}
