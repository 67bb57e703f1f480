package util

import (
	"errors"
	"io"
	"sync"
)

// Closers collects resources that must be closed on shutdown. The zero value
// is ready to use and safe for concurrent use.
type Closers struct {
	mu      sync.Mutex
	closers []io.Closer
}

// Add registers c. Nil closers are ignored.
func (c *Closers) Add(closer io.Closer) {
	if closer == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
	log.WithField("count", len(c.closers)).Debug("registered closer")
}

// CloseAll closes every registered resource in reverse order and forgets
// them. Errors are logged and joined.
func (c *Closers) CloseAll() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.WithError(err).Warn("error closing resource")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
