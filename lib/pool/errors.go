package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("link request rate limited")
	// ErrPoolFull rejects a link request when every slot is in use.
	ErrPoolFull = errors.New("session pool is full")
	// ErrLinkTimeout means no code was issued within the link timeout. The
	// session keeps running.
	ErrLinkTimeout = errors.New("timed out waiting for link code")
	// ErrAlreadyLinked rejects a link request for a code with an
	// established session.
	ErrAlreadyLinked = errors.New("session already linked")
	// ErrNotFound is returned for codes the pool has never seen.
	ErrNotFound = errors.New("session not found")
	// ErrPoolClosed is returned once Shutdown has begun.
	ErrPoolClosed = errors.New("session pool closed")
	// ErrInvalidLink rejects a malformed link request.
	ErrInvalidLink = errors.New("invalid link request")
)

// RateLimitError reports how long an actor must wait before linking again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
