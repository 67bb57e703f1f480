package credentials

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrInvalidCode is returned for codes that cannot be used as a storage key.
	ErrInvalidCode = errors.New("invalid credential code")

	// ErrSealed is returned when stored material cannot be unsealed, usually
	// because the passphrase changed.
	ErrSealed = errors.New("credentials cannot be unsealed")
)

// Store is the credential store the orchestrator consumes. Read reports
// ok=false for a code that was never written. Write and Remove must not
// return while their mutation can still land.
type Store interface {
	Read(ctx context.Context, code string) (data []byte, ok bool, err error)
	Write(ctx context.Context, code string, data []byte) error
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]string, error)
}

// Meta describes a stored entry without exposing its contents.
type Meta struct {
	Code      string    `yaml:"code"`
	Size      int       `yaml:"size"`
	Sealed    bool      `yaml:"sealed"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Describer is implemented by stores that can report Meta.
type Describer interface {
	Describe(ctx context.Context, code string) (Meta, bool, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	sealer *Sealer
	now    func() time.Time
}

// WithSealer seals material at rest.
func WithSealer(s *Sealer) Option {
	return func(o *options) { o.sealer = s }
}

// WithClock overrides time.Now for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_+.-]{0,127}$`)

// ValidateCode rejects codes that are empty, too long, or could escape the
// store's root directory.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) || code == "." || code == ".." {
		return oops.Wrapf(ErrInvalidCode, "code %q", code)
	}
	return nil
}

// bounded runs fn in a goroutine and returns early if ctx ends first. The
// goroutine still runs to completion. Only for reads.
func bounded(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settled runs a mutation and waits for it even past ctx, so nothing lands
// after the caller has moved on. ctx only gates the start.
func settled(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
