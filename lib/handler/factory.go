package handler

import "time"

// Options selects the handlers a Factory builds.
type Options struct {
	Log            bool
	Filter         string
	WebhookURL     string
	WebhookTimeout time.Duration
}

// BuildFactory compiles opts into a Factory. The handlers are stateless, so
// every session shares one instance.
func BuildFactory(opts Options) (Factory, error) {
	var chain Chain
	if opts.Log {
		chain = append(chain, Log)
	}
	if opts.WebhookURL != "" {
		chain = append(chain, NewWebhook(opts.WebhookURL, opts.WebhookTimeout))
	}

	var h Handler
	switch len(chain) {
	case 0:
		h = Nop
	case 1:
		h = chain[0]
	default:
		h = chain
	}

	if opts.Filter != "" {
		f, err := NewFilter(opts.Filter, h)
		if err != nil {
			return nil, err
		}
		h = f
	}
	return func(string) Handler { return h }, nil
}
