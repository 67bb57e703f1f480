package handler

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/samber/oops"
)

// filterEnv declares the variables available to filter expressions.
var filterEnv = map[string]any{
	"session": "",
	"from":    "",
	"chat":    "",
	"text":    "",
	"hour":    0,
}

// Filter passes a message to Next only when its expression is true.
//
//	text startsWith "!" && from != session
type Filter struct {
	Source  string
	Next    Handler
	program *vm.Program
}

// NewFilter compiles source against the message environment.
func NewFilter(source string, next Handler) (*Filter, error) {
	if source == "" {
		return nil, oops.Errorf("empty filter expression")
	}
	program, err := expr.Compile(source, expr.Env(filterEnv), expr.AsBool())
	if err != nil {
		return nil, oops.Wrapf(err, "invalid filter expression %q", source)
	}
	return &Filter{Source: source, Next: next, program: program}, nil
}

// Match evaluates the expression for msg.
func (f *Filter) Match(msg Message) (bool, error) {
	out, err := expr.Run(f.program, map[string]any{
		"session": msg.Session,
		"from":    msg.From,
		"chat":    msg.Chat,
		"text":    msg.Text,
		"hour":    msg.Timestamp.Hour(),
	})
	if err != nil {
		return false, oops.Wrapf(err, "filter %q failed", f.Source)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (f *Filter) Handle(ctx context.Context, msg Message, reply Replier) error {
	ok, err := f.Match(msg)
	if err != nil || !ok {
		return err
	}
	return f.Next.Handle(ctx, msg, reply)
}
