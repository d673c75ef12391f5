package provider

import (
	"context"

	"github.com/RawleySM/llm-shotgun/internal/core/domain"
	"github.com/RawleySM/llm-shotgun/internal/core/ports"
)

// FakeStream is an in-memory RawTokenStream used by tests elsewhere in
// the pipeline; it yields a fixed sequence of tokens and then optionally
// fails with a given error.
type FakeStream struct {
	Tokens  []string
	FailErr error

	idx int
	err error
}

func (f *FakeStream) Next(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		f.err = ctx.Err()
		return "", false
	default:
	}
	if f.idx >= len(f.Tokens) {
		f.err = f.FailErr
		return "", false
	}
	t := f.Tokens[f.idx]
	f.idx++
	return t, true
}

func (f *FakeStream) Err() error   { return f.err }
func (f *FakeStream) Close() error { return nil }

// FakeAdaptor is a scripted ProviderAdaptor test double (C1), letting
// callers queue up a sequence of streams/errors to return on successive
// StreamRaw calls, matching one attempt each.
type FakeAdaptor struct {
	ProviderName string
	Calls        []func() (ports.RawTokenStream, error)

	callCount int
}

func (f *FakeAdaptor) Provider() string { return f.ProviderName }

func (f *FakeAdaptor) StreamRaw(ctx context.Context, model, prompt string) (ports.RawTokenStream, error) {
	if f.callCount >= len(f.Calls) {
		return nil, domain.NewProviderError(f.ProviderName, model, domain.ClassFatal, context.DeadlineExceeded)
	}
	call := f.Calls[f.callCount]
	f.callCount++
	return call()
}

func (f *FakeAdaptor) Classify(err error) domain.FailureClass {
	if pe, ok := err.(*domain.ProviderError); ok {
		return pe.Class
	}
	return domain.ClassFatal
}
