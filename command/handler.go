package command

import "context"

// Handler executes one command kind against its remote service. It
// receives the msgpack-encoded envelope, calls the service through the
// platform's resilience wrapper, and maps the response. A returned
// error is a business-level step failure and drives compensation; it is
// never fatal to the executor.
type Handler interface {
	Handle(ctx context.Context, data []byte) (*Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, data []byte) (*Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, data []byte) (*Result, error) {
	return f(ctx, data)
}

// Typed adapts a handler written against the decoded Envelope. Most
// in-process handlers use this; the raw form exists for handlers that
// forward the encoded envelope across a process boundary untouched.
func Typed(fn func(ctx context.Context, env *Envelope) (*Result, error)) Handler {
	return HandlerFunc(func(ctx context.Context, data []byte) (*Result, error) {
		env, err := DecodeEnvelope(data)
		if err != nil {
			return nil, err
		}
		return fn(ctx, env)
	})
}
