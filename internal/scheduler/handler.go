package scheduler

import (
	"context"
	"encoding/json"
)

// Handler performs the work for one task kind. The payload is opaque to the
// scheduler; only the handler registered for the task's kind interprets it.
// Handlers must be safe to retry: the scheduler re-invokes them after a
// failure and makes no attempt to suppress duplicate side effects.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}
