package ipc

import (
	"context"
	"encoding/json"

	"go.uber.org/fx"
)

// Handler answers envelopes of one kind inside a sub-process.
// Handlers are contributed to the sub-process container with AsHandler.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

type funcHandler struct {
	kind string
	fn   HandlerFunc
}

func (h funcHandler) Kind() string { return h.kind }

func (h funcHandler) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	return h.fn(ctx, payload)
}

// NewHandler returns a Handler for kind backed by fn.
func NewHandler(kind string, fn HandlerFunc) Handler {
	return funcHandler{kind: kind, fn: fn}
}

// AsHandler annotates a constructor so its result joins the sub-process
// handler group.
//
// Example:
//
//	services.Provide(ipc.AsHandler(NewEchoHandler))
func AsHandler(constructor any) any {
	return fx.Annotate(
		constructor,
		fx.As(new(Handler)),
		fx.ResultTags(`group:"ipc_handlers"`),
	)
}

type handlerParams struct {
	fx.In

	Handlers []Handler `group:"ipc_handlers"`
}
