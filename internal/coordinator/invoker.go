package coordinator

import (
	"context"

	"github.com/tbourn/go-groupchat-backend/internal/providers"
	"github.com/tbourn/go-groupchat-backend/internal/stream"
)

// HTTPInvoker invokes providers over the network: the registry picks the
// adapter, the adapter builds the request, the caller executes it.
type HTTPInvoker struct {
	Registry *providers.Registry
	Caller   *stream.Caller
}

// NewHTTPInvoker wires a registry and a caller.
func NewHTTPInvoker(reg *providers.Registry, caller *stream.Caller) *HTTPInvoker {
	return &HTTPInvoker{Registry: reg, Caller: caller}
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	a, err := h.Registry.For(req.Provider)
	if err != nil {
		return "", err
	}
	rs, err := a.BuildRequest(req.Provider, req.Message, req.History, req.SystemPrefix)
	if err != nil {
		return "", err
	}
	return h.Caller.Execute(ctx, a, rs, onDelta)
}
