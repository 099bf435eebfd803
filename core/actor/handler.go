package actor

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler answers requests for one message name. It may be invoked
	// concurrently for different requests.
	Handler interface {
		Handle(hc HandlerCtx, msg NamedMessage) (NamedMessage, error)
	}

	// HandlerFunc adapts a function to Handler.
	HandlerFunc func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error)

	// Registrar is anything handlers can be registered with.
	Registrar interface {
		Handle(name string, h Handler) bool
	}

	// Sender is anything that can call a peer: *Actor and HandlerCtx.
	Sender interface {
		Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error)
	}
)

func (f HandlerFunc) Handle(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
	return f(hc, msg)
}

// HandleRequest registers a handler for name that decodes its input as JSON
// into IN and encodes the returned *OUT as JSON. An empty request body
// decodes to the zero IN; a nil *OUT answers with an empty body.
func HandleRequest[IN any, OUT any](r Registrar, name string, fn func(hc HandlerCtx, in IN) (*OUT, error)) bool {
	return r.Handle(name, HandlerFunc(func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		var in IN
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				return NamedMessage{}, fmt.Errorf("decode %s: %w", name, err)
			}
		}
		out, err := fn(hc, in)
		if err != nil {
			return NamedMessage{}, err
		}
		res := NamedMessage{Name: name}
		if out != nil {
			if res.Data, err = json.Marshal(out); err != nil {
				return NamedMessage{}, fmt.Errorf("encode %s: %w", name, err)
			}
		}
		return res, nil
	}))
}

// HandleMsg registers a handler for name that only returns an error.
func HandleMsg[IN any](r Registrar, name string, fn func(hc HandlerCtx, in IN) error) bool {
	return HandleRequest[IN, struct{}](r, name, func(hc HandlerCtx, in IN) (*struct{}, error) {
		return nil, fn(hc, in)
	})
}

// Request calls handler name on peer with in encoded as JSON and decodes the
// answer into OUT. An empty answer yields a nil *OUT.
func Request[IN any, OUT any](ctx context.Context, s Sender, peer PeerID, name string, in IN) (*OUT, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	res, err := s.Send(ctx, peer, NamedMessage{Name: name, Data: data})
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	out := new(OUT)
	if err := json.Unmarshal(res.Data, out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", name, err)
	}
	return out, nil
}
