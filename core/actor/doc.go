// Package actor is a network facing actor runtime: it exposes named message
// handlers to remote peers and lets handlers share state through an object
// store.
//
// An actor is assembled by a [Builder] and runs a single dispatch loop that
// reads inbound requests from the communication layer (package comm) and
// fans them out to handlers:
//
//	a, err := actor.NewBuilder().
//	    ListenOn("127.0.0.1:7000").
//	    WithLogger(log).
//	    Build(ctx)
//	if err != nil {
//	    return err
//	}
//	defer a.Shutdown(context.Background())
//
//	a.HandleFunc("echo", func(hc actor.HandlerCtx, msg actor.NamedMessage) (actor.NamedMessage, error) {
//	    return msg, nil
//	})
//
// # Handlers
//
// Handlers are looked up by message name. [Actor.Handle] and
// [Actor.HandleFunc] register raw handlers; [HandleRequest] registers a
// typed handler whose input and output travel as JSON:
//
//	actor.HandleRequest(a, "add", func(hc actor.HandlerCtx, in AddReq) (*AddRes, error) {
//	    return &AddRes{Sum: in.A + in.B}, nil
//	})
//
// Registering a name again replaces the handler. Every request gets exactly
// one response: the handler result, handler_not_found when no handler is
// registered, or handler_failed when the handler returns an error or panics.
//
// # Shared state
//
// [HandlerCtx.Objects] returns the actor's object store. Access to a key is
// serialized, different keys never block each other.
//
// # Calling peers
//
// [Actor.Dial] connects to another actor, [Actor.Send] and [Request] call its
// handlers. A remote failure comes back as *comm.Failure and matches the
// sentinels of this package:
//
//	res, err := actor.Request[AddReq, AddRes](ctx, a, peer, "add", AddReq{A: 1, B: 2})
//	if errors.Is(err, actor.ErrHandlerNotFound) {
//	    ...
//	}
//
// # Shutdown
//
// [Actor.Shutdown] stops intake, lets running handlers finish within the
// grace period and then closes the communication layer.
package actor
