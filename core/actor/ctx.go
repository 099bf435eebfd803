package actor

import (
	"context"
	"log/slog"
	"time"

	"github.com/codewandler/peeractor/core/objectstore"
)

// HandlerCtx is passed to every handler invocation. Its context is not
// cancelled while the actor drains on shutdown, only when the grace period
// runs out.
type HandlerCtx interface {
	context.Context
	Log() *slog.Logger
	// Peer is the caller.
	Peer() PeerID
	// Name is the requested message name.
	Name() string
	ReceivedAt() time.Time
	Objects() *objectstore.Store
	// Schedule runs f in the background. Shutdown waits for it.
	Schedule(f func())
	Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error)
}

type handlerCtx struct {
	context.Context
	a   *Actor
	log *slog.Logger
	rr  *ReceiveRequest
}

func (hc *handlerCtx) Log() *slog.Logger           { return hc.log }
func (hc *handlerCtx) Peer() PeerID                { return hc.rr.Peer }
func (hc *handlerCtx) Name() string                { return hc.rr.Request.Name }
func (hc *handlerCtx) ReceivedAt() time.Time       { return hc.rr.ReceivedAt }
func (hc *handlerCtx) Objects() *objectstore.Store { return hc.a.objects }
func (hc *handlerCtx) Schedule(f func())           { hc.a.tasks.Schedule(f) }

func (hc *handlerCtx) Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error) {
	return hc.a.Send(ctx, peer, msg)
}

var _ HandlerCtx = (*handlerCtx)(nil)
