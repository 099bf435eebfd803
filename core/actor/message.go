package actor

import (
	"context"

	"github.com/codewandler/peeractor/core/comm"
)

type (
	NamedMessage   = comm.NamedMessage
	PeerID         = comm.PeerID
	ReceiveRequest = comm.ReceiveRequest
	Response       = comm.Response
	Failure        = comm.Failure
)

// Communication is what the actor needs from the communication layer.
// *comm.Comm implements it.
type Communication interface {
	Inbound() <-chan *comm.ReceiveRequest
	Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error)
	Dial(ctx context.Context, addr string) (PeerID, error)
	Listen(ctx context.Context, addr string) (string, error)
	PeerID() PeerID
	Addrs() []string
	Peers() []PeerID
	Firewall() *comm.Firewall
	// CloseInbound stops intake and closes the inbound channel.
	CloseInbound()
	Close() error
}

var _ Communication = (*comm.Comm)(nil)
