// Package comm is the communication layer the actor runtime sits on: it owns
// the node identity, accepts and dials byte-stream connections through a
// pluggable [Transport], applies the [Firewall] to every inbound request and
// surfaces the admitted ones on a bounded channel of [*ReceiveRequest].
//
// # Construction
//
// The channel is created by the caller and handed to the [Builder]; the
// layer only ever writes to it and closes it on shutdown:
//
//	inbound := make(chan *comm.ReceiveRequest, 512)
//	c, err := comm.NewBuilder(inbound,
//	    comm.WithKeys(keys),
//	    comm.WithFirewall(comm.AllowPeers(trusted...)),
//	).Build(ctx, comm.NewTCPTransport())
//	addr, err := c.Listen(ctx, "127.0.0.1:0")
//
// # Identity
//
// Every node has an ed25519 [Keypair]. Its [PeerID] is the hex encoded
// BLAKE2b-256 digest of the public key. Both ends of a new connection prove
// possession of their key by signing a nonce chosen by the other end.
//
// # Wire format
//
// After the handshake a connection carries length-prefixed JSON frames
// (internal/codec). Requests and responses are correlated by id, so one
// connection multiplexes any number of concurrent requests in both
// directions.
//
// # Backpressure
//
// When the inbound channel is full a request is rejected right away with
// [FailureInboundFull]. The connection read loop never blocks on the
// consumer.
package comm
