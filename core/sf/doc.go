// Package sf is a typed wrapper around golang.org/x/sync/singleflight.
//
// The communication layer uses it so that concurrent requests towards a peer
// address that is not connected yet share one dial and one handshake:
//
//	var dials sf.Group[PeerID]
//	id, err := dials.Do(addr, func() (PeerID, error) { return c.dial(ctx, addr) })
package sf
