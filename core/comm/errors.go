package comm

import "errors"

var (
	ErrClosed                = errors.New("comm: closed")
	ErrUnknownPeer           = errors.New("comm: peer not connected")
	ErrHandshake             = errors.New("comm: handshake failed")
	ErrAlreadyResponded      = errors.New("comm: request already answered")
	ErrResponseChannelClosed = errors.New("comm: response channel closed")
	ErrInvalidMessage        = errors.New("comm: message name is required")

	// Remote failures. A *Failure returned from Send matches the sentinel of
	// its code via errors.Is.
	ErrHandlerNotFound  = errors.New("handler not found")
	ErrHandlerFailed    = errors.New("handler failed")
	ErrFirewallRejected = errors.New("rejected by firewall")
	ErrInboundFull      = errors.New("inbound queue full")
	ErrShuttingDown     = errors.New("shutting down")
)
