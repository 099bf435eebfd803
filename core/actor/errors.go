package actor

import (
	"errors"
	"fmt"

	"github.com/codewandler/peeractor/core/comm"
)

var (
	ErrHandlerNotFound = comm.ErrHandlerNotFound
	ErrHandlerFailed   = comm.ErrHandlerFailed
	ErrShuttingDown    = comm.ErrShuttingDown
	ErrFirewall        = comm.ErrFirewallRejected
	ErrInboundFull     = comm.ErrInboundFull

	ErrShutdownTimeout = errors.New("actor: shutdown grace period exceeded")
	ErrBuilderConsumed = errors.New("actor: builder already used")
	ErrInvalidConfig   = errors.New("actor: invalid configuration")
)

// CommunicationSetupError is returned by Build when the communication layer
// cannot be created or a listen address cannot be bound.
type CommunicationSetupError struct {
	// Addr is the listen address that failed, empty if setup failed before
	// binding.
	Addr string
	Err  error
}

func (e *CommunicationSetupError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("actor: communication setup failed: %v", e.Err)
	}
	return fmt.Sprintf("actor: communication setup failed: listen %s: %v", e.Addr, e.Err)
}

func (e *CommunicationSetupError) Unwrap() error { return e.Err }
