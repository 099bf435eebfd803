package comm

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NamedMessage is the request and response payload: a logical name used for
// handler dispatch plus an opaque body.
type NamedMessage struct {
	Name string `json:"name"`
	Data []byte `json:"data,omitempty"`
}

func (m NamedMessage) Validate() error {
	if m.Name == "" {
		return ErrInvalidMessage
	}
	return nil
}

type FailureCode string

const (
	FailureHandlerNotFound  FailureCode = "handler_not_found"
	FailureHandlerFailed    FailureCode = "handler_failed"
	FailureFirewallRejected FailureCode = "firewall_rejected"
	FailureInboundFull      FailureCode = "inbound_full"
	FailureShutdown         FailureCode = "shutdown"
)

// Failure is a request that was answered with an error instead of a message.
type Failure struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message,omitempty"`
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Is(target error) bool {
	switch f.Code {
	case FailureHandlerNotFound:
		return target == ErrHandlerNotFound
	case FailureHandlerFailed:
		return target == ErrHandlerFailed
	case FailureFirewallRejected:
		return target == ErrFirewallRejected
	case FailureInboundFull:
		return target == ErrInboundFull
	case FailureShutdown:
		return target == ErrShuttingDown
	}
	return false
}

// Response answers exactly one ReceiveRequest. Err is nil on success.
type Response struct {
	Message NamedMessage
	Err     *Failure
}

// ReplyFunc delivers a response back to the requester.
type ReplyFunc func(Response) error

// ReceiveRequest is an inbound request together with its single-use
// response channel.
type ReceiveRequest struct {
	Peer       PeerID
	Request    NamedMessage
	ReceivedAt time.Time

	reply     ReplyFunc
	responded atomic.Bool
}

// NewReceiveRequest builds a request whose response goes to reply. Transports
// other than the built-in connection multiplexer, and tests, use it to feed
// an inbound channel directly.
func NewReceiveRequest(peer PeerID, msg NamedMessage, reply ReplyFunc) *ReceiveRequest {
	return &ReceiveRequest{
		Peer:       peer,
		Request:    msg,
		ReceivedAt: time.Now(),
		reply:      reply,
	}
}

// Respond sends resp. Only the first call delivers anything; later calls
// return ErrAlreadyResponded. ErrResponseChannelClosed means the requester is
// gone.
func (r *ReceiveRequest) Respond(resp Response) error {
	if !r.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	if r.reply == nil {
		return ErrResponseChannelClosed
	}
	return r.reply(resp)
}

// Ok responds with msg.
func (r *ReceiveRequest) Ok(msg NamedMessage) error {
	return r.Respond(Response{Message: msg})
}

// Fail responds with a failure.
func (r *ReceiveRequest) Fail(code FailureCode, message string) error {
	return r.Respond(Response{Err: &Failure{Code: code, Message: message}})
}

// Responded reports whether a response has been sent.
func (r *ReceiveRequest) Responded() bool { return r.responded.Load() }
