// Package transport defines the data and control endpoints used to stream
// frames to subscribers, and the sessions that sequence their handshake.
//
// A publisher owns two endpoints: a data publisher bound on port and a
// control server bound on port+1. Each subscriber connects a data subscriber
// and, unless it skips the rendezvous, a control client. No frame is sent
// before every expected subscriber has been acknowledged.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrWouldBlock is returned by non-blocking receives with nothing queued.
	ErrWouldBlock = errors.New("transport: no message available")
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("transport: endpoint closed")
	// ErrState is returned when a session operation is invalid in its state.
	ErrState = errors.New("transport: invalid session state")
	// ErrAddressInUse is returned when binding an occupied port.
	ErrAddressInUse = errors.New("transport: address in use")
	// ErrNoRequest is returned by Ack without a pending request.
	ErrNoRequest = errors.New("transport: ack without pending request")
)

// Publisher is the bound data endpoint.
type Publisher interface {
	Send(msg []byte) error
	Close() error
}

// ControlServer is the bound rendezvous endpoint.
type ControlServer interface {
	// RecvRequest blocks until a subscriber sends its empty request.
	RecvRequest(ctx context.Context) error
	// Ack answers the pending request.
	Ack() error
	Close() error
}

// Subscriber is the connected data endpoint.
type Subscriber interface {
	// Recv returns the next message. Non-blocking calls return ErrWouldBlock
	// when nothing is queued.
	Recv(block bool) ([]byte, error)
	// Drain discards everything queued except the newest message, which it
	// returns. It returns ErrWouldBlock when nothing is queued.
	Drain() ([]byte, error)
	Close() error
}

// ControlClient is the connected rendezvous endpoint.
type ControlClient interface {
	Request() error
	AwaitAck(ctx context.Context) error
	Close() error
}

// SubscriberOptions configure a data subscriber.
type SubscriberOptions struct {
	// Filter is the message prefix to accept; empty accepts everything.
	Filter []byte
	// HighWaterMark bounds the receive queue. Zero keeps only the latest
	// message (conflate).
	HighWaterMark int
}

// Backend creates endpoints. Publishers and control servers bind; the rest
// connect to host.
type Backend interface {
	Publisher(port int) (Publisher, error)
	ControlServer(port int) (ControlServer, error)
	Subscriber(host string, port int, opts SubscriberOptions) (Subscriber, error)
	ControlClient(host string, port int) (ControlClient, error)
}

// RecvResult classifies a receive. Failure means the transport itself
// failed; Desync means a message arrived but did not decode and was dropped.
type RecvResult int

const (
	Success RecvResult = iota
	NoUpdate
	Shutdown
	Failure
	Desync
)

func (r RecvResult) String() string {
	switch r {
	case Success:
		return "success"
	case NoUpdate:
		return "no-update"
	case Shutdown:
		return "shutdown"
	case Failure:
		return "failure"
	case Desync:
		return "desync"
	}
	return "unknown"
}
