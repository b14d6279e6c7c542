// Package zeromq implements the transport backend over ZeroMQ: PUB/SUB for
// data and REQ/REP for the subscriber rendezvous.
package zeromq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/transport"
)

// Common errors
var (
	ErrBackendClosed = errors.New("zeromq backend is closed")
)

// Options tune socket behaviour.
type Options struct {
	// Linger bounds how long queued messages (the shutdown sentinels in
	// particular) are kept after a socket closes.
	Linger time.Duration
	// SendHighWaterMark bounds the publisher queue per subscriber; zero
	// keeps the library default.
	SendHighWaterMark int
	// Conflate makes publishers keep only their newest outgoing message.
	Conflate bool
	// PollInterval is how often blocking control waits re-check their
	// context.
	PollInterval time.Duration
}

// DefaultOptions returns the stock socket options.
func DefaultOptions() Options {
	return Options{Linger: 500 * time.Millisecond, PollInterval: 100 * time.Millisecond}
}

// Backend creates ZeroMQ endpoints from one context.
type Backend struct {
	ctx    *zmq4.Context
	opts   Options
	logger customlog.Logger

	mu     sync.Mutex
	closed bool
}

var _ transport.Backend = (*Backend)(nil)

// NewBackend creates a ZeroMQ context.
func NewBackend(opts Options, logger customlog.Logger) (*Backend, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	return &Backend{ctx: ctx, opts: opts, logger: logger}, nil
}

// Close terminates the context. Every socket must already be closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.ctx.Term()
}

func (b *Backend) newSocket(t zmq4.Type) (*zmq4.Socket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	socket, err := b.ctx.NewSocket(t)
	if err != nil {
		return nil, fmt.Errorf("failed to create %v socket: %w", t, err)
	}
	if err := socket.SetLinger(b.opts.Linger); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	return socket, nil
}

func bindAddress(port int) string {
	return fmt.Sprintf("tcp://*:%d", port)
}

func connectAddress(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

func wouldBlock(err error) bool {
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

// Publisher binds a PUB socket on port.
func (b *Backend) Publisher(port int) (transport.Publisher, error) {
	socket, err := b.newSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := b.configurePublisher(socket); err != nil {
		socket.Close()
		return nil, err
	}
	addr := bindAddress(port)
	if err := socket.Bind(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", addr, err)
	}
	b.logger.Infof("Publisher bound on %s (conflate %t)", addr, b.opts.Conflate)
	return &publisher{socket: socket, conflate: b.opts.Conflate}, nil
}

// configurePublisher applies the flow-control options. Both must be set
// before the socket binds.
func (b *Backend) configurePublisher(socket *zmq4.Socket) error {
	if b.opts.SendHighWaterMark > 0 {
		if err := socket.SetSndhwm(b.opts.SendHighWaterMark); err != nil {
			return fmt.Errorf("failed to set send high-water mark: %w", err)
		}
	}
	if b.opts.Conflate {
		if err := socket.SetConflate(true); err != nil {
			return fmt.Errorf("failed to set conflate option: %w", err)
		}
	}
	return nil
}

type publisher struct {
	mu       sync.Mutex
	socket   *zmq4.Socket
	conflate bool
}

func (p *publisher) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return transport.ErrClosed
	}
	if _, err := p.socket.SendBytes(msg, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}

// ControlServer binds a REP socket on port.
func (b *Backend) ControlServer(port int) (transport.ControlServer, error) {
	socket, err := b.newSocket(zmq4.REP)
	if err != nil {
		return nil, err
	}
	addr := bindAddress(port)
	if err := socket.Bind(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", addr, err)
	}

	// Create poller so waits can observe cancellation
	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	b.logger.Infof("Control server bound on %s", addr)
	return &controlServer{socket: socket, poller: poller, interval: b.opts.PollInterval}, nil
}

type controlServer struct {
	socket   *zmq4.Socket
	poller   *zmq4.Poller
	interval time.Duration
	pending  bool
}

func (s *controlServer) RecvRequest(ctx context.Context) error {
	if s.socket == nil {
		return transport.ErrClosed
	}
	if s.pending {
		return fmt.Errorf("%w: previous request not acknowledged", transport.ErrState)
	}
	if err := waitReadable(ctx, s.poller, s.interval); err != nil {
		return err
	}
	if _, err := s.socket.RecvBytes(0); err != nil {
		return fmt.Errorf("failed to receive request: %w", err)
	}
	s.pending = true
	return nil
}

func (s *controlServer) Ack() error {
	if s.socket == nil {
		return transport.ErrClosed
	}
	if !s.pending {
		return transport.ErrNoRequest
	}
	if _, err := s.socket.SendBytes(nil, 0); err != nil {
		return fmt.Errorf("failed to send ack: %w", err)
	}
	s.pending = false
	return nil
}

func (s *controlServer) Close() error {
	if s.socket == nil {
		return nil
	}
	err := s.socket.Close()
	s.socket = nil
	return err
}

// waitReadable polls until the socket has input or ctx is done.
func waitReadable(ctx context.Context, poller *zmq4.Poller, interval time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sockets, err := poller.Poll(interval)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EINTR) {
				continue
			}
			return fmt.Errorf("error polling socket: %w", err)
		}
		if len(sockets) > 0 {
			return nil
		}
	}
}

// Subscriber connects a SUB socket to host:port. A zero high-water mark
// enables conflate so only the newest message is kept.
func (b *Backend) Subscriber(host string, port int, opts transport.SubscriberOptions) (transport.Subscriber, error) {
	socket, err := b.newSocket(zmq4.SUB)
	if err != nil {
		return nil, err
	}
	if opts.HighWaterMark == 0 {
		err = socket.SetConflate(true)
	} else {
		err = socket.SetRcvhwm(opts.HighWaterMark)
	}
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set receive queue option: %w", err)
	}
	if err := socket.SetSubscribe(string(opts.Filter)); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set subscription: %w", err)
	}
	addr := connectAddress(host, port)
	if err := socket.Connect(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	b.logger.Debugf("Subscriber connected to %s (filter %q, hwm %d)", addr, opts.Filter, opts.HighWaterMark)
	return &subscriber{socket: socket}, nil
}

type subscriber struct {
	socket *zmq4.Socket
}

func (s *subscriber) Recv(block bool) ([]byte, error) {
	if s.socket == nil {
		return nil, transport.ErrClosed
	}
	var flags zmq4.Flag
	if !block {
		flags = zmq4.DONTWAIT
	}
	msg, err := s.socket.RecvBytes(flags)
	if err != nil {
		if wouldBlock(err) {
			return nil, transport.ErrWouldBlock
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	return msg, nil
}

func (s *subscriber) Drain() ([]byte, error) {
	if s.socket == nil {
		return nil, transport.ErrClosed
	}
	var last []byte
	for {
		events, err := s.socket.GetEvents()
		if err != nil {
			return nil, fmt.Errorf("failed to read socket events: %w", err)
		}
		if events&zmq4.POLLIN == 0 {
			break
		}
		msg, err := s.socket.RecvBytes(zmq4.DONTWAIT)
		if err != nil {
			if wouldBlock(err) {
				break
			}
			return nil, fmt.Errorf("failed to receive message: %w", err)
		}
		last = msg
	}
	if last == nil {
		return nil, transport.ErrWouldBlock
	}
	return last, nil
}

func (s *subscriber) Close() error {
	if s.socket == nil {
		return nil
	}
	err := s.socket.Close()
	s.socket = nil
	return err
}

// ControlClient connects a REQ socket to host:port.
func (b *Backend) ControlClient(host string, port int) (transport.ControlClient, error) {
	socket, err := b.newSocket(zmq4.REQ)
	if err != nil {
		return nil, err
	}
	addr := connectAddress(host, port)
	if err := socket.Connect(addr); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)
	return &controlClient{socket: socket, poller: poller, interval: b.opts.PollInterval}, nil
}

type controlClient struct {
	socket      *zmq4.Socket
	poller      *zmq4.Poller
	interval    time.Duration
	outstanding bool
}

func (c *controlClient) Request() error {
	if c.socket == nil {
		return transport.ErrClosed
	}
	if c.outstanding {
		return fmt.Errorf("%w: request already outstanding", transport.ErrState)
	}
	if _, err := c.socket.SendBytes(nil, 0); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	c.outstanding = true
	return nil
}

func (c *controlClient) AwaitAck(ctx context.Context) error {
	if c.socket == nil {
		return transport.ErrClosed
	}
	if !c.outstanding {
		return transport.ErrNoRequest
	}
	if err := waitReadable(ctx, c.poller, c.interval); err != nil {
		return err
	}
	if _, err := c.socket.RecvBytes(0); err != nil {
		return fmt.Errorf("failed to receive ack: %w", err)
	}
	c.outstanding = false
	return nil
}

func (c *controlClient) Close() error {
	if c.socket == nil {
		return nil
	}
	err := c.socket.Close()
	c.socket = nil
	return err
}
