// Package inproc is an in-process transport backend built on channels. Data
// subscribers either queue up to a high-water mark, dropping new messages
// when full, or hold only the latest message. Every endpoint action is
// recorded in an event log stamped by a logical clock.
package inproc

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/WVU-ASEL/glidar/pkg/transport"
)

// MaxEvents bounds the event log; older events are discarded.
const MaxEvents = 4096

// EventKind names a recorded endpoint action.
type EventKind string

const (
	EventBind    EventKind = "bind"
	EventConnect EventKind = "connect"
	EventRequest EventKind = "request"
	EventAck     EventKind = "ack"
	EventSend    EventKind = "send"
	EventDeliver EventKind = "deliver"
	EventDrop    EventKind = "drop"
	EventClose   EventKind = "close"
)

// Event is one entry of the log.
type Event struct {
	Clock    uint64
	Kind     EventKind
	Port     int
	Endpoint string
	Tag      byte
}

// Network is a transport.Backend whose endpoints live in this process. Host
// names are ignored; endpoints meet by port.
type Network struct {
	mu       sync.Mutex
	topics   map[int]*topic
	controls map[int]*control
	nextID   int

	logMu  sync.Mutex
	clock  uint64
	events []Event
}

var _ transport.Backend = (*Network)(nil)

// New returns an empty network.
func New() *Network {
	return &Network{
		topics:   make(map[int]*topic),
		controls: make(map[int]*control),
	}
}

func (n *Network) record(kind EventKind, port int, endpoint string, tag byte) {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	n.clock++
	if len(n.events) >= MaxEvents {
		n.events = n.events[1:]
	}
	n.events = append(n.events, Event{Clock: n.clock, Kind: kind, Port: port, Endpoint: endpoint, Tag: tag})
}

// Events returns a copy of the event log in clock order.
func (n *Network) Events() []Event {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Clock returns the current logical time.
func (n *Network) Clock() uint64 {
	n.logMu.Lock()
	defer n.logMu.Unlock()
	return n.clock
}

func (n *Network) id(prefix string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return fmt.Sprintf("%s-%d", prefix, n.nextID)
}

func (n *Network) topic(port int) *topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[port]
	if !ok {
		t = &topic{subs: make(map[string]*subscriber)}
		n.topics[port] = t
	}
	return t
}

func (n *Network) control(port int) *control {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.controls[port]
	if !ok {
		c = &control{requests: make(chan *request, 64)}
		n.controls[port] = c
	}
	return c
}

type topic struct {
	mu    sync.RWMutex
	bound bool
	subs  map[string]*subscriber
}

// Publisher binds the data endpoint on port.
func (n *Network) Publisher(port int) (transport.Publisher, error) {
	t := n.topic(port)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound {
		return nil, fmt.Errorf("%w: %d", transport.ErrAddressInUse, port)
	}
	t.bound = true
	p := &publisher{net: n, port: port, topic: t, id: n.id("pub")}
	n.record(EventBind, port, p.id, 0)
	return p, nil
}

type publisher struct {
	net    *Network
	port   int
	topic  *topic
	id     string
	mu     sync.Mutex
	closed bool
}

// Send fans msg out to every subscriber whose filter matches. It never
// blocks: full queues drop the message.
func (p *publisher) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	var tag byte
	if len(msg) > 0 {
		tag = msg[0]
	}
	p.net.record(EventSend, p.port, p.id, tag)

	p.topic.mu.RLock()
	defer p.topic.mu.RUnlock()
	for _, s := range p.topic.subs {
		if !bytes.HasPrefix(msg, s.filter) {
			continue
		}
		cp := append([]byte(nil), msg...)
		if s.offer(cp) {
			p.net.record(EventDeliver, p.port, s.id, tag)
		} else {
			p.net.record(EventDrop, p.port, s.id, tag)
		}
	}
	return nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.topic.mu.Lock()
	p.topic.bound = false
	p.topic.mu.Unlock()
	p.net.record(EventClose, p.port, p.id, 0)
	return nil
}

// Subscriber connects to the data endpoint on port. It may connect before
// the publisher binds.
func (n *Network) Subscriber(_ string, port int, opts transport.SubscriberOptions) (transport.Subscriber, error) {
	s := &subscriber{
		net:    n,
		port:   port,
		id:     n.id("sub"),
		filter: append([]byte(nil), opts.Filter...),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	if opts.HighWaterMark > 0 {
		s.queue = make(chan []byte, opts.HighWaterMark)
	}

	t := n.topic(port)
	t.mu.Lock()
	t.subs[s.id] = s
	t.mu.Unlock()
	s.topic = t

	n.record(EventConnect, port, s.id, 0)
	return s, nil
}

type subscriber struct {
	net    *Network
	port   int
	id     string
	filter []byte
	topic  *topic

	// bounded mode
	queue chan []byte

	// latest-only mode
	mu     sync.Mutex
	cond   *sync.Cond
	latest []byte
	has    bool

	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) offer(msg []byte) bool {
	if s.queue != nil {
		select {
		case s.queue <- msg:
			return true
		default:
			return false
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.latest, s.has = msg, true
	s.cond.Broadcast()
	return true
}

func (s *subscriber) Recv(block bool) ([]byte, error) {
	if s.queue != nil {
		select {
		case <-s.done:
			return nil, transport.ErrClosed
		default:
		}
		if !block {
			select {
			case m := <-s.queue:
				return m, nil
			default:
				return nil, transport.ErrWouldBlock
			}
		}
		select {
		case m := <-s.queue:
			return m, nil
		case <-s.done:
			return nil, transport.ErrClosed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for block && !s.has && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, transport.ErrClosed
	}
	if !s.has {
		return nil, transport.ErrWouldBlock
	}
	m := s.latest
	s.latest, s.has = nil, false
	return m, nil
}

func (s *subscriber) Drain() ([]byte, error) {
	if s.queue == nil {
		return s.Recv(false)
	}
	var last []byte
	for {
		m, err := s.Recv(false)
		if err == transport.ErrWouldBlock {
			if last == nil {
				return nil, err
			}
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last = m
	}
}

func (s *subscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		s.topic.mu.Lock()
		delete(s.topic.subs, s.id)
		s.topic.mu.Unlock()
		s.net.record(EventClose, s.port, s.id, 0)
	})
	return nil
}

type request struct {
	client string
	reply  chan struct{}
}

type control struct {
	mu       sync.Mutex
	bound    bool
	requests chan *request
}

// ControlServer binds the rendezvous endpoint on port.
func (n *Network) ControlServer(port int) (transport.ControlServer, error) {
	c := n.control(port)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound {
		return nil, fmt.Errorf("%w: %d", transport.ErrAddressInUse, port)
	}
	c.bound = true
	s := &controlServer{net: n, port: port, c: c, id: n.id("rep"), done: make(chan struct{})}
	n.record(EventBind, port, s.id, 0)
	return s, nil
}

type controlServer struct {
	net       *Network
	port      int
	c         *control
	id        string
	pending   *request
	done      chan struct{}
	closeOnce sync.Once
}

func (s *controlServer) RecvRequest(ctx context.Context) error {
	if s.pending != nil {
		return fmt.Errorf("%w: previous request not acknowledged", transport.ErrState)
	}
	select {
	case r := <-s.c.requests:
		s.pending = r
		s.net.record(EventRequest, s.port, r.client, 0)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return transport.ErrClosed
	}
}

func (s *controlServer) Ack() error {
	if s.pending == nil {
		return transport.ErrNoRequest
	}
	s.net.record(EventAck, s.port, s.pending.client, 0)
	s.pending.reply <- struct{}{}
	s.pending = nil
	return nil
}

func (s *controlServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.c.mu.Lock()
		s.c.bound = false
		s.c.mu.Unlock()
		s.net.record(EventClose, s.port, s.id, 0)
	})
	return nil
}

// ControlClient connects to the rendezvous endpoint on port.
func (n *Network) ControlClient(_ string, port int) (transport.ControlClient, error) {
	cl := &controlClient{net: n, port: port, c: n.control(port), id: n.id("req")}
	n.record(EventConnect, port, cl.id, 0)
	return cl, nil
}

type controlClient struct {
	net         *Network
	port        int
	c           *control
	id          string
	outstanding *request
}

func (c *controlClient) Request() error {
	if c.outstanding != nil {
		return fmt.Errorf("%w: request already outstanding", transport.ErrState)
	}
	r := &request{client: c.id, reply: make(chan struct{}, 1)}
	c.c.requests <- r
	c.outstanding = r
	return nil
}

func (c *controlClient) AwaitAck(ctx context.Context) error {
	if c.outstanding == nil {
		return transport.ErrNoRequest
	}
	select {
	case <-c.outstanding.reply:
		c.outstanding = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *controlClient) Close() error {
	c.net.record(EventClose, c.port, c.id, 0)
	return nil
}
