package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// State is the publish session lifecycle.
type State int

const (
	StateUnsynchronized State = iota
	StateBound
	StateReady
	StateStreaming
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUnsynchronized:
		return "unsynchronized"
	case StateBound:
		return "bound"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// ShutdownTags are the tags a publish session broadcasts sentinels for.
var ShutdownTags = []byte{wire.TagPose, wire.TagPoseBatch, wire.TagCloud}

// PublishSession binds the data and control endpoints, waits for the
// expected subscribers, then streams.
type PublishSession struct {
	backend     Backend
	port        int
	subscribers int
	logger      customlog.Logger

	mu    sync.Mutex
	state State
	pub   Publisher
	ctrl  ControlServer
	sent  uint64
}

// NewPublishSession prepares a session for the given number of subscribers.
func NewPublishSession(backend Backend, port, subscribers int, logger customlog.Logger) *PublishSession {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &PublishSession{
		backend:     backend,
		port:        port,
		subscribers: subscribers,
		logger:      logger.WithField("port", port),
	}
}

// State returns the current lifecycle state.
func (s *PublishSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sent returns the number of messages published.
func (s *PublishSession) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Bind opens the data endpoint on port and the control endpoint on port+1.
func (s *PublishSession) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnsynchronized {
		return fmt.Errorf("%w: bind in %s", ErrState, s.state)
	}

	pub, err := s.backend.Publisher(s.port)
	if err != nil {
		return fmt.Errorf("failed to bind data endpoint on %d: %w", s.port, err)
	}
	ctrl, err := s.backend.ControlServer(s.port + 1)
	if err != nil {
		pub.Close()
		return fmt.Errorf("failed to bind control endpoint on %d: %w", s.port+1, err)
	}

	s.pub, s.ctrl = pub, ctrl
	s.state = StateBound
	s.logger.Infof("Publisher bound on %d (control %d), expecting %d subscribers", s.port, s.port+1, s.subscribers)
	return nil
}

// AwaitSubscribers receives one empty request per expected subscriber and
// acknowledges each in turn.
func (s *PublishSession) AwaitSubscribers(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateBound {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: await in %s", ErrState, st)
	}
	ctrl := s.ctrl
	s.mu.Unlock()

	for i := 0; i < s.subscribers; i++ {
		if err := ctrl.RecvRequest(ctx); err != nil {
			return fmt.Errorf("waiting for subscriber %d of %d: %w", i+1, s.subscribers, err)
		}
		if err := ctrl.Ack(); err != nil {
			return fmt.Errorf("acknowledging subscriber %d of %d: %w", i+1, s.subscribers, err)
		}
		s.logger.Infof("Subscriber %d of %d synchronized", i+1, s.subscribers)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateBound {
		s.state = StateReady
	}
	return nil
}

// Publish sends msg. It is only valid once all subscribers are synchronized.
func (s *PublishSession) Publish(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady && s.state != StateStreaming {
		return fmt.Errorf("%w: publish in %s", ErrState, s.state)
	}
	if err := s.pub.Send(msg); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	s.state = StateStreaming
	s.sent++
	return nil
}

// Shutdown broadcasts a sentinel for every data tag and closes both
// endpoints. It is idempotent.
func (s *PublishSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return nil
	}
	var errs []error
	if s.pub != nil {
		for _, tag := range ShutdownTags {
			if err := s.pub.Send(wire.Sentinel(tag)); err != nil {
				errs = append(errs, fmt.Errorf("sentinel %q: %w", tag, err))
			}
		}
		if err := s.pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ctrl != nil {
		if err := s.ctrl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.state = StateShutdown
	s.logger.Infof("Publisher shut down after %d messages", s.sent)
	return errors.Join(errs...)
}

// SubscribeSession connects to a publish session.
type SubscribeSession struct {
	backend Backend
	host    string
	port    int
	logger  customlog.Logger

	sub  Subscriber
	ctrl ControlClient
}

// NewSubscribeSession targets a publisher at host:port.
func NewSubscribeSession(backend Backend, host string, port int, logger customlog.Logger) *SubscribeSession {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &SubscribeSession{
		backend: backend,
		host:    host,
		port:    port,
		logger:  logger.WithFields(map[string]interface{}{"host": host, "port": port}),
	}
}

// Connect subscribes to messages with the given tag. A high-water mark of
// zero keeps only the latest message.
func (s *SubscribeSession) Connect(tag byte, hwm int) error {
	sub, err := s.backend.Subscriber(s.host, s.port, SubscriberOptions{Filter: []byte{tag}, HighWaterMark: hwm})
	if err != nil {
		return fmt.Errorf("failed to connect subscriber to %s:%d: %w", s.host, s.port, err)
	}
	s.sub = sub
	return nil
}

// Sync sends an empty request on the control endpoint and blocks for the ack.
func (s *SubscribeSession) Sync(ctx context.Context) error {
	if s.ctrl == nil {
		ctrl, err := s.backend.ControlClient(s.host, s.port+1)
		if err != nil {
			return fmt.Errorf("failed to connect control client to %s:%d: %w", s.host, s.port+1, err)
		}
		s.ctrl = ctrl
	}
	if err := s.ctrl.Request(); err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	if err := s.ctrl.AwaitAck(ctx); err != nil {
		return fmt.Errorf("sync ack: %w", err)
	}
	s.logger.Debugf("Synchronized with publisher")
	return nil
}

// Receive returns the next message.
func (s *SubscribeSession) Receive(block bool) ([]byte, RecvResult) {
	if s.sub == nil {
		return nil, Failure
	}
	msg, err := s.sub.Recv(block)
	return s.classify(msg, err)
}

// ReceiveLatest drains queued messages and returns the newest.
func (s *SubscribeSession) ReceiveLatest() ([]byte, RecvResult) {
	if s.sub == nil {
		return nil, Failure
	}
	msg, err := s.sub.Drain()
	return s.classify(msg, err)
}

func (s *SubscribeSession) classify(msg []byte, err error) ([]byte, RecvResult) {
	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil, NoUpdate
	case err != nil:
		s.logger.Errorf("Receive failed: %v", err)
		return nil, Failure
	case wire.IsShutdown(msg):
		return msg, Shutdown
	}
	return msg, Success
}

// Close releases both endpoints.
func (s *SubscribeSession) Close() error {
	var errs []error
	if s.sub != nil {
		errs = append(errs, s.sub.Close())
	}
	if s.ctrl != nil {
		errs = append(errs, s.ctrl.Close())
	}
	return errors.Join(errs...)
}
