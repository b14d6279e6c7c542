package transport

import (
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// receiveTyped receives one message and decodes it. A decode failure is a
// protocol desync: the message is logged, dropped and reported as Desync so
// callers can keep the session open.
func receiveTyped[T any](s *SubscribeSession, block bool, decode func([]byte) (T, error)) (T, RecvResult) {
	var zero T
	msg, res := s.Receive(block)
	if res != Success {
		return zero, res
	}
	v, err := decode(msg)
	if err != nil {
		s.logger.Warnf("Dropping malformed message (%d bytes): %v", len(msg), err)
		return zero, Desync
	}
	return v, Success
}

// ReceivePose receives a 'p' message.
func ReceivePose(s *SubscribeSession, block bool) (wire.Pose, RecvResult) {
	return receiveTyped(s, block, wire.DecodePose)
}

// ReceivePoseBatch receives a 'P' message.
func ReceivePoseBatch(s *SubscribeSession, block bool) (wire.PoseBatch, RecvResult) {
	return receiveTyped(s, block, wire.DecodePoseBatch)
}

// ReceiveCloud receives a 'c' message.
func ReceiveCloud(s *SubscribeSession, block bool) (wire.Cloud, RecvResult) {
	return receiveTyped(s, block, wire.DecodeCloud)
}

// ReceivePoseComponents receives a 'v' message.
func ReceivePoseComponents(s *SubscribeSession, block bool) (wire.PoseComponents, RecvResult) {
	return receiveTyped(s, block, wire.DecodePoseComponents)
}

// LatestPoseComponents drains the queue and decodes the newest 'v' message.
func LatestPoseComponents(s *SubscribeSession) (wire.PoseComponents, RecvResult) {
	msg, res := s.ReceiveLatest()
	if res != Success {
		return wire.PoseComponents{}, res
	}
	v, err := wire.DecodePoseComponents(msg)
	if err != nil {
		s.logger.Warnf("Dropping malformed pose components (%d bytes): %v", len(msg), err)
		return wire.PoseComponents{}, Desync
	}
	return v, Success
}
