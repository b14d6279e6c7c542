// Package wire encodes and decodes the tagged little-endian messages carried
// on the data channel: poses, pose batches, point clouds and pose components.
package wire

import (
	"errors"
	"fmt"
	"math"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Message tags.
const (
	TagPose           byte = 'p'
	TagPoseBatch      byte = 'P'
	TagCloud          byte = 'c'
	TagPoseComponents byte = 'v'
)

const (
	// HeaderSize is the tag plus the timestamp.
	HeaderSize = flatbuffers.SizeByte + flatbuffers.SizeUint64

	// PoseSize is the length of a 'p' message.
	PoseSize = HeaderSize + 16*flatbuffers.SizeFloat32
	// PoseEntrySize is one matrix, a converged flag and a score.
	PoseEntrySize = 16*flatbuffers.SizeFloat32 + flatbuffers.SizeBool + flatbuffers.SizeFloat32
	// PoseBatchHeaderSize is the header plus the one-byte count.
	PoseBatchHeaderSize = HeaderSize + flatbuffers.SizeUint8
	// MaxPoseBatch is the largest count that fits the count byte.
	MaxPoseBatch = math.MaxUint8
	// PointSize is one x,y,z,intensity quadruple.
	PointSize = 4 * flatbuffers.SizeFloat32
	// PoseComponentsSize is the length of a 'v' message.
	PoseComponentsSize = HeaderSize + 11*flatbuffers.SizeFloat64

	sentinelBody = "KTHXBAI"
	// SentinelSize is the length of a shutdown sentinel.
	SentinelSize = 1 + len(sentinelBody)
)

var (
	// ErrShortMessage is returned when a buffer is too small for its header.
	ErrShortMessage = errors.New("wire: message too short")
	// ErrUnexpectedTag is returned when the tag does not match the decoder.
	ErrUnexpectedTag = errors.New("wire: unexpected message tag")
	// ErrLength is returned when the length disagrees with the layout.
	ErrLength = errors.New("wire: length does not match layout")
	// ErrBatchSize is returned when encoding an empty or oversized batch.
	ErrBatchSize = errors.New("wire: pose batch count out of range")
)

// Sentinel returns the shutdown message for a tag, e.g. "cKTHXBAI".
func Sentinel(tag byte) []byte {
	b := make([]byte, SentinelSize)
	b[0] = tag
	copy(b[1:], sentinelBody)
	return b
}

// IsShutdown reports whether msg is a shutdown sentinel. It is checked
// before any decoder runs.
func IsShutdown(msg []byte) bool {
	return len(msg) == SentinelSize && string(msg[1:]) == sentinelBody
}

// Tag returns the first byte of msg.
func Tag(msg []byte) (byte, error) {
	if len(msg) == 0 {
		return 0, ErrShortMessage
	}
	return msg[0], nil
}

func checkHeader(msg []byte, tag byte) error {
	if len(msg) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}
	if msg[0] != tag {
		return fmt.Errorf("%w: got %q want %q", ErrUnexpectedTag, msg[0], tag)
	}
	return nil
}

func putHeader(buf []byte, tag byte, ts uint64) {
	flatbuffers.WriteByte(buf, tag)
	flatbuffers.WriteUint64(buf[flatbuffers.SizeByte:], ts)
}

func timestamp(msg []byte) uint64 {
	return flatbuffers.GetUint64(msg[flatbuffers.SizeByte:])
}

func putMatrix(buf []byte, m *[16]float32) {
	for i, v := range m {
		flatbuffers.WriteFloat32(buf[i*flatbuffers.SizeFloat32:], v)
	}
}

func getMatrix(buf []byte, m *[16]float32) {
	for i := range m {
		m[i] = flatbuffers.GetFloat32(buf[i*flatbuffers.SizeFloat32:])
	}
}
