package wire

import (
	"fmt"
	"math"

	flatbuffers "github.com/google/flatbuffers/go"
)

// Pose is a single 4×4 row-major transform.
type Pose struct {
	Timestamp uint64
	Matrix    [16]float32
}

// Encode returns the 73-byte 'p' message.
func (p *Pose) Encode() []byte {
	buf := make([]byte, PoseSize)
	putHeader(buf, TagPose, p.Timestamp)
	putMatrix(buf[HeaderSize:], &p.Matrix)
	return buf
}

// DecodePose parses a 'p' message.
func DecodePose(msg []byte) (Pose, error) {
	var p Pose
	if err := checkHeader(msg, TagPose); err != nil {
		return p, err
	}
	if len(msg) != PoseSize {
		return p, fmt.Errorf("%w: pose is %d bytes, want %d", ErrLength, len(msg), PoseSize)
	}
	p.Timestamp = timestamp(msg)
	getMatrix(msg[HeaderSize:], &p.Matrix)
	return p, nil
}

// PoseEntry is one candidate in a batch.
type PoseEntry struct {
	Matrix    [16]float32
	Converged bool
	Score     float32
}

// NewPoseEntry returns an entry with the default score of +Inf.
func NewPoseEntry(m [16]float32) PoseEntry {
	return PoseEntry{Matrix: m, Score: float32(math.Inf(1))}
}

// PoseBatch carries between 1 and 255 pose candidates.
type PoseBatch struct {
	Timestamp uint64
	Entries   []PoseEntry
}

// Encode returns the 'P' message.
func (b *PoseBatch) Encode() ([]byte, error) {
	n := len(b.Entries)
	if n < 1 || n > MaxPoseBatch {
		return nil, fmt.Errorf("%w: %d", ErrBatchSize, n)
	}
	buf := make([]byte, PoseBatchHeaderSize+n*PoseEntrySize)
	putHeader(buf, TagPoseBatch, b.Timestamp)
	flatbuffers.WriteUint8(buf[HeaderSize:], uint8(n))

	off := PoseBatchHeaderSize
	for i := range b.Entries {
		e := &b.Entries[i]
		putMatrix(buf[off:], &e.Matrix)
		off += 16 * flatbuffers.SizeFloat32
		flatbuffers.WriteBool(buf[off:], e.Converged)
		off += flatbuffers.SizeBool
		flatbuffers.WriteFloat32(buf[off:], e.Score)
		off += flatbuffers.SizeFloat32
	}
	return buf, nil
}

// DecodePoseBatch parses a 'P' message.
func DecodePoseBatch(msg []byte) (PoseBatch, error) {
	var b PoseBatch
	if err := checkHeader(msg, TagPoseBatch); err != nil {
		return b, err
	}
	if len(msg) < PoseBatchHeaderSize {
		return b, fmt.Errorf("%w: pose batch without count", ErrShortMessage)
	}
	n := int(flatbuffers.GetUint8(msg[HeaderSize:]))
	if want := PoseBatchHeaderSize + n*PoseEntrySize; len(msg) != want {
		return b, fmt.Errorf("%w: pose batch of %d is %d bytes, want %d", ErrLength, n, len(msg), want)
	}

	b.Timestamp = timestamp(msg)
	b.Entries = make([]PoseEntry, n)
	off := PoseBatchHeaderSize
	for i := range b.Entries {
		e := &b.Entries[i]
		getMatrix(msg[off:], &e.Matrix)
		off += 16 * flatbuffers.SizeFloat32
		e.Converged = flatbuffers.GetBool(msg[off:])
		off += flatbuffers.SizeBool
		e.Score = flatbuffers.GetFloat32(msg[off:])
		off += flatbuffers.SizeFloat32
	}
	return b, nil
}

// Cloud is a flat list of x,y,z,intensity quadruples.
type Cloud struct {
	Timestamp uint64
	Data      []float32
}

// Points returns the number of quadruples.
func (c *Cloud) Points() int {
	return len(c.Data) / 4
}

// Encode returns the 'c' message. A trailing partial quadruple is dropped.
func (c *Cloud) Encode() []byte {
	n := c.Points()
	buf := make([]byte, HeaderSize+n*PointSize)
	putHeader(buf, TagCloud, c.Timestamp)
	off := HeaderSize
	for _, v := range c.Data[:n*4] {
		flatbuffers.WriteFloat32(buf[off:], v)
		off += flatbuffers.SizeFloat32
	}
	return buf
}

// DecodeCloud parses a 'c' message. A header-only message is an empty cloud.
func DecodeCloud(msg []byte) (Cloud, error) {
	var c Cloud
	if err := checkHeader(msg, TagCloud); err != nil {
		return c, err
	}
	body := len(msg) - HeaderSize
	if body%PointSize != 0 {
		return c, fmt.Errorf("%w: cloud body of %d bytes is not a multiple of %d", ErrLength, body, PointSize)
	}
	c.Timestamp = timestamp(msg)
	c.Data = make([]float32, body/flatbuffers.SizeFloat32)
	for i := range c.Data {
		c.Data[i] = flatbuffers.GetFloat32(msg[HeaderSize+i*flatbuffers.SizeFloat32:])
	}
	return c, nil
}

// PoseComponents is an object attitude, translation and sensor attitude as
// sent by a physics source. Quaternions are scalar first.
type PoseComponents struct {
	Timestamp   uint64
	Object      [4]float64
	Translation [3]float64
	Sensor      [4]float64
}

func (v *PoseComponents) values() [11]float64 {
	var out [11]float64
	copy(out[0:4], v.Object[:])
	copy(out[4:7], v.Translation[:])
	copy(out[7:11], v.Sensor[:])
	return out
}

// Encode returns the 97-byte 'v' message.
func (v *PoseComponents) Encode() []byte {
	buf := make([]byte, PoseComponentsSize)
	putHeader(buf, TagPoseComponents, v.Timestamp)
	for i, f := range v.values() {
		flatbuffers.WriteFloat64(buf[HeaderSize+i*flatbuffers.SizeFloat64:], f)
	}
	return buf
}

// DecodePoseComponents parses a 'v' message.
func DecodePoseComponents(msg []byte) (PoseComponents, error) {
	var v PoseComponents
	if err := checkHeader(msg, TagPoseComponents); err != nil {
		return v, err
	}
	if len(msg) != PoseComponentsSize {
		return v, fmt.Errorf("%w: pose components are %d bytes, want %d", ErrLength, len(msg), PoseComponentsSize)
	}
	v.Timestamp = timestamp(msg)
	var f [11]float64
	for i := range f {
		f[i] = flatbuffers.GetFloat64(msg[HeaderSize+i*flatbuffers.SizeFloat64:])
	}
	copy(v.Object[:], f[0:4])
	copy(v.Translation[:], f[4:7])
	copy(v.Sensor[:], f[7:11])
	return v, nil
}
