package wire

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand) [16]float32 {
	var m [16]float32
	for i := range m {
		m[i] = rng.Float32()*200 - 100
	}
	return m
}

func TestSentinelBoundary(t *testing.T) {
	for _, tag := range []byte{TagPose, TagPoseBatch, TagCloud, TagPoseComponents} {
		s := Sentinel(tag)
		assert.Len(t, s, 8)
		assert.True(t, IsShutdown(s), "%q", s)
	}
	assert.True(t, IsShutdown([]byte("cKTHXBAI")))

	// 9-byte empty cloud whose timestamp bytes happen to spell the sentinel
	cloud := append([]byte("cKTHXBAI"), 0)
	assert.False(t, IsShutdown(cloud))
	c, err := DecodeCloud(cloud)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Points())

	assert.False(t, IsShutdown([]byte("cKTHXBA")))
	assert.False(t, IsShutdown([]byte("cKTHXBAJ")))
	assert.False(t, IsShutdown(nil))
}

func TestPoseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := Pose{Timestamp: 0x0102030405060708, Matrix: randomMatrix(rng)}
	buf := p.Encode()
	require.Len(t, buf, 73)
	assert.Equal(t, TagPose, buf[0])
	// little-endian timestamp
	assert.Equal(t, byte(0x08), buf[1])
	assert.Equal(t, byte(0x01), buf[8])

	got, err := DecodePose(buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPoseBatchRoundTripAllCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for k := 1; k <= MaxPoseBatch; k++ {
		b := PoseBatch{Timestamp: uint64(k) * 1000}
		for i := 0; i < k; i++ {
			e := NewPoseEntry(randomMatrix(rng))
			if i%3 == 0 {
				e.Converged = true
				e.Score = rng.Float32()
			}
			b.Entries = append(b.Entries, e)
		}
		buf, err := b.Encode()
		require.NoError(t, err)
		require.Len(t, buf, 10+69*k)

		got, err := DecodePoseBatch(buf)
		require.NoError(t, err)
		if diff := cmp.Diff(b, got); diff != "" {
			t.Fatalf("k=%d mismatch (-want +got):\n%s", k, diff)
		}
	}
}

func TestPoseBatchLimits(t *testing.T) {
	_, err := (&PoseBatch{}).Encode()
	assert.ErrorIs(t, err, ErrBatchSize)

	_, err = (&PoseBatch{Entries: make([]PoseEntry, 256)}).Encode()
	assert.ErrorIs(t, err, ErrBatchSize)

	assert.True(t, math.IsInf(float64(NewPoseEntry([16]float32{}).Score), 1))
	assert.False(t, NewPoseEntry([16]float32{}).Converged)
}

func TestCloudRoundTrip(t *testing.T) {
	c := Cloud{Timestamp: 42, Data: []float32{1, 2, 3, 0.5, -1, -2, -3, 1}}
	buf := c.Encode()
	require.Len(t, buf, 9+32)

	got, err := DecodeCloud(buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Equal(t, 2, got.Points())

	// partial quadruple dropped
	short := Cloud{Data: []float32{1, 2, 3, 4, 5}}
	assert.Len(t, short.Encode(), 9+16)
}

func TestPoseComponentsRoundTrip(t *testing.T) {
	v := PoseComponents{
		Timestamp:   9,
		Object:      [4]float64{1, 0, 0, 0},
		Translation: [3]float64{0.5, -2, 30},
		Sensor:      [4]float64{0.7071067811865476, 0, 0.7071067811865476, 0},
	}
	buf := v.Encode()
	require.Len(t, buf, 97)
	got, err := DecodePoseComponents(buf)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestDecodeErrors(t *testing.T) {
	pose := (&Pose{}).Encode()
	batch, err := (&PoseBatch{Entries: []PoseEntry{NewPoseEntry([16]float32{})}}).Encode()
	require.NoError(t, err)
	comps := (&PoseComponents{}).Encode()

	tests := []struct {
		name string
		fn   func([]byte) error
		msg  []byte
		want error
	}{
		{"empty pose", decodeErr(DecodePose), nil, ErrShortMessage},
		{"short header", decodeErr(DecodePose), []byte{'p', 1, 2}, ErrShortMessage},
		{"pose tag on cloud", decodeErr(DecodeCloud), pose, ErrUnexpectedTag},
		{"truncated pose", decodeErr(DecodePose), pose[:72], ErrLength},
		{"padded pose", decodeErr(DecodePose), append(pose, 0), ErrLength},
		{"batch without count", decodeErr(DecodePoseBatch), batch[:9], ErrShortMessage},
		{"batch count mismatch", decodeErr(DecodePoseBatch), batch[:len(batch)-1], ErrLength},
		{"cloud misaligned", decodeErr(DecodeCloud), append((&Cloud{}).Encode(), 1, 2, 3), ErrLength},
		{"components truncated", decodeErr(DecodePoseComponents), comps[:96], ErrLength},
		{"components tag", decodeErr(DecodePoseComponents), pose, ErrUnexpectedTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(tt.msg), tt.want)
		})
	}
}

func decodeErr[T any](fn func([]byte) (T, error)) func([]byte) error {
	return func(b []byte) error {
		_, err := fn(b)
		return err
	}
}

func TestRowMajor(t *testing.T) {
	m := mgl64.Translate3D(1, 2, 3)
	v := RowMajor(m)
	assert.Equal(t, float32(1), v[3])
	assert.Equal(t, float32(2), v[7])
	assert.Equal(t, float32(3), v[11])
	assert.Equal(t, m, FromRowMajor(v))
}
