package rundb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WVU-ASEL/glidar/pkg/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	run := NewRunID()

	f := &Frame{
		RunID:     run,
		Timestamp: 42,
		Kind:      KindSaved,
		Pose: wire.PoseComponents{
			Object:      [4]float64{1, 0, 0, 0},
			Translation: [3]float64{0, 0, 10},
			Sensor:      [4]float64{0.5, 0.5, 0.5, 0.5},
		},
		Near:    9.5,
		Far:     10.6,
		Points:  1234,
		PCDPath: "/tmp/buffer.pcd",
	}
	require.NoError(t, s.Insert(f))
	assert.NotEmpty(t, f.FrameID)
	assert.NotZero(t, f.CreatedAt)

	got, err := s.Get(f.FrameID)
	require.NoError(t, err)
	assert.Equal(t, run, got.RunID)
	assert.Equal(t, uint64(42), got.Timestamp)
	assert.Equal(t, f.Pose.Object, got.Pose.Object)
	assert.Equal(t, f.Pose.Translation, got.Pose.Translation)
	assert.Equal(t, f.Pose.Sensor, got.Pose.Sensor)
	assert.Equal(t, uint64(42), got.Pose.Timestamp)
	assert.Equal(t, 1234, got.Points)
	assert.Equal(t, "/tmp/buffer.pcd", got.PCDPath)
	assert.InDelta(t, 10.6, got.Far, 1e-12)
}

func TestGetUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByRunOrdersByTimestamp(t *testing.T) {
	s := openTestStore(t)
	run, other := NewRunID(), NewRunID()

	for _, ts := range []uint64{3, 1, 2} {
		require.NoError(t, s.Insert(&Frame{RunID: run, Timestamp: ts, Kind: KindPublished}))
	}
	require.NoError(t, s.Insert(&Frame{RunID: other, Timestamp: 1, Kind: KindPublished}))

	frames, err := s.ListByRun(run)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Timestamp)
		assert.Empty(t, f.PCDPath)
	}

	n, err := s.Count(other)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := s.Runs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{run, other}, runs)
}

func TestInsertRequiresRun(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Insert(&Frame{Timestamp: 1}))
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("recovers", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		assert.Same(t, other, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, maxBusyAttempts, calls)
	})
}
