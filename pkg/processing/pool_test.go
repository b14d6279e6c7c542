package processing

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/rundb"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

func TestPoolProcessesQueuedJobsBeforeStopping(t *testing.T) {
	pool := NewProcessingPool("test", 2, 8, nil)

	var mu sync.Mutex
	var seen []uint64
	pool.SetProcessor(func(job *Job) (*ProcessResult, error) {
		if job.Timestamp == 3 {
			return nil, errors.New("disk full")
		}
		return &ProcessResult{Kind: job.Kind, Timestamp: job.Timestamp}, nil
	})
	var failed int
	pool.SetResultHandler(func(r *ProcessResult) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Timestamp)
		if r.Error != nil {
			failed++
		}
	})

	assert.False(t, pool.Submit(&Job{Timestamp: 0}), "not started")

	pool.Start()
	for ts := uint64(1); ts <= 5; ts++ {
		require.True(t, pool.Submit(&Job{Timestamp: ts}))
	}
	pool.Stop()
	pool.Stop()

	assert.ElementsMatch(t, []uint64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 1, failed)

	m := pool.GetMetrics()
	assert.Equal(t, int64(5), m.ProcessedCount)
	assert.Equal(t, int64(5), m.QueuedCount)
	assert.Equal(t, int64(1), m.ErrorCount)

	assert.False(t, pool.Submit(&Job{Timestamp: 6}), "stopped")
}

func TestPoolDropsWhenFull(t *testing.T) {
	pool := NewProcessingPool("full", 1, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool.SetProcessor(func(job *Job) (*ProcessResult, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	pool.Start()

	require.True(t, pool.Submit(&Job{Timestamp: 1}))
	<-started // worker holds job 1; the queue is empty again
	require.True(t, pool.Submit(&Job{Timestamp: 2}))
	assert.False(t, pool.Submit(&Job{Timestamp: 3}))
	assert.Equal(t, 1, pool.GetQueueLength())
	assert.Equal(t, 1, pool.GetQueueCapacity())

	close(release)
	pool.Stop()
	assert.Equal(t, int64(1), pool.GetMetrics().DroppedCount)
}

func TestRecorderWritesFilesAndLogs(t *testing.T) {
	dir := t.TempDir()
	store, err := rundb.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := &Recorder{
		RunID:        rundb.NewRunID(),
		Format:       pcd.ASCII,
		MetadataMode: pcd.MetadataMatrix,
		Store:        store,
	}
	job := &Job{
		Kind:      rundb.KindSaved,
		Timestamp: 7,
		Basename:  filepath.Join(dir, "out", "buffer"),
		Cloud:     []float32{1, 2, 3, 1, 4, 5, 6, 0.5},
		Points:    2,
		Transform: pcd.Transform{
			ModelView:  mgl64.Translate3D(0, 0, -10),
			Components: wire.PoseComponents{Translation: [3]float64{0, 0, 10}},
		},
		Near:          9,
		Far:           11,
		Preview:       []byte("RIFF"),
		PreviewFormat: "webp",
	}

	res, err := rec.Process(job)
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	assert.Equal(t, job.Basename+".pcd", res.Files[0])
	assert.Equal(t, job.Basename+".transform", res.Files[1])
	assert.Equal(t, job.Basename+".webp", res.Files[2])

	c, err := pcd.ReadFile(res.Files[0])
	require.NoError(t, err)
	assert.Equal(t, job.Cloud, c.Data)

	f, err := store.Get(res.FrameID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.Timestamp)
	assert.Equal(t, 2, f.Points)
	assert.Equal(t, res.Files[0], f.PCDPath)
	assert.Equal(t, [3]float64{0, 0, 10}, f.Pose.Translation)
}

func TestRecorderLogOnly(t *testing.T) {
	store, err := rundb.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := &Recorder{RunID: "run", Store: store}
	res, err := rec.Process(&Job{Kind: rundb.KindPublished, Timestamp: 1, Points: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Files)

	n, err := store.Count("run")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChannelRegistry(t *testing.T) {
	r := NewChannelRegistry(nil)
	r.Register(wire.TagCloud, "cloud", Outbound)
	r.Record(wire.TagCloud, 4)
	r.Record(wire.TagCloud, 5)
	r.RecordFailure(wire.TagPoseComponents)

	info, ok := r.GetChannelInfo(wire.TagCloud)
	require.True(t, ok)
	assert.Equal(t, int64(2), info.Count)
	assert.Equal(t, uint64(5), info.LastTimestamp)
	assert.Equal(t, Outbound, info.Direction)

	stats := r.GetChannelStats()
	assert.Len(t, stats, 2)
	assert.Equal(t, int64(1), stats["v"].Failures)

	_, ok = r.GetChannelInfo(wire.TagPose)
	assert.False(t, ok)

	// re-registering keeps counters
	r.Register(wire.TagCloud, "points", Outbound)
	info, _ = r.GetChannelInfo(wire.TagCloud)
	assert.Equal(t, int64(2), info.Count)
	assert.Equal(t, "points", info.Name)
}
