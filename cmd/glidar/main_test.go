package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WVU-ASEL/glidar/pkg/config"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/mesh"
	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/rundb"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/transport/inproc"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

func TestLoadConfigWithoutFileNeedsModel(t *testing.T) {
	dir := t.TempDir()

	_, err := loadConfig(dir, map[string]bool{})
	assert.ErrorContains(t, err, "model.path")

	*modelPath = mesh.BuiltinCube
	cfg, err := loadConfig(dir, map[string]bool{"model": true})
	require.NoError(t, err)
	assert.Equal(t, mesh.BuiltinCube, cfg.Model.Path)
	assert.Equal(t, filepath.Join(dir, "pose.yaml"), cfg.PoseConfigPath())
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.BootstrapFileName), []byte("sensor: ["), 0644))

	_, err := loadConfig(dir, map[string]bool{})
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.DefaultBootstrapConfig()
	*width, *fov, *port = 64, 45, 6000
	*pcdPath = filepath.Join("out", "frame.pcd")

	applyOverrides(&cfg, map[string]bool{"width": true, "fov": true, "port": true, "pcd": true})

	assert.Equal(t, 64, cfg.Sensor.Width)
	assert.Equal(t, 256, cfg.Sensor.Height, "unset flags keep the file value")
	assert.Equal(t, 45.0, cfg.Sensor.FOV)
	assert.Equal(t, 6000, cfg.ZeroMQ.Port)
	assert.True(t, cfg.SaveAndQuit)
	assert.Equal(t, "out", cfg.Output.Directory)
	assert.Equal(t, "frame", cfg.Output.Basename)
}

func TestNewBackend(t *testing.T) {
	zmq := config.DefaultBootstrapConfig().ZeroMQ
	b, closeFn, err := newBackend("inproc", zmq, nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.NoError(t, closeFn())

	_, _, err = newBackend("carrier-pigeon", zmq, nil)
	assert.Error(t, err)
}

func TestBackendOptionsCarryPublisherFlowControl(t *testing.T) {
	cfg := config.DefaultBootstrapConfig()
	cfg.ZeroMQ.HighWaterMark = 0
	cfg.ZeroMQ.PubHighWater = 16
	cfg.ZeroMQ.Conflate = true

	opts := backendOptions(cfg.ZeroMQ)
	assert.Equal(t, 16, opts.SendHighWaterMark)
	assert.True(t, opts.Conflate)
	assert.Positive(t, opts.Linger)

	// the physics queue stays independent of publisher conflation
	*hwm = 5
	applyOverrides(&cfg, map[string]bool{"hwm": true})
	assert.Equal(t, 5, cfg.ZeroMQ.HighWaterMark)
	assert.True(t, cfg.ZeroMQ.Conflate)
}

func TestConnectPhysicsSynchronizesWithPoseSource(t *testing.T) {
	const physicsPort = 7600
	n := inproc.New()
	source := transport.NewPublishSession(n, physicsPort, 1, nil)
	require.NoError(t, source.Bind())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	awaited := make(chan error, 1)
	go func() { awaited <- source.AwaitSubscribers(ctx) }()

	cfg := config.DefaultBootstrapConfig().ZeroMQ
	cfg.PhysicsPort = physicsPort
	cfg.HighWaterMark = 4
	physics, err := connectPhysics(n, cfg, &shutdown.Token{}, customlog.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, physics)
	defer physics.Close()

	require.NoError(t, <-awaited)
	assert.Equal(t, transport.StateReady, source.State())

	v := wire.PoseComponents{Timestamp: 11, Object: [4]float64{1, 0, 0, 0}, Sensor: [4]float64{1, 0, 0, 0}}
	require.NoError(t, source.Publish(v.Encode()))
	got, res := transport.ReceivePoseComponents(physics, false)
	require.Equal(t, transport.Success, res)
	assert.Equal(t, v, got)
}

func TestConnectPhysicsInterrupted(t *testing.T) {
	cfg := config.DefaultBootstrapConfig().ZeroMQ
	cfg.PhysicsPort = 7610

	token := &shutdown.Token{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		token.Cancel()
	}()
	physics, err := connectPhysics(inproc.New(), cfg, token, customlog.NewNopLogger())
	assert.NoError(t, err)
	assert.Nil(t, physics)
}

func TestTokenContext(t *testing.T) {
	token := &shutdown.Token{}
	ctx, cancel := tokenContext(token, time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before the token")
	case <-time.After(10 * time.Millisecond):
	}

	token.Cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after the token")
	}
}

func TestRunSaveAndQuit(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultBootstrapConfig()
	cfg.Model.Path = mesh.BuiltinCube
	cfg.Sensor.Width, cfg.Sensor.Height = 32, 32
	cfg.Data.Directory = dir
	cfg.Output.Directory = filepath.Join(dir, "frames")
	cfg.Output.PreviewFormat = "tga"
	cfg.Output.Database = filepath.Join(dir, "runs.db")
	cfg.SaveAndQuit = true
	require.NoError(t, cfg.Validate())

	*backendName = "inproc"
	require.NoError(t, run(&cfg, customlog.NewNopLogger()))

	base := filepath.Join(dir, "frames", "buffer")
	cloud, err := pcd.ReadFile(base + ".pcd")
	require.NoError(t, err)
	assert.Greater(t, cloud.Points(), 0)
	assert.FileExists(t, base+".transform")
	assert.FileExists(t, base+".tga")

	store, err := rundb.Open(cfg.Output.Database)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	frames, err := store.ListByRun(runs[0])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, rundb.KindSaved, frames[0].Kind)
	assert.Equal(t, base+".pcd", frames[0].PCDPath)
	assert.Equal(t, cloud.Points(), frames[0].Points)
}
