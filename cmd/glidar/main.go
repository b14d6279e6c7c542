// Command glidar renders a mesh as seen by a simulated LIDAR and streams the
// reconstructed point clouds to subscribers.
//
// Usage:
//
//	glidar -config ./config [flags]
//
// Flags override the matching glidar_config.yaml fields. With -pcd the
// simulator renders one frame, writes it and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/WVU-ASEL/glidar/domain/diagnostic"
	domainpreview "github.com/WVU-ASEL/glidar/domain/preview"
	"github.com/WVU-ASEL/glidar/domain/simulator"
	"github.com/WVU-ASEL/glidar/pkg/api"
	"github.com/WVU-ASEL/glidar/pkg/config"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/mesh"
	"github.com/WVU-ASEL/glidar/pkg/nearest"
	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/preview"
	"github.com/WVU-ASEL/glidar/pkg/processing"
	"github.com/WVU-ASEL/glidar/pkg/rundb"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/transport/inproc"
	"github.com/WVU-ASEL/glidar/pkg/wire"
	"github.com/WVU-ASEL/glidar/pkg/zeromq"
	"github.com/WVU-ASEL/glidar/services"
)

var (
	configDir       = flag.String("config", ".", "Directory holding "+config.BootstrapFileName)
	modelPath       = flag.String("model", "", "Path to the OBJ model")
	modelScale      = flag.Float64("scale", 1, "Uniform model scale")
	width           = flag.Int("width", 256, "Sensor width in pixels")
	height          = flag.Int("height", 256, "Sensor height in pixels")
	fov             = flag.Float64("fov", 20, "Vertical field of view in degrees")
	port            = flag.Int("port", 0, "Cloud publish port; the sync port is port+1 (0 disables publishing)")
	subscribers     = flag.Int("subscribers", 1, "Subscribers to wait for before publishing")
	physicsPort     = flag.Int("physics-port", 0, "Port of the physics pose source (0 integrates rates instead)")
	physicsHost     = flag.String("physics-host", "localhost", "Host of the physics pose source")
	blockingPhysics = flag.Bool("blocking-physics", false, "Block each loop until a pose arrives")
	hwm             = flag.Int("hwm", 0, "Receive high-water mark for the pose source (0 keeps only the latest)")
	pubHWM          = flag.Int("pub-hwm", 0, "Send high-water mark for the cloud publisher (0 keeps the default)")
	pubConflate     = flag.Bool("pub-conflate", false, "Cloud publisher keeps only its newest message")
	pubRate         = flag.Int("pub-rate", 15, "Publish a cloud every this many loops")
	depthMode       = flag.String("depth-mode", "analytic", "Depth reconstruction: analytic or unproject")
	organized       = flag.Bool("organized", false, "Keep background pixels as NaN points")
	pcdPath         = flag.String("pcd", "", "Render one frame, write it to this .pcd file and exit")
	httpPort        = flag.Int("http-port", 0, "HTTP API port (0 disables the API)")
	database        = flag.String("db", "", "Path to the SQLite run log")
	logLevel        = flag.String("log-level", "info", "Log level")
	backendName     = flag.String("backend", "zeromq", "Transport backend: zeromq or inproc")
	maxLoops        = flag.Uint64("max-loops", 0, "Stop after this many loops (0 runs until interrupted)")
)

func main() {
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(*configDir, set)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("glidar stopped: %v", err)
		os.Exit(1)
	}
	logger.Infof("glidar exited properly")
}

// loadConfig reads the bootstrap file, falling back to defaults when it does
// not exist, and applies the flags the user set.
func loadConfig(dir string, set map[string]bool) (*config.BootstrapConfig, error) {
	cfg, err := config.LoadBootstrapConfig(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		def := config.DefaultBootstrapConfig()
		cfg = &def
		cfg.Data.Directory = dir
	}
	applyOverrides(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every flag named in set onto cfg.
func applyOverrides(cfg *config.BootstrapConfig, set map[string]bool) {
	if set["model"] {
		cfg.Model.Path = *modelPath
	}
	if set["scale"] {
		cfg.Model.Scale = *modelScale
	}
	if set["width"] {
		cfg.Sensor.Width = *width
	}
	if set["height"] {
		cfg.Sensor.Height = *height
	}
	if set["fov"] {
		cfg.Sensor.FOV = *fov
	}
	if set["port"] {
		cfg.ZeroMQ.Port = *port
	}
	if set["subscribers"] {
		cfg.ZeroMQ.Subscribers = *subscribers
	}
	if set["physics-port"] {
		cfg.ZeroMQ.PhysicsPort = *physicsPort
	}
	if set["physics-host"] {
		cfg.ZeroMQ.PhysicsHost = *physicsHost
	}
	if set["blocking-physics"] {
		cfg.ZeroMQ.BlockingPhysics = *blockingPhysics
	}
	if set["hwm"] {
		cfg.ZeroMQ.HighWaterMark = *hwm
	}
	if set["pub-hwm"] {
		cfg.ZeroMQ.PubHighWater = *pubHWM
	}
	if set["pub-conflate"] {
		cfg.ZeroMQ.Conflate = *pubConflate
	}
	if set["pub-rate"] {
		cfg.ZeroMQ.PubRate = *pubRate
	}
	if set["depth-mode"] {
		cfg.Depth.Mode = *depthMode
	}
	if set["organized"] {
		cfg.Depth.Organized = *organized
	}
	if set["pcd"] {
		cfg.SaveAndQuit = true
		cfg.Output.Directory = filepath.Dir(*pcdPath)
		cfg.Output.Basename = strings.TrimSuffix(filepath.Base(*pcdPath), ".pcd")
	}
	if set["http-port"] {
		cfg.Server.HTTPPort = *httpPort
	}
	if set["db"] {
		cfg.Output.Database = *database
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
}

// newBackend returns the transport and a function that releases it.
func newBackend(name string, cfg config.ZeroMQBootstrap, logger customlog.Logger) (transport.Backend, func() error, error) {
	switch name {
	case "inproc":
		return inproc.New(), func() error { return nil }, nil
	case "zeromq", "":
		b, err := zeromq.NewBackend(backendOptions(cfg), logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport backend %q", name)
}

// backendOptions maps the publisher flow-control settings onto the ZeroMQ
// socket options. The physics subscriber takes its own high-water mark in
// connectPhysics.
func backendOptions(cfg config.ZeroMQBootstrap) zeromq.Options {
	opts := zeromq.DefaultOptions()
	opts.SendHighWaterMark = cfg.PubHighWater
	opts.Conflate = cfg.Conflate
	return opts
}

// connectPhysics subscribes to the pose source and completes its rendezvous.
// It returns a nil session without error when token is cancelled first.
func connectPhysics(backend transport.Backend, cfg config.ZeroMQBootstrap, token *shutdown.Token, logger customlog.Logger) (*transport.SubscribeSession, error) {
	physics := transport.NewSubscribeSession(backend, cfg.PhysicsHost, cfg.PhysicsPort, logger)
	if err := physics.Connect(wire.TagPoseComponents, cfg.HighWaterMark); err != nil {
		return nil, fmt.Errorf("failed to connect to physics source: %w", err)
	}

	logger.Infof("Synchronizing with physics source %s:%d", cfg.PhysicsHost, cfg.PhysicsPort+1)
	ctx, cancel := tokenContext(token, 100*time.Millisecond)
	err := physics.Sync(ctx)
	cancel()
	if err != nil {
		physics.Close()
		if token.Cancelled() {
			logger.Infof("Interrupted while synchronizing with physics source")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to synchronize with physics source: %w", err)
	}
	return physics, nil
}

// tokenContext returns a context that is cancelled once token is.
func tokenContext(token *shutdown.Token, poll time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			if token.Cancelled() {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return ctx, cancel
}

func run(cfg *config.BootstrapConfig, logger customlog.Logger) error {
	token := &shutdown.Token{}
	stop := shutdown.NotifyOnSignals(token, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := mesh.New(nearest.Params{Epsilon: cfg.Clip.Epsilon, MaxChecks: cfg.Clip.MaxChecks}, logger)
	if err := m.Load(cfg.Model.Path); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	dims := m.Dimensions()
	logger.Infof("Loaded %s: %d vertices, %d triangles, %.3g x %.3g x %.3g", cfg.Model.Path, m.VertexCount(), m.TriangleCount(), dims.X, dims.Y, dims.Z)

	poseService, err := services.NewPoseConfigService(cfg.PoseConfigPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pose configuration: %w", err)
	}

	opts, err := simulator.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.MaxLoops = *maxLoops
	scene := simulator.NewScene(m, cfg.Model.Scale, poseService.GetCurrentConfig())
	loop, err := simulator.NewLoop(scene, opts, logger)
	if err != nil {
		return err
	}
	poseService.SetListener(loop)

	runID := rundb.NewRunID()
	logger = logger.WithField("run", runID)

	var store *rundb.Store
	if cfg.Output.Database != "" {
		store, err = rundb.Open(cfg.Output.Database)
		if err != nil {
			return fmt.Errorf("failed to open run log: %w", err)
		}
		defer store.Close()
	}

	format, err := pcd.ParseFormat(cfg.Output.PCDFormat)
	if err != nil {
		return err
	}
	metadata, err := pcd.ParseMetadataMode(cfg.Output.MetadataMode)
	if err != nil {
		return err
	}
	recorder := &processing.Recorder{
		RunID:        runID,
		Format:       format,
		MetadataMode: metadata,
		Store:        store,
		Logger:       logger,
	}
	pool := processing.NewProcessingPool("recorder", cfg.Output.RecordWorkers, cfg.Output.RecordQueue, logger)
	pool.SetProcessor(recorder.Process)
	pool.SetResultHandler(func(res *processing.ProcessResult) {
		if res.Error == nil && res.FrameID != "" {
			logger.Debugf("Logged %s frame %d as %s", res.Kind, res.Timestamp, res.FrameID)
		}
	})
	pool.Start()
	defer pool.Stop()
	loop.SetRecorder(pool, runID)

	previewFormat, err := preview.ParseFormat(cfg.Output.PreviewFormat)
	if err != nil {
		return err
	}
	previewService := domainpreview.NewPreviewService(previewFormat, cfg.Output.PreviewScale, logger)
	loop.SetPreview(previewService)

	channels := processing.NewChannelRegistry(logger)
	loop.SetChannels(channels)
	diagnostics := diagnostic.NewDiagnosticService(channels, pool)
	loop.SetDiagnostics(diagnostics)

	backend, closeBackend, err := newBackend(*backendName, cfg.ZeroMQ, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warnf("Failed to close transport: %v", err)
		}
	}()

	if cfg.Server.HTTPPort > 0 {
		app := api.NewApp("glidar", api.Deps{
			Diagnostics: diagnostics,
			Preview:     previewService,
			Pose:        poseService,
			Commands:    loop,
			Logger:      logger,
			RequestLog:  true,
		})
		go func() {
			logger.Infof("HTTP API starting on port %d", cfg.Server.HTTPPort)
			if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.HTTPPort)); err != nil {
				logger.Errorf("HTTP API failed: %v", err)
				token.Cancel()
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := app.ShutdownWithContext(ctx); err != nil {
				logger.Warnf("HTTP API forced to shut down: %v", err)
			}
		}()
	}

	if cfg.ZeroMQ.PhysicsPort > 0 {
		physics, err := connectPhysics(backend, cfg.ZeroMQ, token, logger)
		if err != nil {
			return err
		}
		if physics == nil {
			return nil
		}
		defer physics.Close()
		loop.SetPhysics(physics)
	}

	if cfg.ZeroMQ.Port > 0 {
		pub := transport.NewPublishSession(backend, cfg.ZeroMQ.Port, cfg.ZeroMQ.Subscribers, logger)
		if err := pub.Bind(); err != nil {
			return fmt.Errorf("failed to bind publisher: %w", err)
		}
		logger.Infof("Waiting for %d subscriber(s) on port %d", cfg.ZeroMQ.Subscribers, cfg.ZeroMQ.Port+1)
		ctx, cancel := tokenContext(token, 100*time.Millisecond)
		err := pub.AwaitSubscribers(ctx)
		cancel()
		if err != nil {
			if serr := pub.Shutdown(); serr != nil {
				logger.Warnf("Failed to broadcast shutdown: %v", serr)
			}
			if token.Cancelled() {
				logger.Infof("Interrupted while waiting for subscribers")
				return nil
			}
			return fmt.Errorf("failed to synchronize subscribers: %w", err)
		}
		loop.SetPublisher(pub)
	}

	return loop.Run(token)
}
