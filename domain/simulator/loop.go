package simulator

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/WVU-ASEL/glidar/domain/diagnostic"
	"github.com/WVU-ASEL/glidar/domain/preview"
	"github.com/WVU-ASEL/glidar/pkg/clip"
	"github.com/WVU-ASEL/glidar/pkg/config"
	"github.com/WVU-ASEL/glidar/pkg/depth"
	"github.com/WVU-ASEL/glidar/pkg/kinematics"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/processing"
	"github.com/WVU-ASEL/glidar/pkg/raster"
	"github.com/WVU-ASEL/glidar/pkg/rundb"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

// Common errors
var (
	ErrPublish = errors.New("publish failed")
	ErrPhysics = errors.New("physics pose source failed")
)

// Options configure a Loop.
type Options struct {
	Width  int
	Height int
	FOV    float64 // degrees

	Clip  clip.Params
	Depth depth.Options

	// PubRate publishes a cloud every PubRate loops.
	PubRate         int
	BlockingPhysics bool

	// Basename is the path prefix of saved frames.
	Basename    string
	SaveAndQuit bool
	// LogPublished also logs published frames to the run log.
	LogPublished bool

	// FixedStep replaces the measured loop time when positive.
	FixedStep time.Duration
	// MaxLoops stops the loop after that many iterations when positive.
	MaxLoops uint64

	CommandBuffer int
}

// OptionsFromConfig maps the bootstrap configuration onto loop options.
func OptionsFromConfig(cfg *config.BootstrapConfig) (Options, error) {
	mode, err := depth.ParseMode(cfg.Depth.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Width:  cfg.Sensor.Width,
		Height: cfg.Sensor.Height,
		FOV:    cfg.Sensor.FOV,
		Clip: clip.Params{
			MinNearPlane: cfg.Clip.MinNearPlane,
			NearFactor:   cfg.Clip.NearFactor,
			FarFactor:    cfg.Clip.FarFactor,
		},
		Depth:           depth.Options{Mode: mode, Organized: cfg.Depth.Organized},
		PubRate:         cfg.ZeroMQ.PubRate,
		BlockingPhysics: cfg.ZeroMQ.BlockingPhysics,
		Basename:        filepath.Join(cfg.Output.Directory, cfg.Output.Basename),
		SaveAndQuit:     cfg.SaveAndQuit,
		LogPublished:    cfg.Output.Database != "",
	}, nil
}

// Loop renders the scene, reconstructs clouds and publishes them. Everything
// but Submit and PoseConfigUpdated must be called from one goroutine.
type Loop struct {
	scene    *Scene
	opts     Options
	logger   customlog.Logger
	renderer *raster.Renderer
	solver   *clip.Solver
	commands chan Command

	publisher   *transport.PublishSession
	physics     *transport.SubscribeSession
	recorder    *processing.ProcessingPool
	channels    *processing.ChannelRegistry
	preview     *preview.PreviewService
	diagnostics *diagnostic.DiagnosticService
	runID       string

	// loop state
	timestamp  uint64
	lastSent   uint64
	sentAny    bool
	sinceSent  int
	loops      uint64
	published  uint64
	saved      uint64
	degenerate uint64
	saveWanted bool
	lastPoints int
	planes     clip.Planes
	snapshot   depth.Snapshot
	cloud      []float32
	lastStep   time.Time
	dt         float64
}

// NewLoop prepares a loop over scene.
func NewLoop(scene *Scene, opts Options, logger customlog.Logger) (*Loop, error) {
	if scene == nil || scene.Mesh == nil || !scene.Mesh.Loaded() {
		return nil, fmt.Errorf("simulator: scene has no loaded mesh")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("simulator: invalid sensor size %dx%d", opts.Width, opts.Height)
	}
	if opts.FOV <= 0 || opts.FOV >= 180 {
		return nil, fmt.Errorf("simulator: invalid field of view %g", opts.FOV)
	}
	if opts.PubRate < 1 {
		opts.PubRate = 1
	}
	if opts.CommandBuffer < 1 {
		opts.CommandBuffer = 16
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Loop{
		scene:    scene,
		opts:     opts,
		logger:   logger,
		renderer: raster.NewRenderer(opts.Width, opts.Height),
		solver:   clip.NewSolver(scene.Mesh, opts.Clip),
		commands: make(chan Command, opts.CommandBuffer),
	}, nil
}

// SetPublisher streams clouds on a session that has finished its handshake.
func (l *Loop) SetPublisher(s *transport.PublishSession) { l.publisher = s }

// SetPhysics takes poses from a physics source instead of integrating rates.
func (l *Loop) SetPhysics(s *transport.SubscribeSession) { l.physics = s }

// SetRecorder hands saved and logged frames to a worker pool.
func (l *Loop) SetRecorder(p *processing.ProcessingPool, runID string) {
	l.recorder = p
	l.runID = runID
}

// SetChannels counts traffic per wire tag.
func (l *Loop) SetChannels(r *processing.ChannelRegistry) {
	l.channels = r
	if r != nil {
		r.Register(wire.TagCloud, "cloud", processing.Outbound)
		r.Register(wire.TagPoseComponents, "pose components", processing.Inbound)
	}
}

// SetPreview keeps an encoded image of recent renders.
func (l *Loop) SetPreview(p *preview.PreviewService) { l.preview = p }

// SetDiagnostics publishes loop metrics.
func (l *Loop) SetDiagnostics(d *diagnostic.DiagnosticService) { l.diagnostics = d }

// Submit queues a command without blocking. It reports false when the
// queue is full.
func (l *Loop) Submit(cmd Command) bool {
	select {
	case l.commands <- cmd:
		return true
	default:
		l.logger.Warnf("Command queue full, dropping %s", cmd.Kind)
		return false
	}
}

// PoseConfigUpdated queues a new pose from the configuration service.
func (l *Loop) PoseConfigUpdated(cfg config.PoseConfig) bool {
	return l.Submit(Command{Kind: CommandSetPose, Pose: &cfg})
}

// Timestamp is the pose timestamp of the current frame.
func (l *Loop) Timestamp() uint64 { return l.timestamp }

// Planes returns the clip planes of the last render.
func (l *Loop) Planes() clip.Planes { return l.planes }

// Framebuffer returns the last render.
func (l *Loop) Framebuffer() *raster.Framebuffer { return l.renderer.Framebuffer() }

// Run loops until token is cancelled, a physics source says goodbye, a
// save-and-quit frame is written, MaxLoops is reached, or a transport
// fails. A publishing loop always broadcasts shutdown before returning.
func (l *Loop) Run(token *shutdown.Token) (err error) {
	if token == nil {
		token = &shutdown.Token{}
	}
	defer func() {
		if l.publisher == nil {
			return
		}
		l.logger.Infof("Sending shutdown signal to subscribers")
		if serr := l.publisher.Shutdown(); serr != nil {
			l.logger.Errorf("Failed to broadcast shutdown: %v", serr)
			if err == nil {
				err = serr
			}
		}
	}()

	mode := "free-running"
	if l.physics != nil {
		mode = "physics"
	}
	l.logger.Infof("Starting %s loop at %dx%d, fov %g, publishing every %d loops", mode, l.opts.Width, l.opts.Height, l.opts.FOV, l.opts.PubRate)

	l.lastStep = time.Now()
	for {
		done, err := l.iterate(token)
		l.reportMetrics()
		if err != nil {
			return err
		}
		if done || token.Cancelled() {
			l.logger.Infof("Loop finished after %d iterations (%d published, %d saved)", l.loops, l.published, l.saved)
			return nil
		}
		if l.opts.MaxLoops > 0 && l.loops >= l.opts.MaxLoops {
			return nil
		}
	}
}

// iterate runs one pass. It reports done when the loop should stop without
// error.
func (l *Loop) iterate(token *shutdown.Token) (bool, error) {
	l.advanceClock()
	l.drainCommands(token)

	if l.physics != nil {
		if err := l.pollPhysics(token); err != nil {
			return false, err
		}
	} else {
		l.scene.Step(l.dt)
	}

	if err := l.render(); err != nil {
		return false, err
	}

	if l.saveWanted || l.opts.SaveAndQuit {
		l.save()
		l.saveWanted = false
	}

	l.sinceSent++
	if l.sinceSent >= l.opts.PubRate {
		if err := l.publish(); err != nil {
			return false, err
		}
	}

	l.loops++
	return l.opts.SaveAndQuit, nil
}

func (l *Loop) advanceClock() {
	now := time.Now()
	if l.opts.FixedStep > 0 {
		l.dt = l.opts.FixedStep.Seconds()
	} else {
		l.dt = now.Sub(l.lastStep).Seconds()
	}
	l.lastStep = now
}

// drainCommands applies queued commands without blocking.
func (l *Loop) drainCommands(token *shutdown.Token) {
	for {
		select {
		case cmd := <-l.commands:
			l.apply(cmd, token)
		default:
			return
		}
	}
}

func (l *Loop) apply(cmd Command, token *shutdown.Token) {
	l.logger.Debugf("Applying command %s", cmd.Kind)
	switch cmd.Kind {
	case CommandForward:
		l.scene.Move(-l.dt * l.scene.CameraSpeed)
	case CommandBack:
		l.scene.Move(l.dt * l.scene.CameraSpeed)
	case CommandSave:
		l.saveWanted = true
	case CommandQuit:
		token.Cancel()
	case CommandSetPose:
		if cmd.Pose != nil {
			l.scene.ApplyPose(*cmd.Pose)
			l.logger.Infof("Applied pose configuration %s", cmd.Pose.ConfigID)
		}
	default:
		l.logger.Warnf("Ignoring unknown command %d", int(cmd.Kind))
	}
}

// pollPhysics takes the newest pose from the physics source. A malformed
// message is dropped and the previous pose kept.
func (l *Loop) pollPhysics(token *shutdown.Token) error {
	var (
		v   wire.PoseComponents
		res transport.RecvResult
	)
	if l.opts.BlockingPhysics {
		v, res = transport.ReceivePoseComponents(l.physics, true)
	} else {
		v, res = transport.LatestPoseComponents(l.physics)
	}

	switch res {
	case transport.Success:
		l.scene.ApplyComponents(v)
		l.timestamp = v.Timestamp
		if l.channels != nil {
			l.channels.Record(wire.TagPoseComponents, v.Timestamp)
		}
	case transport.Desync:
		l.recordFailure(wire.TagPoseComponents)
	case transport.Shutdown:
		l.logger.Infof("Physics source sent shutdown")
		token.Cancel()
	case transport.NoUpdate:
	default:
		l.recordFailure(wire.TagPoseComponents)
		return ErrPhysics
	}
	return nil
}

func (l *Loop) render() error {
	mv := l.scene.ModelView()
	planes, err := l.solver.Solve(mv)
	if err != nil {
		return fmt.Errorf("clip planes: %w", err)
	}
	if planes.Degenerate {
		l.degenerate++
		l.logger.Warnf("Sensor is inside or behind the mesh surface (raw near %g), using near plane %g", planes.RawNear, planes.Near)
	}
	l.planes = planes

	proj := kinematics.Projection(l.opts.FOV, float64(l.opts.Width)/float64(l.opts.Height), planes.Near, planes.Far)
	l.renderer.Render(l.scene.Mesh, raster.Uniforms{
		ModelView:  mv,
		Projection: proj,
		Normal:     kinematics.NormalMatrix(mv),
		Near:       planes.Near,
		Far:        planes.Far,
	})
	l.snapshot = depth.Snapshot{
		Projection: proj,
		ModelView:  mv,
		Near:       planes.Near,
		Far:        planes.Far,
		Width:      l.opts.Width,
		Height:     l.opts.Height,
	}
	return nil
}

func (l *Loop) reconstruct() (int, error) {
	cloud, n, err := depth.Reconstruct(l.renderer.Framebuffer(), l.snapshot, l.opts.Depth, l.cloud)
	l.cloud = cloud
	if err != nil {
		return 0, err
	}
	l.lastPoints = n
	return n, nil
}

// save hands the current frame to the recorder.
func (l *Loop) save() {
	n, err := l.reconstruct()
	if err != nil {
		l.logger.Errorf("Failed to reconstruct frame %d for saving: %v", l.timestamp, err)
		return
	}
	if l.recorder == nil {
		l.logger.Warnf("No recorder configured, not saving frame %d", l.timestamp)
		return
	}

	job := l.job(rundb.KindSaved, n)
	job.Basename = l.opts.Basename
	job.Cloud = append([]float32(nil), l.cloud[:n*4]...)
	if l.opts.Depth.Organized {
		job.Width, job.Height = l.opts.Width, l.opts.Height
	}
	if l.preview != nil {
		if img, err := l.preview.Update(l.renderer.Framebuffer(), l.timestamp); err == nil && img != nil {
			job.Preview = img
			job.PreviewFormat = l.preview.Format()
		}
	}
	if l.recorder.Submit(job) {
		l.saved++
	}
}

func (l *Loop) job(kind string, points int) *processing.Job {
	return &processing.Job{
		Kind:      kind,
		Timestamp: l.timestamp,
		Points:    points,
		Transform: l.scene.Transform(l.timestamp),
		Near:      l.planes.Near,
		Far:       l.planes.Far,
	}
}

// publish sends the current frame unless its timestamp was already sent.
func (l *Loop) publish() error {
	// Free-running frames get a new timestamp every publish interval.
	if l.physics == nil {
		l.timestamp++
	}
	if l.preview != nil {
		l.preview.Update(l.renderer.Framebuffer(), l.timestamp)
	}
	if l.publisher == nil {
		l.sinceSent = 0
		return nil
	}
	if l.sentAny && l.timestamp == l.lastSent {
		return nil
	}

	n, err := l.reconstruct()
	if err != nil {
		return fmt.Errorf("reconstruct frame %d: %w", l.timestamp, err)
	}
	msg := (&wire.Cloud{Timestamp: l.timestamp, Data: l.cloud[:n*4]}).Encode()
	if err := l.publisher.Publish(msg); err != nil {
		l.recordFailure(wire.TagCloud)
		return fmt.Errorf("%w: frame %d: %v", ErrPublish, l.timestamp, err)
	}

	l.lastSent = l.timestamp
	l.sentAny = true
	l.sinceSent = 0
	l.published++
	if l.channels != nil {
		l.channels.Record(wire.TagCloud, l.timestamp)
	}
	l.logger.Debugf("Published frame %d: %d points, %d bytes", l.timestamp, n, len(msg))

	if l.opts.LogPublished && l.recorder != nil {
		l.recorder.Submit(l.job(rundb.KindPublished, n))
	}
	return nil
}

func (l *Loop) recordFailure(tag byte) {
	if l.channels != nil {
		l.channels.RecordFailure(tag)
	}
}

func (l *Loop) reportMetrics() {
	if l.diagnostics == nil {
		return
	}
	state := "disabled"
	if l.publisher != nil {
		state = l.publisher.State().String()
	}
	source := "free-running"
	if l.physics != nil {
		source = "physics"
	}
	l.diagnostics.UpdateMetrics(diagnostic.SimulatorMetrics{
		RunID:        l.runID,
		Frame:        l.timestamp,
		Loops:        l.loops,
		Published:    l.published,
		Saved:        l.saved,
		LastPoints:   l.lastPoints,
		Near:         l.planes.Near,
		Far:          l.planes.Far,
		Degenerate:   l.degenerate,
		SessionState: state,
		PoseSource:   source,
	})
}
