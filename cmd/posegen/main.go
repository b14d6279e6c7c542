// Command posegen stands in for a physics simulation: it waits for its
// subscribers on port+1, publishes the pose of a slowly spinning object as
// 'v' messages, and a shutdown sentinel when it stops.
//
// Usage:
//
//	posegen -port 5600 -subscribers 1 -rate 30 -spin 0,20,0 -distance 10
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/WVU-ASEL/glidar/pkg/kinematics"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/wire"
	"github.com/WVU-ASEL/glidar/pkg/zeromq"
)

var (
	port        = flag.Int("port", 5600, "Port to publish pose components on; the sync port is port+1")
	subscribers = flag.Int("subscribers", 1, "Subscribers to wait for before publishing")
	rate        = flag.Float64("rate", 30, "Poses per second")
	spin        = flag.String("spin", "0,20,0", "Object angular rate in degrees per second, as x,y,z")
	distance    = flag.Float64("distance", 10, "Distance from sensor to object along z")
	count       = flag.Uint64("count", 0, "Stop after this many poses (0 runs until interrupted)")
	logLevel    = flag.String("log-level", "info", "Log level")
)

// generator integrates the object attitude at a fixed step.
type generator struct {
	Object      quat.Number
	Sensor      quat.Number
	Translation r3.Vec
	Rate        r3.Vec // rad/s
	Step        time.Duration
	Count       uint64
}

// next advances one step and returns the pose for timestamp ts.
func (g *generator) next(ts uint64) wire.PoseComponents {
	if ts > 1 {
		g.Object = kinematics.Change(g.Object, g.Rate, g.Step.Seconds())
	}
	return wire.PoseComponents{
		Timestamp:   ts,
		Object:      kinematics.Components(g.Object),
		Translation: [3]float64{g.Translation.X, g.Translation.Y, g.Translation.Z},
		Sensor:      kinematics.Components(g.Sensor),
	}
}

// run publishes poses until the token is cancelled or Count is reached, then
// sends the 'v' sentinel. It returns the number of poses sent.
func (g *generator) run(pub *transport.PublishSession, token *shutdown.Token) (uint64, error) {
	ticker := time.NewTicker(g.Step)
	defer ticker.Stop()

	var ts uint64
	for !token.Cancelled() && (g.Count == 0 || ts < g.Count) {
		ts++
		v := g.next(ts)
		if err := pub.Publish(v.Encode()); err != nil {
			return ts - 1, fmt.Errorf("send pose %d: %w", ts, err)
		}
		<-ticker.C
	}
	if err := pub.Publish(wire.Sentinel(wire.TagPoseComponents)); err != nil {
		return ts, fmt.Errorf("send shutdown: %w", err)
	}
	return ts, nil
}

// parseRate reads "x,y,z" in degrees per second.
func parseRate(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, fmt.Errorf("spin needs three comma-separated values, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("spin component %d: %w", i, err)
		}
		v[i] = f * degToRad
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

const degToRad = math.Pi / 180

// serve binds a publish session on port, waits for the subscribers and runs
// g. The session is shut down on every path. A cancelled token while waiting
// is not an error.
func serve(backend transport.Backend, port, subscribers int, g *generator, token *shutdown.Token, logger customlog.Logger) (uint64, error) {
	session := transport.NewPublishSession(backend, port, subscribers, logger)
	if err := session.Bind(); err != nil {
		return 0, err
	}
	defer func() {
		if err := session.Shutdown(); err != nil {
			logger.Warnf("Failed to shut down publisher: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !token.Cancelled() && ctx.Err() == nil {
			time.Sleep(20 * time.Millisecond)
		}
		cancel()
	}()
	logger.Infof("Waiting for %d subscriber(s) on port %d", subscribers, port+1)
	err := session.AwaitSubscribers(ctx)
	cancel()
	if err != nil {
		if token.Cancelled() {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to synchronize subscribers: %w", err)
	}

	logger.Infof("Publishing poses on port %d every %v", port, g.Step)
	return g.run(session, token)
}

func main() {
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*logLevel, "")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	if *rate <= 0 {
		logger.Fatalf("rate must be positive, got %g", *rate)
	}
	w, err := parseRate(*spin)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	token := &shutdown.Token{}
	stop := shutdown.NotifyOnSignals(token, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := zeromq.NewBackend(zeromq.DefaultOptions(), logger)
	if err != nil {
		logger.Fatalf("Failed to create transport: %v", err)
	}
	defer backend.Close()

	g := &generator{
		Object:      kinematics.Identity,
		Sensor:      kinematics.Identity,
		Translation: r3.Vec{Z: *distance},
		Rate:        w,
		Step:        time.Duration(float64(time.Second) / *rate),
		Count:       *count,
	}
	sent, err := serve(backend, *port, *subscribers, g, token, logger)
	logger.Infof("Sent %d poses", sent)
	if err != nil {
		logger.Errorf("%v", err)
	}
}
