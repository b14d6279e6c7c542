// Command cloudsub subscribes to a glidar publisher, optionally writing each
// received cloud to a PCD file, until the publisher shuts down.
//
// Usage:
//
//	cloudsub -host localhost -port 5555 [-out frames/cloud] [-count 10]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/wire"
	"github.com/WVU-ASEL/glidar/pkg/zeromq"
)

var (
	host     = flag.String("host", "localhost", "Publisher host")
	port     = flag.Int("port", 5555, "Publisher data port; the sync port is port+1")
	hwm      = flag.Int("hwm", 0, "Receive high-water mark (0 keeps only the latest cloud)")
	out      = flag.String("out", "", "Write each cloud to <out>_<timestamp>.pcd")
	format   = flag.String("format", "binary", "PCD data format: binary or ascii")
	count    = flag.Int("count", 0, "Stop after this many clouds (0 runs until shutdown)")
	logLevel = flag.String("log-level", "info", "Log level")
)

// options control what consume does with each cloud.
type options struct {
	Out    string
	Format pcd.Format
	Count  int
	Poll   time.Duration
}

func main() {
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*logLevel, "")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	pcdFormat, err := pcd.ParseFormat(*format)
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

	session := transport.NewSubscribeSession(backend, *host, *port, logger)
	if err := session.Connect(wire.TagCloud, *hwm); err != nil {
		logger.Fatalf("Failed to connect: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !token.Cancelled() && ctx.Err() == nil {
			time.Sleep(100 * time.Millisecond)
		}
		cancel()
	}()
	logger.Infof("Synchronizing with %s:%d", *host, *port+1)
	err = session.Sync(ctx)
	cancel()
	if err != nil {
		if token.Cancelled() {
			return
		}
		logger.Fatalf("Failed to synchronize: %v", err)
	}

	n, err := consume(session, token, options{Out: *out, Format: pcdFormat, Count: *count, Poll: time.Millisecond}, logger)
	logger.Infof("Received %d clouds", n)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// consume receives clouds until a sentinel, the token, or opts.Count.
func consume(s *transport.SubscribeSession, token *shutdown.Token, opts options, logger customlog.Logger) (int, error) {
	if opts.Out != "" {
		if dir := filepath.Dir(opts.Out); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return 0, fmt.Errorf("create output directory: %w", err)
			}
		}
	}

	received := 0
	for !token.Cancelled() {
		cloud, res := transport.ReceiveCloud(s, false)
		switch res {
		case transport.NoUpdate:
			time.Sleep(opts.Poll)
			continue
		case transport.Desync:
			continue
		case transport.Shutdown:
			logger.Infof("Publisher shut down")
			return received, nil
		case transport.Failure:
			return received, fmt.Errorf("receive failed after %d clouds", received)
		}

		received++
		logger.Infof("Cloud %d: %d points", cloud.Timestamp, cloud.Points())
		if opts.Out != "" {
			base := fmt.Sprintf("%s_%06d", opts.Out, cloud.Timestamp)
			if _, err := pcd.WriteFile(base, cloud.Data, 0, 0, opts.Format); err != nil {
				return received, err
			}
		}
		if opts.Count > 0 && received >= opts.Count {
			return received, nil
		}
	}
	return received, nil
}
