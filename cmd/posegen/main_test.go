package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/shutdown"
	"github.com/WVU-ASEL/glidar/pkg/transport"
	"github.com/WVU-ASEL/glidar/pkg/transport/inproc"
	"github.com/WVU-ASEL/glidar/pkg/wire"
)

func TestParseRate(t *testing.T) {
	v, err := parseRate("0, 180,-90")
	require.NoError(t, err)
	assert.InDelta(t, math.Pi, v.Y, 1e-12)
	assert.InDelta(t, -math.Pi/2, v.Z, 1e-12)

	_, err = parseRate("1,2")
	assert.Error(t, err)
	_, err = parseRate("1,x,2")
	assert.Error(t, err)
}

func TestServeSynchronizesThenPublishes(t *testing.T) {
	const posePort = 7400
	n := inproc.New()
	sub := transport.NewSubscribeSession(n, "", posePort, nil)
	require.NoError(t, sub.Connect(wire.TagPoseComponents, 16))
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	synced := make(chan error, 1)
	go func() { synced <- sub.Sync(ctx) }()

	g := &generator{
		Object:      quat.Number{Real: 1},
		Sensor:      quat.Number{Real: 1},
		Translation: r3.Vec{Z: 10},
		Rate:        r3.Vec{Y: math.Pi},
		Step:        time.Millisecond,
		Count:       3,
	}
	sent, err := serve(n, posePort, 1, g, &shutdown.Token{}, customlog.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sent)
	require.NoError(t, <-synced)

	var ack, firstSend uint64
	for _, e := range n.Events() {
		switch {
		case e.Kind == inproc.EventAck && ack == 0:
			ack = e.Clock
		case e.Kind == inproc.EventSend && firstSend == 0:
			firstSend = e.Clock
		}
	}
	require.NotZero(t, ack)
	assert.Less(t, ack, firstSend, "no pose before the subscriber is acknowledged")

	for ts := uint64(1); ts <= 3; ts++ {
		v, res := transport.ReceivePoseComponents(sub, false)
		require.Equal(t, transport.Success, res)
		assert.Equal(t, ts, v.Timestamp)
		assert.Equal(t, [3]float64{0, 0, 10}, v.Translation)
		norm := 0.0
		for _, c := range v.Object {
			norm += c * c
		}
		assert.InDelta(t, 1, norm, 1e-9)
	}
	msg, res := sub.Receive(false)
	assert.Equal(t, transport.Shutdown, res)
	assert.Equal(t, "vKTHXBAI", string(msg))
}

func TestServeInterruptedWhileWaiting(t *testing.T) {
	n := inproc.New()
	token := &shutdown.Token{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		token.Cancel()
	}()
	g := &generator{Object: quat.Number{Real: 1}, Sensor: quat.Number{Real: 1}, Step: time.Millisecond}
	sent, err := serve(n, 7402, 1, g, token, customlog.NewNopLogger())
	require.NoError(t, err)
	assert.Zero(t, sent)

	for _, e := range n.Events() {
		if e.Kind == inproc.EventSend {
			assert.NotEqual(t, wire.TagPoseComponents, e.Tag, "no pose before a subscriber synchronized")
		}
	}
}

func TestGeneratorSpins(t *testing.T) {
	g := &generator{Object: quat.Number{Real: 1}, Sensor: quat.Number{Real: 1}, Rate: r3.Vec{Y: 1}, Step: 10 * time.Millisecond}
	first := g.next(1)
	second := g.next(2)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, first.Object)
	assert.NotEqual(t, first.Object, second.Object)
	assert.Greater(t, second.Object[2], 0.0)
}

func TestGeneratorStopsOnToken(t *testing.T) {
	n := inproc.New()
	pub := transport.NewPublishSession(n, 7401, 0, nil)
	require.NoError(t, pub.Bind())
	require.NoError(t, pub.AwaitSubscribers(context.Background()))

	token := &shutdown.Token{}
	token.Cancel()
	g := &generator{Object: quat.Number{Real: 1}, Sensor: quat.Number{Real: 1}, Step: time.Millisecond}
	sent, err := g.run(pub, token)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
