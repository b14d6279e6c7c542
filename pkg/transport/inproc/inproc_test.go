package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WVU-ASEL/glidar/pkg/transport"
)

func TestBoundedQueueDropsNewWhenFull(t *testing.T) {
	n := New()
	pub, err := n.Publisher(5000)
	require.NoError(t, err)
	sub, err := n.Subscriber("localhost", 5000, transport.SubscriberOptions{HighWaterMark: 2})
	require.NoError(t, err)

	for _, m := range []string{"c1", "c2", "c3"} {
		require.NoError(t, pub.Send([]byte(m)))
	}

	m, err := sub.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, "c1", string(m))
	m, err = sub.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, "c2", string(m))
	_, err = sub.Recv(false)
	assert.ErrorIs(t, err, transport.ErrWouldBlock)

	var drops int
	for _, e := range n.Events() {
		if e.Kind == EventDrop {
			drops++
		}
	}
	assert.Equal(t, 1, drops)
}

func TestLatestHolderKeepsNewest(t *testing.T) {
	n := New()
	pub, err := n.Publisher(5000)
	require.NoError(t, err)
	sub, err := n.Subscriber("", 5000, transport.SubscriberOptions{})
	require.NoError(t, err)

	_, err = sub.Recv(false)
	assert.ErrorIs(t, err, transport.ErrWouldBlock)

	for _, m := range []string{"c1", "c2", "c3"} {
		require.NoError(t, pub.Send([]byte(m)))
	}
	m, err := sub.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, "c3", string(m))

	// consumed on receive
	_, err = sub.Recv(false)
	assert.ErrorIs(t, err, transport.ErrWouldBlock)
}

func TestDrainReturnsNewest(t *testing.T) {
	n := New()
	pub, _ := n.Publisher(5000)
	sub, _ := n.Subscriber("", 5000, transport.SubscriberOptions{HighWaterMark: 10})

	_, err := sub.Drain()
	assert.ErrorIs(t, err, transport.ErrWouldBlock)

	for _, m := range []string{"v1", "v2", "v3"} {
		require.NoError(t, pub.Send([]byte(m)))
	}
	m, err := sub.Drain()
	require.NoError(t, err)
	assert.Equal(t, "v3", string(m))
	_, err = sub.Recv(false)
	assert.ErrorIs(t, err, transport.ErrWouldBlock)
}

func TestFilterByPrefix(t *testing.T) {
	n := New()
	pub, _ := n.Publisher(5000)
	clouds, _ := n.Subscriber("", 5000, transport.SubscriberOptions{Filter: []byte("c"), HighWaterMark: 4})
	all, _ := n.Subscriber("", 5000, transport.SubscriberOptions{HighWaterMark: 4})

	require.NoError(t, pub.Send([]byte("pose")))
	require.NoError(t, pub.Send([]byte("cloud")))

	m, err := clouds.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, "cloud", string(m))
	_, err = clouds.Recv(false)
	assert.ErrorIs(t, err, transport.ErrWouldBlock)

	m, _ = all.Recv(false)
	assert.Equal(t, "pose", string(m))
}

func TestBlockingRecvWakesOnSend(t *testing.T) {
	for _, hwm := range []int{0, 3} {
		n := New()
		pub, _ := n.Publisher(5000)
		sub, _ := n.Subscriber("", 5000, transport.SubscriberOptions{HighWaterMark: hwm})

		got := make(chan string, 1)
		go func() {
			m, err := sub.Recv(true)
			if err == nil {
				got <- string(m)
			}
		}()
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, pub.Send([]byte("c")))

		select {
		case m := <-got:
			assert.Equal(t, "c", m)
		case <-time.After(time.Second):
			t.Fatalf("hwm=%d: blocking receive did not wake", hwm)
		}
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	for _, hwm := range []int{0, 3} {
		n := New()
		sub, _ := n.Subscriber("", 5000, transport.SubscriberOptions{HighWaterMark: hwm})

		errc := make(chan error, 1)
		go func() {
			_, err := sub.Recv(true)
			errc <- err
		}()
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, sub.Close())

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, transport.ErrClosed)
		case <-time.After(time.Second):
			t.Fatalf("hwm=%d: close did not unblock", hwm)
		}
	}
}

func TestBindTwiceFails(t *testing.T) {
	n := New()
	pub, err := n.Publisher(5000)
	require.NoError(t, err)
	_, err = n.Publisher(5000)
	assert.ErrorIs(t, err, transport.ErrAddressInUse)

	require.NoError(t, pub.Close())
	_, err = n.Publisher(5000)
	assert.NoError(t, err)

	_, err = n.ControlServer(5001)
	require.NoError(t, err)
	_, err = n.ControlServer(5001)
	assert.ErrorIs(t, err, transport.ErrAddressInUse)
}

func TestControlRendezvous(t *testing.T) {
	n := New()
	srv, err := n.ControlServer(5001)
	require.NoError(t, err)
	cl, err := n.ControlClient("", 5001)
	require.NoError(t, err)

	assert.ErrorIs(t, srv.Ack(), transport.ErrNoRequest)
	assert.ErrorIs(t, cl.AwaitAck(context.Background()), transport.ErrNoRequest)

	require.NoError(t, cl.Request())
	assert.ErrorIs(t, cl.Request(), transport.ErrState)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.RecvRequest(ctx))
	require.NoError(t, srv.Ack())
	require.NoError(t, cl.AwaitAck(ctx))
}

func TestRecvRequestHonoursContext(t *testing.T) {
	n := New()
	srv, _ := n.ControlServer(5001)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, srv.RecvRequest(ctx), context.Canceled)
}

func TestEventLogIsBounded(t *testing.T) {
	n := New()
	pub, _ := n.Publisher(5000)
	for i := 0; i < MaxEvents+10; i++ {
		require.NoError(t, pub.Send([]byte("c")))
	}
	events := n.Events()
	assert.Len(t, events, MaxEvents)
	assert.Equal(t, n.Clock(), events[len(events)-1].Clock)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Clock+1, events[i].Clock)
	}
}
