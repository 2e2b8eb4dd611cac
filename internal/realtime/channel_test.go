package realtime_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/insync/internal/metrics"
	"github.com/nhle/insync/internal/realtime"
	"github.com/nhle/insync/tests/testutil"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeDialer struct {
	mu      sync.Mutex
	open    int
	maxOpen int
	failN   int
	urls    []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.urls = append(d.urls, url)
	if d.failN > 0 {
		d.failN--
		return nil, errors.New("connection refused")
	}
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	c := &fakeConn{d: d, frames: make(chan []byte, 16), closed: make(chan struct{})}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) stats() (open, maxOpen, dials int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open, d.maxOpen, len(d.urls)
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) url(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[i]
}

type fakeConn struct {
	d       *fakeDialer
	frames  chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte, _ time.Time) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.d.mu.Lock()
		c.d.open--
		c.d.mu.Unlock()
	})
	return nil
}

func newChannel(t *testing.T, d realtime.Dialer, opts ...realtime.Option) *realtime.Channel {
	t.Helper()
	opts = append([]realtime.Option{
		realtime.WithLogger(zaptest.NewLogger(t)),
		realtime.WithReconnectInterval(10 * time.Millisecond),
	}, opts...)
	ch := realtime.NewChannel("ws://example.test", d, opts...)
	t.Cleanup(ch.Close)
	return ch
}

func waitState(t *testing.T, ch *realtime.Channel, want realtime.State) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == want }, waitFor, tick,
		"channel never reached %s (now %s)", want, ch.State())
}

func TestChannel_AtMostOneConnectionAcrossIdentityChanges(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)

	ch.SetIdentity("u2")
	open, _, _ := d.stats()
	assert.LessOrEqual(t, open, 1)
	waitState(t, ch, realtime.Open)
	assert.Equal(t, "ws://example.test/ws/u2", d.url(1))

	ch.SetIdentity("")
	assert.Equal(t, realtime.Disconnected, ch.State())
	open, _, _ = d.stats()
	assert.Equal(t, 0, open)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)

	open, maxOpen, dials := d.stats()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, maxOpen)
	assert.Equal(t, 3, dials)
}

func TestChannel_SameIdentityReusesConnection(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)
	ch.SetIdentity("u1")

	_, _, dials := d.stats()
	assert.Equal(t, 1, dials)
	assert.Equal(t, "u1", ch.Identity())
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ch := newChannel(t, d, realtime.WithMetrics(m))

	var mu sync.Mutex
	var states []realtime.State
	ch.OnStateChange(func(s realtime.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)

	d.lastConn().Close()
	require.Eventually(t, func() bool {
		_, _, dials := d.stats()
		return dials == 2 && ch.State() == realtime.Open
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, realtime.ClosedError)
	assert.Equal(t, realtime.Open, states[len(states)-1])
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Reconnects))
}

func TestChannel_RetriesFailedDials(t *testing.T) {
	d := &fakeDialer{failN: 2}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)

	_, _, dials := d.stats()
	assert.Equal(t, 3, dials)
}

func TestChannel_SendIsNoOpUnlessOpen(t *testing.T) {
	d := &fakeDialer{failN: 1000}
	ch := newChannel(t, d, realtime.WithReconnectInterval(time.Hour))

	assert.False(t, ch.Send([]byte("ping")))

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.ClosedError)
	assert.NotPanics(t, func() { assert.False(t, ch.Send([]byte("ping"))) })
}

func TestChannel_SendWhenOpen(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)
	require.True(t, ch.Send([]byte("ping")))

	c := d.lastConn()
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("ping")}, c.written)
}

func TestChannel_LastMessageIsASingleSlot(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	_, ok := ch.Last()
	assert.False(t, ok)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)

	c := d.lastConn()
	c.frames <- []byte("a")
	c.frames <- []byte("b")

	require.Eventually(t, func() bool {
		m, ok := ch.Last()
		return ok && m.Seq == 2
	}, waitFor, tick)

	m, _ := ch.Last()
	assert.Equal(t, "b", string(m.Data))
	assert.Equal(t, "u1", m.UserID)

	// Two frames, one pending signal.
	<-ch.Updates()
	select {
	case <-ch.Updates():
		t.Fatal("expected a single pending update signal")
	default:
	}
}

func TestChannel_IdentityChangeClearsLastMessage(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)
	d.lastConn().frames <- []byte("for u1")
	require.Eventually(t, func() bool { _, ok := ch.Last(); return ok }, waitFor, tick)

	ch.SetIdentity("u2")
	_, ok := ch.Last()
	assert.False(t, ok)
}

func TestChannel_CloseIsFinal(t *testing.T) {
	d := &fakeDialer{}
	ch := newChannel(t, d)

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)
	ch.Close()

	assert.Equal(t, realtime.Disconnected, ch.State())
	ch.SetIdentity("u2")

	open, _, dials := d.stats()
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, dials)
}

func TestChannel_GorillaAgainstFakeServer(t *testing.T) {
	f := testutil.NewFakeAPI(t)
	ch := realtime.NewChannel("ws://"+f.Host(), realtime.WebsocketDialer{},
		realtime.WithLogger(zaptest.NewLogger(t)),
		realtime.WithReconnectInterval(20*time.Millisecond),
	)
	defer ch.Close()

	ch.SetIdentity("u1")
	waitState(t, ch, realtime.Open)
	require.Eventually(t, func() bool { return f.SocketCount("u1") == 1 }, waitFor, tick)

	require.NoError(t, f.Push("u1", []byte(`{"id":"n1"}`)))
	require.Eventually(t, func() bool {
		m, ok := ch.Last()
		return ok && string(m.Data) == `{"id":"n1"}`
	}, waitFor, tick)
	assert.True(t, ch.Send([]byte("ping")))

	f.DropSockets("u1")
	require.Eventually(t, func() bool {
		return f.SocketCount("u1") == 1 && ch.State() == realtime.Open
	}, waitFor, tick)

	ch.SetIdentity("")
	require.Eventually(t, func() bool { return f.SocketCount("u1") == 0 }, waitFor, tick)
}

func TestTransportError(t *testing.T) {
	err := &realtime.TransportError{URL: "ws://h/ws/u1", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, strings.Contains(err.Error(), "ws://h/ws/u1"))
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws/u1", realtime.EndpointURL("ws://localhost:8000", "u1"))
	assert.Equal(t, "wss://api.test/ws/a%20b", realtime.EndpointURL("wss://api.test/", "a b"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", realtime.Open.String())
	assert.Equal(t, "closed-error", realtime.ClosedError.String())
	assert.Equal(t, "unknown", realtime.State(42).String())
}
