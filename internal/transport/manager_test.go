package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-sync/internal/domain"
)

type fakeConn struct {
	mu         sync.Mutex
	subscribed []string
	published  []Message
	inbound    chan Message
	done       chan struct{}
	closeOnce  sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan Message, 8), done: make(chan struct{})}
}

func (c *fakeConn) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, topic string) error { return nil }

func (c *fakeConn) Publish(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		return Message{}, errors.New("connection closed")
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// kill simulates the remote end dropping the connection.
func (c *fakeConn) kill() { c.Close() }

func (c *fakeConn) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeProber struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func nextState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for state")
		return StateClosed
	}
}

func TestConnectEmitsConnectingThenOpen(t *testing.T) {
	m := NewManager(&fakeDialer{}, nil)
	states, cancel := m.States()
	defer cancel()

	require.Equal(t, StateClosed, nextState(t, states))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnecting, nextState(t, states))
	assert.Equal(t, StateOpen, nextState(t, states))
	assert.Equal(t, StateOpen, m.State())
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, nil)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Connect(ctx))
	assert.EqualValues(t, 1, dialer.dials.Load())
}

func TestDialFailureLeavesClosed(t *testing.T) {
	m := NewManager(&fakeDialer{err: errors.New("refused")}, nil)
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, m.State())
	assert.ErrorIs(t, m.Publish(context.Background(), Message{Topic: "t"}), domain.ErrNotConnected)
}

func TestTopicsSurviveReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, nil)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "global"))
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Subscribe(ctx, "quiz.demo"))
	assert.Equal(t, []string{"global", "quiz.demo"}, dialer.last().topics())

	states, cancel := m.States()
	defer cancel()
	nextState(t, states)
	dialer.last().kill()
	require.Equal(t, StateClosed, nextState(t, states))

	require.NoError(t, m.Connect(ctx))
	assert.Equal(t, []string{"global", "quiz.demo"}, dialer.last().topics())
}

func TestMessagesAreForwarded(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(dialer, nil)
	require.NoError(t, m.Connect(context.Background()))

	dialer.last().inbound <- Message{Topic: "global", Body: []byte(`{"step":"ADDED"}`)}
	select {
	case msg := <-m.Messages():
		assert.Equal(t, "global", msg.Topic)
	case <-time.After(time.Second):
		t.Fatalf("message not forwarded")
	}

	require.NoError(t, m.Publish(context.Background(), Message{Topic: "global", Body: []byte("{}")}))
	assert.Len(t, dialer.last().published, 1)
}

func TestOpenSchedulesExactlyOneProbe(t *testing.T) {
	prober := &fakeProber{}
	m := NewManager(&fakeDialer{}, prober, WithProbeDelay(10*time.Millisecond))
	probes, cancel := m.Probes()
	defer cancel()

	require.NoError(t, m.Connect(context.Background()))
	select {
	case res := <-probes:
		assert.True(t, res.OK)
	case <-time.After(time.Second):
		t.Fatalf("probe not run")
	}
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, prober.calls.Load())
	assert.True(t, m.Available())
}

func TestCloseCancelsScheduledProbe(t *testing.T) {
	prober := &fakeProber{}
	m := NewManager(&fakeDialer{}, prober, WithProbeDelay(30*time.Millisecond))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())

	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 0, prober.calls.Load())
	assert.Equal(t, StateClosed, m.State())
}

func TestProbeLatencyCoalesces(t *testing.T) {
	prober := &fakeProber{release: make(chan struct{})}
	base := time.Unix(1_700_000_000, 0)
	m := NewManager(&fakeDialer{}, prober, WithClock(func() time.Time { return base.Add(120 * time.Millisecond) }))

	done := make(chan bool)
	go func() { done <- m.ProbeLatency(context.Background(), base) }()
	require.Eventually(t, m.ProbePending, time.Second, time.Millisecond)

	assert.False(t, m.ProbeLatency(context.Background(), base))
	close(prober.release)
	assert.True(t, <-done)
	assert.EqualValues(t, 1, prober.calls.Load())
	assert.Equal(t, 120*time.Millisecond, m.RTT())
	assert.True(t, m.Available())
}

func TestProbeFailureMarksUnavailable(t *testing.T) {
	prober := &fakeProber{err: errors.New("503")}
	m := NewManager(&fakeDialer{}, prober)

	require.True(t, m.ProbeLatency(context.Background(), time.Now()))
	assert.False(t, m.Available())
	assert.False(t, m.ProbePending())
}
