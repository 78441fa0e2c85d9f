package health

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
	"quiz-sync/internal/stream"
	"quiz-sync/internal/transport"
)

type fakeSource struct {
	states *stream.Replay[transport.State]
	probes *stream.Replay[transport.ProbeResult]

	mu     sync.Mutex
	sentAt []time.Time
}

func newFakeSource() *fakeSource {
	s := &fakeSource{
		states: stream.NewReplay[transport.State](),
		probes: stream.NewReplay[transport.ProbeResult](),
	}
	s.states.Publish(transport.StateClosed)
	return s
}

func (s *fakeSource) States() (<-chan transport.State, func()) { return s.states.Subscribe() }

func (s *fakeSource) Probes() (<-chan transport.ProbeResult, func()) { return s.probes.Subscribe() }

func (s *fakeSource) ProbeLatency(_ context.Context, sentAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentAt = append(s.sentAt, sentAt)
	return true
}

func (s *fakeSource) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sentAt)
}

type fakePrompter struct {
	shown     atomic.Int32
	dismissed atomic.Int32
}

func (p *fakePrompter) Show()    { p.shown.Add(1) }
func (p *fakePrompter) Dismiss() { p.dismissed.Add(1) }

func runMonitor(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitStatus(t *testing.T, m *Monitor, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, time.Second, 5*time.Millisecond, "status %v", want)
}

func TestMonitorStartsUnknown(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src)
	runMonitor(t, m)

	// The initial Closed state is not an outage.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusUnknown, m.Status())
	assert.False(t, m.ServerAvailable())

	src.states.Publish(transport.StateConnecting)
	src.states.Publish(transport.StateOpen)
	require.Eventually(t, m.ServerAvailable, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusUnknown, m.Status())
}

func TestMonitorClassifiesProbes(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src)
	runMonitor(t, m)
	src.states.Publish(transport.StateOpen)
	require.Eventually(t, m.ServerAvailable, time.Second, 5*time.Millisecond)

	src.probes.Publish(transport.ProbeResult{OK: true, RTT: 900 * time.Millisecond})
	waitStatus(t, m, StatusAvailable)
	assert.True(t, m.LowSpeed())
	assert.Equal(t, 900*time.Millisecond, m.RTT())

	src.probes.Publish(transport.ProbeResult{OK: true, RTT: 400 * time.Millisecond})
	require.Eventually(t, m.MediumSpeed, time.Second, 5*time.Millisecond)
	assert.False(t, m.LowSpeed())

	src.probes.Publish(transport.ProbeResult{OK: true, RTT: 100 * time.Millisecond})
	require.Eventually(t, func() bool { return m.Quality() == domain.QualityNormal }, time.Second, 5*time.Millisecond)

	src.probes.Publish(transport.ProbeResult{Err: errors.New("timeout")})
	waitStatus(t, m, StatusUnavailable)
	assert.False(t, m.ServerAvailable())
	assert.Equal(t, 100*time.Millisecond, m.RTT(), "failures keep the last sample")
}

func TestOutagePromptsOnce(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src)
	prompter := &fakePrompter{}
	gate := NewRecoveryGate(prompter, nil)

	statuses, cancel := m.Availability()
	ctx, stop := context.WithCancel(context.Background())
	gateDone := make(chan struct{})
	go func() {
		defer close(gateDone)
		_ = gate.Run(ctx, statuses)
	}()
	t.Cleanup(func() {
		stop()
		<-gateDone
		cancel()
	})
	runMonitor(t, m)

	src.states.Publish(transport.StateOpen)
	require.Eventually(t, m.ServerAvailable, time.Second, 5*time.Millisecond)
	src.probes.Publish(transport.ProbeResult{OK: true, RTT: 50 * time.Millisecond})
	waitStatus(t, m, StatusAvailable)

	src.states.Publish(transport.StateClosed)
	src.states.Publish(transport.StateConnecting)
	src.states.Publish(transport.StateClosed)
	waitStatus(t, m, StatusUnavailable)
	require.Eventually(t, gate.Prompting, time.Second, 5*time.Millisecond)

	src.states.Publish(transport.StateOpen)
	require.Eventually(t, m.ServerAvailable, time.Second, 5*time.Millisecond)
	assert.True(t, gate.Prompting(), "reconnecting alone does not end the outage")
	src.probes.Publish(transport.ProbeResult{OK: true, RTT: 50 * time.Millisecond})
	require.Eventually(t, func() bool { return prompter.dismissed.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), prompter.shown.Load())
	assert.False(t, gate.Prompting())
}

func TestLateProbeDoesNotEndOutage(t *testing.T) {
	m := NewMonitor(newFakeSource())
	statuses, cancel := m.Availability()
	defer cancel()

	m.applyState(transport.StateOpen)
	m.applyProbe(transport.ProbeResult{OK: true, RTT: 50 * time.Millisecond})
	m.applyState(transport.StateClosed)
	require.Equal(t, StatusUnavailable, m.Status())
	for len(statuses) > 0 {
		<-statuses
	}

	m.applyProbe(transport.ProbeResult{OK: true, RTT: 10 * time.Millisecond})
	assert.Equal(t, StatusUnavailable, m.Status())
	assert.Equal(t, 50*time.Millisecond, m.RTT())
	assert.Empty(t, statuses, "an ignored probe publishes nothing")

	m.applyState(transport.StateOpen)
	m.applyProbe(transport.ProbeResult{OK: true, RTT: 10 * time.Millisecond})
	assert.Equal(t, StatusAvailable, m.Status())
}

func TestGateRespectsResolvedPrompt(t *testing.T) {
	prompter := &fakePrompter{}
	gate := NewRecoveryGate(prompter, nil)

	gate.Apply(StatusUnavailable)
	gate.Resolved()
	gate.Apply(StatusUnavailable)
	gate.Apply(StatusUnknown)
	assert.Equal(t, int32(1), prompter.shown.Load())

	gate.Apply(StatusAvailable)
	assert.Equal(t, int32(0), prompter.dismissed.Load(), "a resolved prompt needs no dismissal")

	gate.Apply(StatusUnavailable)
	assert.Equal(t, int32(2), prompter.shown.Load(), "a new outage prompts again")
	assert.True(t, gate.Prompting())
}

func TestProbeUsesClock(t *testing.T) {
	src := newFakeSource()
	at := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	m := NewMonitor(src, WithClock(func() time.Time { return at }))

	assert.True(t, m.Probe(context.Background()))
	require.Equal(t, 1, src.probeCount())
	assert.Equal(t, at, src.sentAt[0])
}

func TestIntervalProbesOnlyWhileOpen(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, WithInterval(10*time.Millisecond))
	runMonitor(t, m)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, src.probeCount())

	src.states.Publish(transport.StateOpen)
	require.Eventually(t, func() bool { return src.probeCount() >= 2 }, time.Second, 5*time.Millisecond)
}
