// Package transport owns the single long-lived connection to the message
// bus. It reports the connection lifecycle as a replay stream and measures
// round-trip time with coalesced probes. It never retries: recovery policy
// belongs to whoever observes the state stream.
package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/stream"
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateConnecting:
		return "connecting"
	default:
		return "closed"
	}
}

// Message is one frame on one bus topic.
type Message struct {
	Topic string
	Body  []byte
}

// Conn is an established bus connection. Implementations must allow
// Publish/Subscribe to be called concurrently with a blocked Receive.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Prober issues the lightweight round-trip request used to measure latency.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeResult is published after every completed probe.
type ProbeResult struct {
	SentAt time.Time
	RTT    time.Duration
	OK     bool
	Err    error
}

const (
	DefaultProbeDelay   = 500 * time.Millisecond
	DefaultProbeTimeout = 5 * time.Second
	inboundBuffer       = 64
)

type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = logging.OrNop(log).Named("transport") }
}

// WithProbeDelay sets the delay between a transition to Open and the first probe.
func WithProbeDelay(d time.Duration) Option {
	return func(m *Manager) { m.probeDelay = d }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.probeTimeout = d }
}

// WithClock is used by tests for deterministic RTT samples.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager maintains exactly one logical bus connection.
type Manager struct {
	dialer       Dialer
	prober       Prober
	log          *zap.Logger
	probeDelay   time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	states  *stream.Replay[State]
	probes  *stream.Replay[ProbeResult]
	inbound chan Message

	// emitMu keeps state changes and their publication in the same order.
	emitMu sync.Mutex

	mu           sync.Mutex
	state        State
	conn         Conn
	gen          uint64
	readCancel   context.CancelFunc
	topics       []string
	probeTimer   *time.Timer
	probePending bool
	rtt          time.Duration
	available    bool
}

func NewManager(dialer Dialer, prober Prober, opts ...Option) *Manager {
	m := &Manager{
		dialer:       dialer,
		prober:       prober,
		log:          zap.NewNop(),
		probeDelay:   DefaultProbeDelay,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		states:       stream.NewReplay[State](),
		probes:       stream.NewReplay[ProbeResult](),
		inbound:      make(chan Message, inboundBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.states.Publish(StateClosed)
	return m
}

// Connect establishes the connection unless it is already connecting or open.
// A dial failure leaves the manager Closed and is returned; it is not retried.
func (m *Manager) Connect(ctx context.Context) error {
	m.emitMu.Lock()
	m.mu.Lock()
	if m.state != StateClosed {
		m.mu.Unlock()
		m.emitMu.Unlock()
		return nil
	}
	m.state = StateConnecting
	topics := slices.Clone(m.topics)
	m.mu.Unlock()
	m.states.Publish(StateConnecting)
	m.emitMu.Unlock()

	conn, err := m.dial(ctx, topics)
	if err != nil {
		m.log.Warn("bus connect failed", zap.Error(err))
		m.setState(StateClosed, nil)
		return fmt.Errorf("connect: %w", err)
	}

	m.emitMu.Lock()
	m.mu.Lock()
	if m.state != StateConnecting {
		// Closed while dialing.
		m.mu.Unlock()
		m.emitMu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.gen++
	gen := m.gen
	readCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.readCancel = cancel
	m.state = StateOpen
	m.scheduleProbeLocked()
	m.mu.Unlock()
	m.states.Publish(StateOpen)
	m.emitMu.Unlock()

	m.log.Info("bus connected", zap.Strings("topics", topics))
	go m.readLoop(readCtx, conn, gen)
	return nil
}

func (m *Manager) dial(ctx context.Context, topics []string) (Conn, error) {
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	for _, topic := range topics {
		if err := conn.Subscribe(ctx, topic); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return conn, nil
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			m.drop(gen, err)
			return
		}
		select {
		case m.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// drop closes connection generation gen after a read failure.
func (m *Manager) drop(gen uint64, cause error) {
	m.mu.Lock()
	current := gen == m.gen && m.state == StateOpen
	m.mu.Unlock()
	if !current {
		return
	}
	m.log.Warn("bus connection lost", zap.Error(cause))
	m.setState(StateClosed, func() bool { return gen == m.gen })
}

// Close tears the connection down and cancels the pending probe timer.
func (m *Manager) Close() error {
	m.setState(StateClosed, nil)
	return nil
}

// setState moves to s. Moving to Closed releases the connection and timers.
// guard, when set, is evaluated under the lock and can veto the change.
func (m *Manager) setState(s State, guard func() bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if guard != nil && !guard() {
		m.mu.Unlock()
		return
	}
	if m.state == s {
		m.mu.Unlock()
		return
	}
	var conn Conn
	if s == StateClosed {
		conn = m.conn
		m.conn = nil
		if m.readCancel != nil {
			m.readCancel()
			m.readCancel = nil
		}
		if m.probeTimer != nil {
			m.probeTimer.Stop()
			m.probeTimer = nil
		}
	}
	m.state = s
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug("closing bus connection", zap.Error(err))
		}
	}
	m.states.Publish(s)
}

// Messages is the inbound frame channel. It has a single consumer, the router.
func (m *Manager) Messages() <-chan Message {
	return m.inbound
}

// States subscribes to lifecycle transitions, starting with the current state.
func (m *Manager) States() (<-chan State, func()) {
	return m.states.Subscribe()
}

// Probes subscribes to probe results, starting with the latest one.
func (m *Manager) Probes() (<-chan ProbeResult, func()) {
	return m.probes.Subscribe()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe adds a topic. Topics survive reconnects.
func (m *Manager) Subscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	if slices.Contains(m.topics, topic) {
		m.mu.Unlock()
		return nil
	}
	m.topics = append(m.topics, topic)
	conn := m.openConnLocked()
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Subscribe(ctx, topic)
}

func (m *Manager) Unsubscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	idx := slices.Index(m.topics, topic)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	m.topics = slices.Delete(m.topics, idx, idx+1)
	conn := m.openConnLocked()
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Unsubscribe(ctx, topic)
}

func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.topics)
}

// Publish sends a frame on the open connection.
func (m *Manager) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	conn := m.openConnLocked()
	m.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	return conn.Publish(ctx, msg)
}

func (m *Manager) openConnLocked() Conn {
	if m.state != StateOpen {
		return nil
	}
	return m.conn
}

// ProbeLatency issues one probe and records its outcome. A call made while
// a probe is outstanding is coalesced: it returns false and does nothing.
func (m *Manager) ProbeLatency(ctx context.Context, sentAt time.Time) bool {
	if m.prober == nil {
		return false
	}
	m.mu.Lock()
	if m.probePending {
		m.mu.Unlock()
		return false
	}
	m.probePending = true
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(pctx)
	cancel()

	res := ProbeResult{SentAt: sentAt}
	m.mu.Lock()
	m.probePending = false
	if err != nil {
		m.available = false
		res.Err = err
	} else {
		m.rtt = m.now().Sub(sentAt)
		m.available = true
		res.OK = true
		res.RTT = m.rtt
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("latency probe failed", zap.Error(err))
	} else {
		m.log.Debug("latency probe", zap.Duration("rtt", res.RTT))
	}
	m.probes.Publish(res)
	return true
}

func (m *Manager) scheduleProbeLocked() {
	if m.prober == nil {
		return
	}
	if m.probeTimer != nil {
		m.probeTimer.Stop()
	}
	m.probeTimer = time.AfterFunc(m.probeDelay, func() {
		m.ProbeLatency(context.Background(), m.now())
	})
}

func (m *Manager) RTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtt
}

// Available reports the outcome of the last probe.
func (m *Manager) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *Manager) ProbePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probePending
}
