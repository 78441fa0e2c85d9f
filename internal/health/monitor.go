// Package health turns transport state and latency probes into the
// availability and connection-quality signals the presentation layer reads.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/stream"
	"quiz-sync/internal/transport"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Source is the part of transport.Manager the monitor observes.
type Source interface {
	States() (<-chan transport.State, func())
	Probes() (<-chan transport.ProbeResult, func())
	ProbeLatency(ctx context.Context, sentAt time.Time) bool
}

type Option func(*Monitor)

func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = logging.OrNop(log).Named("health") }
}

// WithInterval probes periodically while the transport is open. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor runs the Unknown -> Available -> Unavailable -> Unknown machine:
// a successful probe makes the server Available, a failed probe or a dropped
// transport makes it Unavailable, and reopening the transport resets to Unknown.
type Monitor struct {
	source   Source
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	availability *stream.Replay[Status]

	mu       sync.Mutex
	status   Status
	open     bool
	seenOpen bool
	rtt      time.Duration
	quality  domain.Quality
}

func NewMonitor(source Source, opts ...Option) *Monitor {
	m := &Monitor{
		source:       source,
		log:          zap.NewNop(),
		now:          time.Now,
		availability: stream.NewReplay[Status](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.availability.Publish(StatusUnknown)
	return m
}

// Run applies transport states and probe results until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	states, cancelStates := m.source.States()
	defer cancelStates()
	probes, cancelProbes := m.source.Probes()
	defer cancelProbes()

	var tick <-chan time.Time
	if m.interval > 0 {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return nil
			}
			m.applyState(s)
		case res, ok := <-probes:
			if !ok {
				return nil
			}
			m.applyProbe(res)
		case <-tick:
			if m.isOpen() {
				go m.Probe(ctx)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Probe requests one latency probe. It reports false when one is already pending.
func (m *Monitor) Probe(ctx context.Context) bool {
	return m.source.ProbeLatency(ctx, m.now())
}

func (m *Monitor) applyState(s transport.State) {
	m.mu.Lock()
	switch s {
	case transport.StateOpen:
		m.open = true
		m.seenOpen = true
		m.status = StatusUnknown
	case transport.StateClosed:
		m.open = false
		if !m.seenOpen {
			m.mu.Unlock()
			return
		}
		m.status = StatusUnavailable
	default:
		m.mu.Unlock()
		return
	}
	status := m.status
	m.mu.Unlock()

	m.log.Debug("transport state", zap.Stringer("state", s), zap.Stringer("status", status))
	m.availability.Publish(status)
}

// applyProbe records a probe outcome. A success that lands while the
// transport is closed is stale and cannot end an outage; only a new Open can.
func (m *Monitor) applyProbe(res transport.ProbeResult) {
	m.mu.Lock()
	if res.OK && !m.open {
		m.mu.Unlock()
		m.log.Debug("ignoring probe result while transport is closed", zap.Duration("rtt", res.RTT))
		return
	}
	if res.OK {
		m.status = StatusAvailable
		m.rtt = res.RTT
		m.quality = domain.ClassifyRTT(res.RTT)
	} else {
		m.status = StatusUnavailable
	}
	status, quality := m.status, m.quality
	m.mu.Unlock()

	if res.OK {
		m.log.Debug("server available", zap.Duration("rtt", res.RTT), zap.Stringer("quality", quality))
	} else {
		m.log.Warn("server unavailable", zap.Error(res.Err))
	}
	m.availability.Publish(status)
}

// Availability streams the status after every transition, starting with the current one.
func (m *Monitor) Availability() (<-chan Status, func()) {
	return m.availability.Subscribe()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ServerAvailable is optimistic while a fresh connection awaits its first probe.
func (m *Monitor) ServerAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusAvailable || (m.status == StatusUnknown && m.open)
}

// RTT is the last successful sample.
func (m *Monitor) RTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtt
}

func (m *Monitor) Quality() domain.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

func (m *Monitor) LowSpeed() bool {
	return m.Quality() == domain.QualityLow
}

func (m *Monitor) MediumSpeed() bool {
	return m.Quality() == domain.QualityMedium
}

func (m *Monitor) isOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}
