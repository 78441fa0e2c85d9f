// Package stream provides the replay-of-latest broadcaster behind every
// change stream in the client: session updates, transport state, probe
// results and server availability.
package stream

import (
	"slices"
	"sync"
)

const defaultBuffer = 8

// Replay fans out values to channel subscribers and synchronous observers.
// Late subscribers immediately receive the most recent value.
type Replay[T any] struct {
	mu          sync.Mutex
	latest      T
	hasLatest   bool
	buffer      int
	nextID      int
	subscribers map[chan T]struct{}
	observers   map[int]func(T)
}

func NewReplay[T any]() *Replay[T] {
	return NewReplayBuffered[T](defaultBuffer)
}

// NewReplayBuffered sets the per-subscriber channel buffer.
func NewReplayBuffered[T any](buffer int) *Replay[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Replay[T]{
		buffer:      buffer,
		subscribers: make(map[chan T]struct{}),
		observers:   make(map[int]func(T)),
	}
}

// Publish records v as the latest value and delivers it before returning.
// Observers run inline, outside the lock, in registration order.
func (r *Replay[T]) Publish(v T) {
	r.mu.Lock()
	r.latest = v
	r.hasLatest = true
	for ch := range r.subscribers {
		deliver(ch, v)
	}
	observers := r.observerSnapshotLocked()
	r.mu.Unlock()

	for _, fn := range observers {
		fn(v)
	}
}

// Subscribe returns a channel primed with the latest value, if any.
// The cancel func closes the channel and may be called more than once.
func (r *Replay[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, r.buffer)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	if r.hasLatest {
		ch <- r.latest
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Observe registers fn to run synchronously on every Publish. fn is also
// called once with the latest value, if any, before Observe returns.
func (r *Replay[T]) Observe(fn func(T)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	latest, ok := r.latest, r.hasLatest
	r.mu.Unlock()

	if ok {
		fn(latest)
	}
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

func (r *Replay[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.hasLatest
}

// Close closes every subscriber channel and drops every observer.
func (r *Replay[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	clear(r.observers)
}

func (r *Replay[T]) observerSnapshotLocked() []func(T) {
	if len(r.observers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.observers[id])
	}
	return out
}

func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		// Full buffer: drop the oldest value so the subscriber converges on the latest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
