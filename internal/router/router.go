// Package router demultiplexes inbound bus frames into typed protocol events
// and fans them out to handlers registered per step.
package router

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-sync/internal/logging"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/transport"
)

// Frame is what a handler receives for one matching inbound frame.
type Frame struct {
	Topic    string
	Envelope protocol.Envelope
	Event    protocol.Event
}

type Handler func(Frame)

// Publisher forwards encoded frames to the bus. transport.Manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg transport.Message) error
}

type entry struct {
	id string
	fn Handler
}

type Router struct {
	pub    Publisher
	log    *zap.Logger
	active *ActiveSessions

	mu       sync.Mutex
	handlers map[protocol.Step][]entry
	steps    map[string]protocol.Step
}

func New(pub Publisher, log *zap.Logger) *Router {
	return &Router{
		pub:      pub,
		log:      logging.OrNop(log).Named("router"),
		active:   NewActiveSessions(),
		handlers: make(map[protocol.Step][]entry),
		steps:    make(map[string]protocol.Step),
	}
}

// Active is the process-wide index of joinable sessions.
func (r *Router) Active() *ActiveSessions {
	return r.active
}

// Subscribe registers fn for step. Handlers for the same step run in registration order.
func (r *Router) Subscribe(step protocol.Step, fn Handler) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[step] = append(r.handlers[step], entry{id: id, fn: fn})
	r.steps[id] = step
	return id
}

// Unsubscribe removes exactly one handler. Unknown ids are ignored.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	step, ok := r.steps[id]
	if !ok {
		return
	}
	delete(r.steps, id)
	list := r.handlers[step]
	idx := slices.IndexFunc(list, func(e entry) bool { return e.id == id })
	if idx >= 0 {
		r.handlers[step] = slices.Delete(slices.Clone(list), idx, idx+1)
	}
	if len(r.handlers[step]) == 0 {
		delete(r.handlers, step)
	}
}

// Handlers reports how many handlers are registered for step.
func (r *Router) Handlers(step protocol.Step) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[step])
}

// Run dispatches inbound messages until ctx ends or msgs is closed.
func (r *Router) Run(ctx context.Context, msgs <-chan transport.Message) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.Dispatch(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispatch decodes one frame and delivers it. Malformed frames are logged and dropped.
func (r *Router) Dispatch(msg transport.Message) {
	env, ev, err := protocol.Decode(msg.Body)
	if err != nil {
		r.log.Warn("dropping malformed frame", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	r.deliver(Frame{Topic: msg.Topic, Envelope: env, Event: ev})
}

func (r *Router) deliver(f Frame) {
	switch ev := f.Event.(type) {
	case protocol.SetActive:
		r.active.Add(ev.QuizName)
		return
	case protocol.SetInactive:
		r.active.Remove(ev.QuizName)
		return
	}

	r.mu.Lock()
	list := r.handlers[f.Envelope.Step]
	r.mu.Unlock()

	// list is never mutated in place, so it is safe to range without the lock.
	for _, e := range list {
		r.invoke(e, f)
	}
}

func (r *Router) invoke(e entry, f Frame) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panicked",
				zap.String("step", string(f.Envelope.Step)),
				zap.String("subscription", e.id),
				zap.Any("panic", p))
		}
	}()
	e.fn(f)
}

// Publish delivers a frame to local subscribers and, unless localOnly, to the bus.
func (r *Router) Publish(ctx context.Context, topic string, step protocol.Step, payload any, localOnly bool) error {
	body, err := protocol.Encode(step, protocol.StatusSuccess, payload)
	if err != nil {
		return err
	}
	msg := transport.Message{Topic: topic, Body: body}
	r.Dispatch(msg)
	if localOnly {
		return nil
	}
	if r.pub == nil {
		return fmt.Errorf("publish %s: no transport", step)
	}
	if err := r.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", step, err)
	}
	return nil
}
