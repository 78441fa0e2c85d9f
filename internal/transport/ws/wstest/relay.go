// Package wstest provides an in-process topic relay speaking the ws bus
// protocol. Tests and the local dev command use it in place of a real bus.
package wstest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-sync/internal/logging"
	"quiz-sync/internal/transport/ws"
)

type client struct {
	id     string
	send   chan ws.Frame
	topics map[string]struct{}
	sock   *websocket.Conn
}

// Relay fans published frames out to every other client subscribed to the topic.
type Relay struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    chan string
}

func NewRelay(log *zap.Logger) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     logging.OrNop(log).Named("relay"),
		clients: make(map[*client]struct{}),
		subs:    make(chan string, 64),
	}
}

// Subscriptions reports topics as clients subscribe to them.
func (r *Relay) Subscriptions() <-chan string {
	return r.subs
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sock, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer sock.Close()

	c := &client{
		id:     req.URL.Query().Get("clientId"),
		send:   make(chan ws.Frame, 16),
		topics: make(map[string]struct{}),
		sock:   sock,
	}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range c.send {
			if err := sock.WriteJSON(frame); err != nil {
				r.log.Debug("ws write error", zap.String("client", c.id), zap.Error(err))
				return
			}
		}
	}()

	for {
		var frame ws.Frame
		if err := sock.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Op {
		case ws.OpSubscribe:
			r.mu.Lock()
			c.topics[frame.Topic] = struct{}{}
			r.mu.Unlock()
			select {
			case r.subs <- frame.Topic:
			default:
			}
		case ws.OpUnsubscribe:
			r.mu.Lock()
			delete(c.topics, frame.Topic)
			r.mu.Unlock()
		case ws.OpPublish:
			r.fanOut(frame.Topic, frame.Body, c)
		default:
			r.log.Debug("unsupported op", zap.String("op", frame.Op))
		}
	}

	r.mu.Lock()
	delete(r.clients, c)
	close(c.send)
	r.mu.Unlock()
	<-writerDone
}

// Broadcast delivers body on topic to every subscribed client, as the server would.
func (r *Relay) Broadcast(topic string, body json.RawMessage) {
	r.fanOut(topic, body, nil)
}

func (r *Relay) fanOut(topic string, body json.RawMessage, from *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == from {
			continue
		}
		if _, ok := c.topics[topic]; !ok {
			continue
		}
		select {
		case c.send <- ws.Frame{Topic: topic, Body: body}:
		default:
			r.log.Warn("dropping frame for slow client", zap.String("client", c.id), zap.String("topic", topic))
		}
	}
}

// DropAll closes every client socket, simulating a bus outage.
func (r *Relay) DropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		_ = c.sock.Close()
	}
}

func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
