// Package ws is the websocket bus client. A single socket carries every
// topic; control frames subscribe and unsubscribe, and inbound frames are
// tagged with the topic they were published on.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-sync/internal/transport"
)

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"

	sendBuffer = 16
)

var errConnClosed = errors.New("ws: connection closed")

// Frame is the wire shape in both directions. Inbound frames carry no Op.
type Frame struct {
	Op    string          `json:"op,omitempty"`
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body,omitempty"`
}

type Dialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// ClientID identifies this process to the relay; generated when empty.
	ClientID string
}

func (d Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("ws url: %w", err)
	}
	clientID := d.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	sock, _, err := dialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", d.URL, err)
	}
	return newConn(sock), nil
}

type conn struct {
	sock    *websocket.Conn
	send    chan Frame
	inbound chan transport.Message
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newConn(sock *websocket.Conn) *conn {
	c := &conn{
		sock:    sock,
		send:    make(chan Frame, sendBuffer),
		inbound: make(chan transport.Message),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// writeLoop is the only goroutine writing to the socket.
func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			if err := c.sock.WriteJSON(frame); err != nil {
				c.fail(fmt.Errorf("ws write: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) readLoop() {
	for {
		var frame Frame
		if err := c.sock.ReadJSON(&frame); err != nil {
			c.fail(fmt.Errorf("ws read: %w", err))
			return
		}
		select {
		case c.inbound <- transport.Message{Topic: frame.Topic, Body: frame.Body}:
		case <-c.done:
			return
		}
	}
}

func (c *conn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.Close()
}

func (c *conn) closeErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err != nil {
		return c.err
	}
	return errConnClosed
}

func (c *conn) write(ctx context.Context, frame Frame) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) Subscribe(ctx context.Context, topic string) error {
	return c.write(ctx, Frame{Op: OpSubscribe, Topic: topic})
}

func (c *conn) Unsubscribe(ctx context.Context, topic string) error {
	return c.write(ctx, Frame{Op: OpUnsubscribe, Topic: topic})
}

func (c *conn) Publish(ctx context.Context, msg transport.Message) error {
	if !json.Valid(msg.Body) {
		return fmt.Errorf("ws publish %s: body is not json", msg.Topic)
	}
	return c.write(ctx, Frame{Op: OpPublish, Topic: msg.Topic, Body: msg.Body})
}

func (c *conn) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		return transport.Message{}, c.closeErr()
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.sock.Close()
	})
	return err
}
