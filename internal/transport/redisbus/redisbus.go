// Package redisbus carries bus topics over Redis pub/sub channels.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quiz-sync/internal/transport"
)

const receivePoll = time.Second

var errClosed = errors.New("redisbus: connection closed")

// frame wraps every published body so a connection can skip its own messages;
// Redis delivers a publish to every subscriber, the publisher included.
type frame struct {
	Origin string          `json:"origin"`
	Body   json.RawMessage `json:"body"`
}

type Dialer struct {
	Client *redis.Client
}

func NewDialer(addr, password string, db int) Dialer {
	return Dialer{Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

// Dial checks the server is reachable and opens a pub/sub session.
func (d Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if err := d.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &conn{
		id:     uuid.NewString(),
		client: d.Client,
		ps:     d.Client.Subscribe(ctx),
		done:   make(chan struct{}),
	}, nil
}

type conn struct {
	id     string
	client *redis.Client
	ps     *redis.PubSub
	done   chan struct{}

	closeOnce sync.Once
}

func (c *conn) Subscribe(ctx context.Context, topic string) error {
	return c.ps.Subscribe(ctx, topic)
}

func (c *conn) Unsubscribe(ctx context.Context, topic string) error {
	return c.ps.Unsubscribe(ctx, topic)
}

func (c *conn) Publish(ctx context.Context, msg transport.Message) error {
	data, err := json.Marshal(frame{Origin: c.id, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("redisbus publish %s: %w", msg.Topic, err)
	}
	return c.client.Publish(ctx, msg.Topic, data).Err()
}

// Receive reads the next frame from a peer. Reads poll in receivePoll steps
// so Close and ctx are noticed; any other read error means the server link
// is gone and is returned as is.
func (c *conn) Receive(ctx context.Context) (transport.Message, error) {
	for {
		select {
		case <-c.done:
			return transport.Message{}, errClosed
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		default:
		}

		v, err := c.ps.ReceiveTimeout(ctx, receivePoll)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-c.done:
				return transport.Message{}, errClosed
			default:
			}
			if ctx.Err() != nil {
				return transport.Message{}, ctx.Err()
			}
			return transport.Message{}, fmt.Errorf("redisbus receive: %w", err)
		}

		m, ok := v.(*redis.Message)
		if !ok {
			// Subscription confirmations and pongs.
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(m.Payload), &f); err != nil || f.Body == nil {
			// Published by something other than a redisbus peer.
			return transport.Message{Topic: m.Channel, Body: []byte(m.Payload)}, nil
		}
		if f.Origin == c.id {
			continue
		}
		return transport.Message{Topic: m.Channel, Body: f.Body}, nil
	}
}

// Close ends the pub/sub session. The shared client stays open.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ps.Close()
	})
	return err
}
