package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-sync/internal/transport"
	"quiz-sync/internal/transport/ws"
	"quiz-sync/internal/transport/ws/wstest"
)

func startRelay(t *testing.T) (*wstest.Relay, string) {
	t.Helper()
	relay := wstest.NewRelay(nil)
	server := httptest.NewServer(relay)
	t.Cleanup(server.Close)
	return relay, "ws" + strings.TrimPrefix(server.URL, "http")
}

func awaitSubscription(t *testing.T, relay *wstest.Relay, topic string) {
	t.Helper()
	for {
		select {
		case got := <-relay.Subscriptions():
			if got == topic {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("relay never saw subscription to %s", topic)
		}
	}
}

func TestPublishReachesOtherSubscriber(t *testing.T) {
	relay, url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := ws.Dialer{URL: url}.Dial(ctx)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := ws.Dialer{URL: url}.Dial(ctx)
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.Subscribe(ctx, "quiz.demo"))
	awaitSubscription(t, relay, "quiz.demo")

	require.NoError(t, alice.Publish(ctx, transport.Message{Topic: "quiz.demo", Body: []byte(`{"step":"START"}`)}))
	msg, err := bob.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "quiz.demo", msg.Topic)
	assert.JSONEq(t, `{"step":"START"}`, string(msg.Body))
}

func TestPublishRejectsNonJSONBody(t *testing.T) {
	_, url := startRelay(t)
	ctx := context.Background()
	conn, err := ws.Dialer{URL: url}.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, conn.Publish(ctx, transport.Message{Topic: "t", Body: []byte("nope")}))
}

func TestReceiveFailsWhenRelayDrops(t *testing.T) {
	relay, url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ws.Dialer{URL: url}.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Subscribe(ctx, "global"))
	awaitSubscription(t, relay, "global")

	relay.DropAll()
	_, err = conn.Receive(ctx)
	assert.Error(t, err)
}

func TestManagerOverWebsocket(t *testing.T) {
	relay, url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := transport.NewManager(ws.Dialer{URL: url}, nil)
	defer m.Close()
	require.NoError(t, m.Subscribe(ctx, "global"))
	require.NoError(t, m.Connect(ctx))
	awaitSubscription(t, relay, "global")

	relay.Broadcast("global", []byte(`{"step":"SET_ACTIVE","payload":{"quizName":"demo"}}`))
	select {
	case msg := <-m.Messages():
		assert.Equal(t, "global", msg.Topic)
	case <-ctx.Done():
		t.Fatalf("no message from relay")
	}
}
