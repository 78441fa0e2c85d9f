package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"quiz-sync/internal/api"
	"quiz-sync/internal/api/apitest"
	"quiz-sync/internal/app"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
	pgstore "quiz-sync/internal/infra/postgres"
	infraredis "quiz-sync/internal/infra/redis"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/router"
	"quiz-sync/internal/transport"
	"quiz-sync/internal/transport/redisbus"
)

func TestOwnerSessionOnPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	applied, err := pgstore.Migrate(ctx, pgURL)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected one migration, got %v", applied)
	}
	if again, err := pgstore.Migrate(ctx, pgURL); err != nil || len(again) != 0 {
		t.Fatalf("expected migrations to be idempotent, got %v, %v", again, err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := memory.NewCachedStore(pgstore.NewStore(pool), time.Minute)

	if _, err := store.Get(ctx, app.TableSessions, "quiz-1"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := app.PutJSON(ctx, store, app.TableSessions, "quiz-1", sampleSession("quiz-1")); err != nil {
		t.Fatalf("put session: %v", err)
	}

	server := apitest.NewServer()
	defer server.Close()
	server.SetDown(true)
	client := api.New(server.URL, 5*time.Second, zap.NewNop())

	sessions := app.NewSessionStore(store, memory.NewResumeStore(), client)
	if err := sessions.LoadForPlay(ctx, "quiz-1"); err != nil {
		t.Fatalf("load for play: %v", err)
	}
	if !sessions.IsOwner() || len(sessions.Current().Questions) != 1 {
		t.Fatalf("expected owned session from postgres, got %+v", sessions.Current())
	}

	if err := sessions.SetCurrentQuestionIndex(0); err != nil {
		t.Fatalf("set index: %v", err)
	}
	if err := sessions.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	raw, err := pgstore.NewStore(pool).Get(ctx, app.TableSessions, "quiz-1")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(raw), `"currentQuestionIndex": 0`) && !strings.Contains(string(raw), `"currentQuestionIndex":0`) {
		t.Fatalf("expected persisted index, got %s", raw)
	}
}

func TestAttendeeFollowsRedisBus(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	server := apitest.NewServer()
	defer server.Close()
	server.PutSession(sampleSession("quiz-1"))
	apiClient := api.New(server.URL, 5*time.Second, zap.NewNop())

	topic := protocol.SessionTopic("quiz.", "quiz-1")
	attendeeBus := connect(t, ctx, client, topic, 1)
	ownerBus := connect(t, ctx, client, topic, 2)

	resume := infraredis.NewResumeStore(client, "attendee", time.Hour)
	sessions := app.NewSessionStore(infraredis.NewStore(client), resume, apiClient)
	roster := app.NewRoster(sessions, apiClient, resume)
	rt := router.New(attendeeBus, zap.NewNop())
	engine := app.NewEngine(rt, sessions, roster, apiClient, resume)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = rt.Run(runCtx, attendeeBus.Messages()) }()

	if err := sessions.LoadForPlay(ctx, "quiz-1"); err != nil {
		t.Fatalf("load for play: %v", err)
	}
	if name, err := resume.Get(ctx, app.KeySessionName); err != nil || name != "quiz-1" {
		t.Fatalf("expected resume key in redis, got %q, %v", name, err)
	}
	engine.Bind()

	owner := router.New(ownerBus, zap.NewNop())
	players := protocol.AllPlayers{Members: []domain.Member{{Name: "Ada"}, {Name: "Bob"}}}
	if err := owner.Publish(ctx, topic, players.Step(), players, false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := owner.Publish(ctx, topic, protocol.StepStart, protocol.Start{CurrentStartTimestamp: 1}, false); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case intent := <-engine.Intents():
		if intent.Kind != app.IntentVoting {
			t.Fatalf("expected voting intent, got %v", intent.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the start frame")
	}
	if roster.Len() != 2 {
		t.Fatalf("expected roster from the bus, got %+v", roster.Members())
	}
}

// connect opens a bus connection and waits until topic has want subscribers.
func connect(t *testing.T, ctx context.Context, client *goredis.Client, topic string, want int64) *transport.Manager {
	t.Helper()
	m := transport.NewManager(redisbus.Dialer{Client: client}, nil)
	if err := m.Subscribe(ctx, topic); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := client.PubSubNumSub(ctx, topic).Result()
		if err == nil && n[topic] >= want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscription to %s never registered", topic)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return m
}

func sampleSession(name string) domain.Session {
	return domain.Session{
		Name:                 name,
		State:                domain.StateActive,
		CurrentQuestionIndex: domain.NotStarted,
		Questions: []domain.Question{
			{Kind: domain.KindSingleChoice, Text: "What is 2 + 2?", Answers: []domain.AnswerOption{
				{Text: "3"}, {Text: "4", IsCorrect: true}, {Text: "5"},
			}},
		},
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
