package app_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"quiz-sync/internal/api"
	"quiz-sync/internal/api/apitest"
	"quiz-sync/internal/app"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/router"
)

type fixture struct {
	server   *apitest.Server
	api      *api.Client
	store    *memory.Store
	resume   *memory.ResumeStore
	sessions *app.SessionStore
	roster   *app.Roster
	router   *router.Router
	engine   *app.Engine
}

func newFixture(t *testing.T, opts ...app.EngineOption) *fixture {
	t.Helper()
	server := apitest.NewServer()
	t.Cleanup(server.Close)

	f := &fixture{
		server: server,
		api:    api.New(server.URL, 5*time.Second, zap.NewNop()),
		store:  memory.NewStore(),
		resume: memory.NewResumeStore(),
		router: router.New(nil, zap.NewNop()),
	}
	f.sessions = app.NewSessionStore(f.store, f.resume, f.api)
	f.roster = app.NewRoster(f.sessions, f.api, f.resume)
	f.engine = app.NewEngine(f.router, f.sessions, f.roster, f.api, f.resume, opts...)
	return f
}

func sampleSession(name string) domain.Session {
	return domain.Session{
		Name:                 name,
		State:                domain.StateActive,
		CurrentQuestionIndex: domain.NotStarted,
		Questions: []domain.Question{
			{Kind: domain.KindSingleChoice, Text: "q1", Answers: []domain.AnswerOption{{Text: "a", IsCorrect: true}}},
			{Kind: domain.KindRangedNumber, Text: "q2", Range: &domain.NumberRange{Min: 1, Max: 10, Correct: 5}},
			{Kind: domain.KindFreeText, Text: "q3", FreeText: &domain.FreeTextConfig{}},
		},
		Config: domain.SessionConfig{
			Theme: "material",
			Nicks: domain.NickConfig{SelectedNicks: []string{}, MemberGroups: []string{"Default"}},
		},
	}
}

// loadAsAttendee makes name known to the API only.
func (f *fixture) loadAsAttendee(t *testing.T, name string) {
	t.Helper()
	f.server.PutSession(sampleSession(name))
	if err := f.sessions.LoadForPlay(context.Background(), name); err != nil {
		t.Fatalf("load for play: %v", err)
	}
	if role := f.sessions.Role(); role != domain.RoleAttendee {
		t.Fatalf("expected attendee, got %v", role)
	}
}

// loadAsOwner stores name locally and on the API.
func (f *fixture) loadAsOwner(t *testing.T, name string) {
	t.Helper()
	sess := sampleSession(name)
	if err := app.PutJSON(context.Background(), f.store, app.TableSessions, name, sess); err != nil {
		t.Fatalf("put local session: %v", err)
	}
	f.server.PutSession(sess)
	if err := f.sessions.LoadForPlay(context.Background(), name); err != nil {
		t.Fatalf("load for play: %v", err)
	}
	if role := f.sessions.Role(); role != domain.RoleOwner {
		t.Fatalf("expected owner, got %v", role)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func resumeValue(t *testing.T, store app.ResumeStore, key string) (string, bool) {
	t.Helper()
	v, err := store.Get(context.Background(), key)
	if err != nil {
		return "", false
	}
	return v, true
}
