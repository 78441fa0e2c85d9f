package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/protocol"
	"quiz-sync/internal/router"
)

// Bus is the subscription side of the message router.
type Bus interface {
	Subscribe(step protocol.Step, fn router.Handler) string
	Unsubscribe(id string)
}

type IntentKind int

const (
	IntentClosed IntentKind = iota + 1
	IntentVoting
	IntentReadingConfirmation
	IntentResults
	IntentKicked
)

func (k IntentKind) String() string {
	switch k {
	case IntentClosed:
		return "closed"
	case IntentVoting:
		return "voting"
	case IntentReadingConfirmation:
		return "reading-confirmation"
	case IntentResults:
		return "results"
	case IntentKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Intent tells the presentation layer where the participant should go next.
type Intent struct {
	Kind    IntentKind
	Session string
}

type Features struct {
	ReadingConfirmation bool
	ConfidenceSlider    bool
}

const intentBuffer = 16

type EngineOption func(*Engine)

func WithEngineLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = logging.OrNop(log).Named("engine") }
}

func WithFeatures(f Features) EngineOption {
	return func(e *Engine) { e.features = f }
}

// Engine wires protocol events into the session and roster stores for the
// loaded session and role, and carries out owner/attendee actions.
type Engine struct {
	bus      Bus
	sessions *SessionStore
	roster   *Roster
	api      SessionAPI
	resume   ResumeStore
	log      *zap.Logger
	features Features

	intents chan Intent
	bg      sync.WaitGroup

	mu       sync.Mutex
	subs     []string
	canStart bool
}

func NewEngine(bus Bus, sessions *SessionStore, roster *Roster, api SessionAPI, resume ResumeStore, opts ...EngineOption) *Engine {
	e := &Engine{
		bus:      bus,
		sessions: sessions,
		roster:   roster,
		api:      api,
		resume:   resume,
		log:      zap.NewNop(),
		features: Features{ReadingConfirmation: true, ConfidenceSlider: true},
		intents:  make(chan Intent, intentBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Intents delivers navigation intents raised by incoming events.
func (e *Engine) Intents() <-chan Intent {
	return e.intents
}

// CanStart reports whether the owner has participants to start with.
func (e *Engine) CanStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canStart
}

// Bind registers the handlers for the current role, replacing earlier ones.
func (e *Engine) Bind() {
	e.Unbind()

	e.on(protocol.StepAllPlayers, e.handleAllPlayers)
	e.on(protocol.StepAdded, e.handleAdded)
	e.on(protocol.StepRemoved, e.handleRemoved)
	e.on(protocol.StepNextQuestion, e.handleNextQuestion)
	e.on(protocol.StepStart, e.handleStart)
	e.on(protocol.StepUpdatedResponse, e.handleUpdatedResponse)
	e.on(protocol.StepReset, e.handleReset)
	e.on(protocol.StepClosed, e.handleClosed)

	switch e.sessions.Role() {
	case domain.RoleOwner:
		for _, step := range []protocol.Step{protocol.StepAllPlayers, protocol.StepAdded, protocol.StepRemoved} {
			e.on(step, func(router.Frame) { e.refreshCanStart() })
		}
		e.refreshCanStart()
	case domain.RoleAttendee:
		e.on(protocol.StepStart, func(router.Frame) { e.emit(IntentVoting) })
		e.on(protocol.StepStop, func(router.Frame) { e.emit(IntentResults) })
		e.on(protocol.StepUpdatedSettings, e.handleUpdatedSettings)
		e.on(protocol.StepReadingConfirmationRequested, e.handleReadingConfirmation)
		e.on(protocol.StepRemoved, e.handleKicked)
	}
	e.log.Debug("handlers bound", zap.Stringer("role", e.sessions.Role()), zap.Int("subscriptions", e.subscriptions()))
}

// Unbind releases every router subscription held by the engine.
func (e *Engine) Unbind() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, id := range subs {
		e.bus.Unsubscribe(id)
	}
}

func (e *Engine) on(step protocol.Step, fn router.Handler) {
	id := e.bus.Subscribe(step, fn)
	e.mu.Lock()
	e.subs = append(e.subs, id)
	e.mu.Unlock()
}

func (e *Engine) subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Engine) handleAllPlayers(f router.Frame) {
	for _, m := range f.Event.(protocol.AllPlayers).Members {
		e.roster.AddMember(m)
	}
}

func (e *Engine) handleAdded(f router.Frame) {
	e.roster.AddMember(f.Event.(protocol.Added).Member)
}

func (e *Engine) handleRemoved(f router.Frame) {
	e.roster.RemoveMember(f.Event.(protocol.Removed).Name)
}

func (e *Engine) handleNextQuestion(f router.Frame) {
	idx := f.Event.(protocol.NextQuestion).NextQuestionIndex
	if err := e.sessions.SetCurrentQuestionIndex(idx); err != nil {
		e.log.Warn("applying next question", zap.Int("index", idx), zap.Error(err))
		return
	}
	if err := e.resume.Delete(context.Background(), KeyQuestionIndex); err != nil {
		e.log.Warn("clearing resume question index", zap.Error(err))
	}
	e.roster.Advance(idx)
}

func (e *Engine) handleStart(f router.Frame) {
	ts := f.Event.(protocol.Start).CurrentStartTimestamp
	if err := e.sessions.SetStartTimestamp(ts); err != nil {
		e.log.Warn("applying start", zap.Error(err))
	}
}

func (e *Engine) handleUpdatedResponse(f router.Frame) {
	ev := f.Event.(protocol.UpdatedResponse)
	e.roster.ModifyResponse(ev.Nickname, ev.QuestionIndex, ev.Update)
}

func (e *Engine) handleReset(router.Frame) {
	e.roster.ClearResponses()
	if err := e.sessions.SetCurrentQuestionIndex(domain.NotStarted); err != nil {
		e.log.Warn("applying reset", zap.Error(err))
	}
	e.sessions.SetReadingConfirmationRequested(false)
}

// handleClosed forgets the session locally. The server already closed it.
func (e *Engine) handleClosed(router.Frame) {
	e.emit(IntentClosed)
	e.roster.Reset()
	e.sessions.Clear()
}

func (e *Engine) handleUpdatedSettings(f router.Frame) {
	cfg := f.Event.(protocol.UpdatedSettings).SessionConfig
	if err := e.sessions.SetSessionConfig(cfg); err != nil {
		e.log.Warn("applying settings", zap.Error(err))
	}
}

func (e *Engine) handleReadingConfirmation(router.Frame) {
	if !e.features.ReadingConfirmation {
		e.emit(IntentVoting)
		return
	}
	e.sessions.SetReadingConfirmationRequested(true)
	e.emit(IntentReadingConfirmation)
}

func (e *Engine) handleKicked(f router.Frame) {
	if e.roster.IsOwnNick(f.Event.(protocol.Removed).Name) {
		e.emit(IntentKicked)
	}
}

func (e *Engine) refreshCanStart() {
	n := e.roster.Len()
	e.mu.Lock()
	e.canStart = n > 0
	e.mu.Unlock()
}

func (e *Engine) emit(kind IntentKind) {
	intent := Intent{Kind: kind, Session: e.sessions.Name()}
	select {
	case e.intents <- intent:
	default:
		e.log.Warn("dropping intent, consumer too slow", zap.Stringer("intent", kind))
	}
}

// StartQuiz advances the session to its first step. Only the owner may
// start, and only with participants present.
func (e *Engine) StartQuiz(ctx context.Context) (protocol.Step, error) {
	name := e.sessions.Name()
	if name == "" {
		return "", domain.ErrNoSession
	}
	if !e.sessions.IsOwner() {
		return "", domain.ErrNotOwner
	}
	if e.roster.Len() == 0 {
		return "", domain.ErrEmptyRoster
	}
	env, err := e.api.AdvanceStep(ctx, name)
	if err != nil {
		return "", err
	}
	if env.Step == protocol.StepReadingConfirmationRequested && e.features.ReadingConfirmation {
		e.sessions.SetReadingConfirmationRequested(true)
	}
	e.log.Info("quiz started", zap.String("session", name), zap.String("step", string(env.Step)))
	return env.Step, nil
}

// KickMember asks the server to remove a participant. The request is
// best-effort; the roster changes when the REMOVED frame arrives.
func (e *Engine) KickMember(name string) error {
	session := e.sessions.Name()
	if session == "" {
		return domain.ErrNoSession
	}
	if !e.sessions.IsOwner() {
		return domain.ErrNotOwner
	}
	e.deleteMember(session, name)
	return nil
}

// Leave removes the own participant from the session and releases local state.
func (e *Engine) Leave() {
	session := e.sessions.Name()
	if nick := e.roster.OwnNick(); session != "" && nick != "" {
		e.deleteMember(session, nick)
	}
	e.Unbind()
	e.roster.CleanUp()
	e.sessions.CleanUp()
}

// EditSession closes the running session so the owner can edit it.
func (e *Engine) EditSession() error {
	if e.sessions.Name() == "" {
		return domain.ErrNoSession
	}
	if !e.sessions.IsOwner() {
		return domain.ErrNotOwner
	}
	e.sessions.Close()
	e.roster.CleanUp()
	return nil
}

func (e *Engine) deleteMember(session, member string) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()
		if err := e.api.DeleteMember(ctx, session, member); err != nil {
			e.log.Warn("delete member failed", zap.String("session", session), zap.String("member", member), zap.Error(err))
		}
	}()
}

// Wait blocks until best-effort requests started by the engine and the session store have finished.
func (e *Engine) Wait() {
	e.bg.Wait()
	e.sessions.Wait()
}
