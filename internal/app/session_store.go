package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/stream"
)

const bestEffortTimeout = 10 * time.Second

type SessionOption func(*SessionStore)

func WithSessionLogger(log *zap.Logger) SessionOption {
	return func(s *SessionStore) { s.log = logging.OrNop(log).Named("session") }
}

// WithInteractive controls whether CleanUp also closes and forgets the session.
// Headless contexts (a renderer with no participant behind it) pass false.
func WithInteractive(interactive bool) SessionOption {
	return func(s *SessionStore) { s.interactive = interactive }
}

// SessionStore is the single writer of the current Session. Readers get
// copies; every mutation is published on the change stream before it returns.
type SessionStore struct {
	store       PersistentStore
	resume      ResumeStore
	api         SessionAPI
	log         *zap.Logger
	interactive bool

	changes *stream.Replay[*domain.Session]
	loads   singleflight.Group
	bg      sync.WaitGroup

	// emitMu orders mutations with their publication.
	emitMu sync.Mutex

	mu                  sync.Mutex
	current             *domain.Session
	role                domain.Role
	editMode            bool
	readingConfirmation bool
}

func NewSessionStore(store PersistentStore, resume ResumeStore, api SessionAPI, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		store:       store,
		resume:      resume,
		api:         api,
		log:         zap.NewNop(),
		interactive: true,
		changes:     stream.NewReplay[*domain.Session](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.changes.Publish(nil)
	return s
}

// Subscribe streams session snapshots, starting with the current one (nil when none).
// Values are copies and must be treated as read-only.
func (s *SessionStore) Subscribe() (<-chan *domain.Session, func()) {
	return s.changes.Subscribe()
}

// Observe registers a synchronous observer. It runs inline with the mutation
// and must not call back into the store's mutators.
func (s *SessionStore) Observe(fn func(*domain.Session)) func() {
	return s.changes.Observe(fn)
}

// Set replaces the current session, normalising it, and records its name
// as the current-session resume key. A nil session clears.
func (s *SessionStore) Set(sess *domain.Session) {
	if sess == nil {
		s.Clear()
		return
	}
	normalized := domain.NormalizeSession(*sess.Clone())
	s.mutate(func() bool {
		s.current = normalized
		return true
	})
	if err := s.resume.Set(context.Background(), KeySessionName, normalized.Name); err != nil {
		s.log.Warn("storing resume key", zap.String("session", normalized.Name), zap.Error(err))
	}
}

// Clear drops the current session and publishes nil.
func (s *SessionStore) Clear() {
	s.mutate(func() bool {
		s.current = nil
		return true
	})
}

// Current returns a copy of the current session, or nil.
func (s *SessionStore) Current() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *SessionStore) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Name
}

func (s *SessionStore) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *SessionStore) IsOwner() bool {
	return s.Role() == domain.RoleOwner
}

func (s *SessionStore) InEditMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editMode
}

func (s *SessionStore) StopEditMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editMode = false
}

// LoadForPlay resolves the role for name and loads the session. A session
// authored locally makes the caller its owner; otherwise the caller is an
// attendee and the definition comes from the API. While any session is
// loaded the call is a no-op; CleanUp or Clear it first to switch sessions.
func (s *SessionStore) LoadForPlay(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrNoSessionName
	}
	if loaded := s.Name(); loaded != "" {
		s.log.Debug("session already loaded", zap.String("session", loaded), zap.String("requested", name))
		return nil
	}

	_, err, _ := s.loads.Do(name, func() (any, error) {
		local, err := GetJSON[domain.Session](ctx, s.store, TableSessions, name)
		switch {
		case err == nil:
			return nil, s.loadOwned(ctx, name, &local)
		case errors.Is(err, ErrNotFound):
			return nil, s.loadAttended(ctx, name)
		default:
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
	})
	return err
}

func (s *SessionStore) loadOwned(ctx context.Context, name string, local *domain.Session) error {
	sess, err := s.api.GetSession(ctx, name)
	if err != nil {
		s.log.Warn("fetching owned session, using local copy", zap.String("session", name), zap.Error(err))
		sess = local
	}
	s.setRole(domain.RoleOwner)
	s.Set(sess)
	s.log.Info("session loaded", zap.String("session", name), zap.Stringer("role", domain.RoleOwner))
	return nil
}

func (s *SessionStore) loadAttended(ctx context.Context, name string) error {
	sess, err := s.api.GetSession(ctx, name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	s.setRole(domain.RoleAttendee)
	s.Set(sess)
	s.log.Info("session loaded", zap.String("session", name), zap.Stringer("role", domain.RoleAttendee))
	return nil
}

// LoadForEdit loads a locally authored session in edit mode. It reports
// false, without changing state, when no such session is stored.
func (s *SessionStore) LoadForEdit(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, domain.ErrNoSessionName
	}
	local, err := GetJSON[domain.Session](ctx, s.store, TableSessions, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s for edit: %w", name, err)
	}

	s.mu.Lock()
	s.role = domain.RoleOwner
	s.editMode = true
	s.mu.Unlock()
	s.Set(&local)
	return true, nil
}

func (s *SessionStore) setRole(role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// Persist writes the current session. See PersistSession.
func (s *SessionStore) Persist(ctx context.Context) error {
	cur := s.Current()
	if cur == nil {
		return domain.ErrNoSession
	}
	if err := s.PersistSession(ctx, cur); err != nil {
		return err
	}
	if s.InEditMode() {
		s.mutate(func() bool { return true })
	}
	return nil
}

// PersistSession stores sess locally and, in edit mode, on the server too.
func (s *SessionStore) PersistSession(ctx context.Context, sess *domain.Session) error {
	if err := PutJSON(ctx, s.store, TableSessions, sess.Name, sess); err != nil {
		return fmt.Errorf("persist %s: %w", sess.Name, err)
	}
	if !s.InEditMode() {
		return nil
	}
	if err := s.api.PutSavedSession(ctx, sess); err != nil {
		return fmt.Errorf("push %s: %w", sess.Name, err)
	}
	return nil
}

// Close asks the server to deactivate the session when the caller owns it.
// The request is best-effort: its outcome is logged, never returned.
func (s *SessionStore) Close() {
	s.mu.Lock()
	cur := s.current.Clone()
	owner := s.role == domain.RoleOwner
	s.mu.Unlock()
	if !owner || cur == nil {
		return
	}
	s.goBestEffort("deactivate session", cur.Name, func(ctx context.Context) error {
		return s.api.DeleteActiveSession(ctx, cur)
	})
}

// CleanUp ends participation in the current session. It is safe without a session.
func (s *SessionStore) CleanUp() {
	s.mu.Lock()
	s.readingConfirmation = false
	s.mu.Unlock()
	if !s.interactive {
		return
	}

	s.Close()
	s.mutate(func() bool {
		s.current = nil
		s.role = domain.RoleNone
		s.editMode = false
		return true
	})
	if err := s.resume.Delete(context.Background(), KeySessionName); err != nil {
		s.log.Warn("clearing resume key", zap.Error(err))
	}
}

// Wait blocks until best-effort requests started by the store have finished.
func (s *SessionStore) Wait() {
	s.bg.Wait()
}

func (s *SessionStore) goBestEffort(what, session string, fn func(ctx context.Context) error) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn(what+" failed", zap.String("session", session), zap.Error(err))
		}
	}()
}

// CurrentQuestion returns the question at the current index.
func (s *SessionStore) CurrentQuestion() (domain.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Question{}, false
	}
	idx := s.current.CurrentQuestionIndex
	if idx < 0 || idx >= len(s.current.Questions) {
		return domain.Question{}, false
	}
	return s.current.Clone().Questions[idx], true
}

func (s *SessionStore) CurrentQuestionIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.NotStarted
	}
	return s.current.CurrentQuestionIndex
}

// VisibleQuestions returns the questions up to and including the current one.
func (s *SessionStore) VisibleQuestions() []domain.Question {
	return s.VisibleQuestionsUpTo(0)
}

// VisibleQuestionsUpTo returns the first n questions. n <= 0 means up to
// and including the current one.
func (s *SessionStore) VisibleQuestionsUpTo(n int) []domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if n <= 0 {
		n = s.current.CurrentQuestionIndex + 1
	}
	n = min(n, len(s.current.Questions))
	return s.current.Clone().Questions[:n]
}

func (s *SessionStore) HasSelectedNick(nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && slices.Contains(s.current.Config.Nicks.SelectedNicks, nick)
}

func (s *SessionStore) ToggleSelectedNick(nick string) error {
	if s.HasSelectedNick(nick) {
		return s.RemoveSelectedNick(nick)
	}
	return s.AddSelectedNick(nick)
}

// AddSelectedNick is a no-op when nick is already selected.
func (s *SessionStore) AddSelectedNick(nick string) error {
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		if slices.Contains(cur.Config.Nicks.SelectedNicks, nick) {
			return false, nil
		}
		cur.Config.Nicks.SelectedNicks = append(cur.Config.Nicks.SelectedNicks, nick)
		return true, nil
	})
}

// RemoveSelectedNick is a no-op when nick is not selected.
func (s *SessionStore) RemoveSelectedNick(nick string) error {
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		idx := slices.Index(cur.Config.Nicks.SelectedNicks, nick)
		if idx < 0 {
			return false, nil
		}
		cur.Config.Nicks.SelectedNicks = slices.Delete(cur.Config.Nicks.SelectedNicks, idx, idx+1)
		return true, nil
	})
}

func (s *SessionStore) SetCurrentQuestionIndex(idx int) error {
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		if !cur.ValidIndex(idx) {
			return false, fmt.Errorf("%w: %d of %d", domain.ErrQuestionIndexOutOfRange, idx, len(cur.Questions))
		}
		cur.CurrentQuestionIndex = idx
		return true, nil
	})
}

func (s *SessionStore) SetStartTimestamp(ts int64) error {
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		cur.CurrentStartTimestamp = ts
		return true, nil
	})
}

func (s *SessionStore) SetSessionConfig(cfg domain.SessionConfig) error {
	cfg = cfg.Clone()
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		cur.Config = cfg
		*cur = *domain.NormalizeSession(*cur)
		return true, nil
	})
}

func (s *SessionStore) SetState(state domain.QuizState) error {
	return s.mutateSession(func(cur *domain.Session) (bool, error) {
		cur.State = state
		return true, nil
	})
}

func (s *SessionStore) SetReadingConfirmationRequested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readingConfirmation = v
}

func (s *SessionStore) ReadingConfirmationRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readingConfirmation
}

// mutate applies fn under the lock and publishes the result when fn reports a change.
func (s *SessionStore) mutate(fn func() bool) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	changed := fn()
	snapshot := s.current.Clone()
	s.mu.Unlock()

	if changed {
		s.changes.Publish(snapshot)
	}
}

// mutateSession edits the current session in place. It fails with ErrNoSession when none is loaded.
func (s *SessionStore) mutateSession(fn func(cur *domain.Session) (bool, error)) error {
	var err error
	s.mutate(func() bool {
		if s.current == nil {
			err = domain.ErrNoSession
			return false
		}
		var changed bool
		changed, err = fn(s.current)
		return changed
	})
	return err
}
