package app

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/stream"
)

// MembersAPI is the part of SessionAPI the roster needs.
type MembersAPI interface {
	GetMembers(ctx context.Context, name string) ([]domain.Member, error)
}

type RosterOption func(*Roster)

func WithRosterLogger(log *zap.Logger) RosterOption {
	return func(r *Roster) { r.log = logging.OrNop(log).Named("roster") }
}

// Roster is the single writer of the participant list of the active session.
// Its methods never fail on unknown participants: they run inside message
// handlers, where an error would have nowhere to go.
type Roster struct {
	sessions *SessionStore
	api      MembersAPI
	resume   ResumeStore
	log      *zap.Logger

	changes *stream.Replay[[]domain.Member]
	emitMu  sync.Mutex

	mu      sync.RWMutex
	members []*domain.Member
	ownNick string
}

func NewRoster(sessions *SessionStore, api MembersAPI, resume ResumeStore, opts ...RosterOption) *Roster {
	r := &Roster{
		sessions: sessions,
		api:      api,
		resume:   resume,
		log:      zap.NewNop(),
		changes:  stream.NewReplay[[]domain.Member](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if nick, err := resume.Get(context.Background(), KeyParticipantName); err == nil {
		r.ownNick = nick
	}
	r.changes.Publish([]domain.Member{})
	return r
}

// Subscribe streams roster snapshots, starting with the current one.
func (r *Roster) Subscribe() (<-chan []domain.Member, func()) {
	return r.changes.Subscribe()
}

// AddMember appends m unless a participant with the same name exists.
func (r *Roster) AddMember(m domain.Member) bool {
	return r.mutate(func() bool {
		if r.indexLocked(m.Name) >= 0 {
			return false
		}
		r.members = append(r.members, domain.NewMember(m))
		return true
	})
}

func (r *Roster) RemoveMember(name string) bool {
	return r.mutate(func() bool {
		idx := r.indexLocked(name)
		if idx < 0 {
			return false
		}
		r.members = slices.Delete(r.members, idx, idx+1)
		return true
	})
}

// ModifyResponse merges update into the named participant's response at
// questionIndex, creating placeholder slots as needed. Unknown participants
// are logged and ignored.
func (r *Roster) ModifyResponse(name string, questionIndex int, update domain.ResponseUpdate) bool {
	if questionIndex < 0 {
		r.log.Warn("response update for negative question index", zap.String("member", name), zap.Int("index", questionIndex))
		return false
	}
	var known bool
	r.mutate(func() bool {
		idx := r.indexLocked(name)
		if idx < 0 {
			return false
		}
		known = true
		m := r.members[idx]
		m.Pad(questionIndex)
		update.Apply(&m.Responses[questionIndex])
		return true
	})
	if !known {
		r.log.Warn("cannot modify response, member not found", zap.String("member", name), zap.Int("index", questionIndex))
	}
	return known
}

// ClearResponses resets every participant to a single empty response.
func (r *Roster) ClearResponses() {
	r.mutate(func() bool {
		for _, m := range r.members {
			m.Responses = []domain.Response{{}}
		}
		return len(r.members) > 0
	})
}

// Advance gives every participant a response slot for index.
func (r *Roster) Advance(index int) {
	if index < 0 {
		return
	}
	r.mutate(func() bool {
		changed := false
		for _, m := range r.members {
			if len(m.Responses) <= index {
				m.Pad(index)
				changed = true
			}
		}
		return changed
	})
}

// Replace overwrites the whole membership with a snapshot. Duplicate names
// in the snapshot keep their first occurrence, and every member gets a
// response slot up to the current question.
func (r *Roster) Replace(members []domain.Member) {
	next := make([]*domain.Member, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.Name]; dup {
			continue
		}
		seen[m.Name] = struct{}{}
		next = append(next, domain.NewMember(m))
	}
	r.mutate(func() bool {
		// The index may have moved while the fetch was in flight.
		if idx := r.sessions.CurrentQuestionIndex(); idx >= 0 {
			for _, m := range next {
				m.Pad(idx)
			}
		}
		r.members = next
		return true
	})
}

// Restore fetches the server's roster for name and replaces the local one.
func (r *Roster) Restore(ctx context.Context, name string) error {
	members, err := r.api.GetMembers(ctx, name)
	if err != nil {
		return fmt.Errorf("restore members of %s: %w", name, err)
	}
	r.Replace(members)
	r.log.Debug("roster restored", zap.String("session", name), zap.Int("members", len(members)))
	return nil
}

// Watch restores the roster whenever a session is loaded or becomes active
// again, until ctx ends. Updates within one active session are ignored.
func (r *Roster) Watch(ctx context.Context) error {
	updates, cancel := r.sessions.Subscribe()
	defer cancel()
	var (
		lastName  string
		wasActive bool
	)
	for {
		select {
		case sess, ok := <-updates:
			if !ok {
				return nil
			}
			if sess == nil {
				lastName, wasActive = "", false
				continue
			}
			active := sess.State != domain.StateInactive
			resync := active && (sess.Name != lastName || !wasActive)
			lastName, wasActive = sess.Name, active
			if !resync {
				continue
			}
			if err := r.Restore(ctx, sess.Name); err != nil {
				r.log.Warn("restoring roster", zap.String("session", sess.Name), zap.Error(err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset drops every participant.
func (r *Roster) Reset() {
	r.mutate(func() bool {
		r.members = nil
		return true
	})
}

// CleanUp drops every participant and forgets the own nick.
func (r *Roster) CleanUp() {
	r.Reset()
	r.SetOwnNick("")
}

func (r *Roster) Members() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Roster) Member(name string) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(name)
	if idx < 0 {
		return domain.Member{}, false
	}
	return r.members[idx].Clone(), true
}

func (r *Roster) MembersOfGroup(group string) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Member
	for _, m := range r.members {
		if m.GroupName == group {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Groups lists the member groups configured for the current session.
func (r *Roster) Groups() []string {
	cur := r.sessions.Current()
	if cur == nil {
		return nil
	}
	return cur.Config.Nicks.MemberGroups
}

func (r *Roster) OwnNick() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownNick
}

// SetOwnNick records the participant's own name in the resume context.
// An empty nick clears it.
func (r *Roster) SetOwnNick(nick string) {
	r.mu.Lock()
	r.ownNick = nick
	r.mu.Unlock()

	ctx := context.Background()
	var err error
	if nick == "" {
		err = r.resume.Delete(ctx, KeyParticipantName)
	} else {
		err = r.resume.Set(ctx, KeyParticipantName, nick)
	}
	if err != nil {
		r.log.Warn("storing own nick", zap.Error(err))
	}
}

func (r *Roster) IsOwnNick(name string) bool {
	own := r.OwnNick()
	return own != "" && own == name
}

// HasResponse reports whether name answered the current question.
func (r *Roster) HasResponse(name string) bool {
	resp, ok := r.currentResponse(name)
	return ok && resp.HasValue()
}

func (r *Roster) HasReadingConfirmation(name string) bool {
	resp, ok := r.currentResponse(name)
	return ok && resp.ReadingConfirmation
}

func (r *Roster) HasConfidenceValue(name string) bool {
	resp, ok := r.currentResponse(name)
	return ok && resp.HasConfidence()
}

func (r *Roster) currentResponse(name string) (domain.Response, bool) {
	idx := r.sessions.CurrentQuestionIndex()
	if idx < 0 {
		return domain.Response{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(name)
	if i < 0 {
		return domain.Response{}, false
	}
	return r.members[i].ResponseAt(idx)
}

func (r *Roster) indexLocked(name string) int {
	return slices.IndexFunc(r.members, func(m *domain.Member) bool { return m.Name == name })
}

func (r *Roster) snapshotLocked() []domain.Member {
	out := make([]domain.Member, len(r.members))
	for i, m := range r.members {
		out[i] = m.Clone()
	}
	return out
}

func (r *Roster) mutate(fn func() bool) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	changed := fn()
	var snapshot []domain.Member
	if changed {
		snapshot = r.snapshotLocked()
	}
	r.mu.Unlock()

	if changed {
		r.changes.Publish(snapshot)
	}
	return changed
}
