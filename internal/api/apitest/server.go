// Package apitest runs an in-memory quiz API for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/protocol"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	sessions map[string]domain.Session
	members  map[string][]domain.Member
	calls    map[string]int
	down     bool
	nextStep protocol.Step
	gate     chan struct{}
}

func NewServer() *Server {
	s := &Server{
		sessions: make(map[string]domain.Session),
		members:  make(map[string][]domain.Member),
		calls:    make(map[string]int),
		nextStep: protocol.StepStart,
	}
	r := chi.NewRouter()
	r.Use(s.count, s.outage)
	r.Get("/quiz/{name}", s.getSession)
	r.Put("/quiz/saved", s.putSession)
	r.Delete("/quiz/active/{name}", s.deleteActive)
	r.Post("/quiz/{name}/next", s.next)
	r.Get("/member/{name}", s.getMembers)
	r.Delete("/member/{name}/{member}", s.deleteMember)
	r.Options("/statistics", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) PutSession(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Name] = sess
}

func (s *Server) Session(name string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	return sess, ok
}

func (s *Server) PutMembers(session string, members ...domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[session] = members
}

func (s *Server) Members(session string) []domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.members[session])
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetNextStep sets the step returned by the advance endpoint.
func (s *Server) SetNextStep(step protocol.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStep = step
}

// Hold blocks GET handlers until the returned func is called.
func (s *Server) Hold() func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls reports how many requests hit "METHOD /path".
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		gate := s.gate
		s.mu.Unlock()
		if gate != nil && r.Method == http.MethodGet {
			<-gate
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) outage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Session(chi.URLParam(r, "name"))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeEnvelope(w, "QUIZ", protocol.StatusSuccess, map[string]any{"session": sess})
}

func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	var sess domain.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.PutSession(sess)
	writeEnvelope(w, "QUIZ", protocol.StatusSuccess, nil)
}

func (s *Server) deleteActive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	if sess, ok := s.sessions[name]; ok {
		sess.State = domain.StateInactive
		s.sessions[name] = sess
	}
	s.mu.Unlock()
	writeEnvelope(w, protocol.StepSetInactive, protocol.StatusSuccess, protocol.SetInactive{QuizName: name})
}

func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	sess, ok := s.sessions[name]
	step := s.nextStep
	if ok {
		sess.CurrentQuestionIndex++
		sess.State = domain.StateInProgress
		s.sessions[name] = sess
	}
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, step, protocol.StatusFailed, nil)
		return
	}
	writeEnvelope(w, step, protocol.StatusSuccess, protocol.NextQuestion{NextQuestionIndex: sess.CurrentQuestionIndex})
}

func (s *Server) getMembers(w http.ResponseWriter, r *http.Request) {
	members := s.Members(chi.URLParam(r, "name"))
	if members == nil {
		members = []domain.Member{}
	}
	writeEnvelope(w, protocol.StepAllPlayers, protocol.StatusSuccess, protocol.AllPlayers{Members: members})
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	name, member := chi.URLParam(r, "name"), chi.URLParam(r, "member")
	s.mu.Lock()
	s.members[name] = slices.DeleteFunc(slices.Clone(s.members[name]), func(m domain.Member) bool { return m.Name == member })
	s.mu.Unlock()
	writeEnvelope(w, protocol.StepRemoved, protocol.StatusSuccess, protocol.Removed{Name: member})
}

func writeEnvelope(w http.ResponseWriter, step protocol.Step, status protocol.Status, payload any) {
	body, err := protocol.Encode(step, status, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
