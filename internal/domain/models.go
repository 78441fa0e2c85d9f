package domain

import (
	"encoding/json"
	"slices"
)

// NotStarted is the question index of a session whose first question has not been shown.
const NotStarted = -1

// QuizState is the server-side lifecycle state of a session.
type QuizState string

const (
	StateInactive   QuizState = "INACTIVE"
	StateActive     QuizState = "ACTIVE"
	StateInProgress QuizState = "IN_PROGRESS"
	StateFinished   QuizState = "FINISHED"
)

// Role is resolved once per load and never re-derived elsewhere.
type Role int

const (
	RoleNone Role = iota
	RoleOwner
	RoleAttendee
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAttendee:
		return "attendee"
	default:
		return "none"
	}
}

// Session is one quiz instance as seen by the current participant.
// The owner flag is not part of it; see Role.
type Session struct {
	Name                  string        `json:"name"`
	State                 QuizState     `json:"state"`
	CurrentQuestionIndex  int           `json:"currentQuestionIndex"`
	Questions             []Question    `json:"questionList"`
	Config                SessionConfig `json:"sessionConfig"`
	CurrentStartTimestamp int64         `json:"currentStartTimestamp,omitempty"`
}

// SessionConfig holds the per-session settings pushed with UPDATED_SETTINGS.
type SessionConfig struct {
	Theme                      string      `json:"theme"`
	Music                      MusicConfig `json:"music"`
	Nicks                      NickConfig  `json:"nicks"`
	ReadingConfirmationEnabled bool        `json:"readingConfirmationEnabled"`
	ConfidenceSliderEnabled    bool        `json:"confidenceSliderEnabled"`
	ShowResponseProgress       bool        `json:"showResponseProgress"`
}

type MusicConfig struct {
	Enabled   bool   `json:"enabled"`
	Volume    int    `json:"volume"`
	Lobby     string `json:"lobby,omitempty"`
	Countdown string `json:"countdown,omitempty"`
}

// NickConfig controls how attendees pick their names.
type NickConfig struct {
	SelectedNicks      []string `json:"selectedNicks"`
	MemberGroups       []string `json:"memberGroups"`
	MaxMembersPerGroup int      `json:"maxMembersPerGroup"`
	AutoJoinToGroup    bool     `json:"autoJoinToGroup"`
	BlockIllegalNicks  bool     `json:"blockIllegalNicks"`
}

// UnmarshalJSON defaults a missing currentQuestionIndex to NotStarted.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	decoded := plain{CurrentQuestionIndex: NotStarted}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Session(decoded)
	return nil
}

// NormalizeSession turns decoded or hand-built data into a valid Session.
// It never drops data of an already valid session.
func NormalizeSession(s Session) *Session {
	if s.State == "" {
		s.State = StateInactive
	}
	if s.Questions == nil {
		s.Questions = []Question{}
	}
	if s.Config.Nicks.SelectedNicks == nil {
		s.Config.Nicks.SelectedNicks = []string{}
	}
	if s.Config.Nicks.MemberGroups == nil {
		s.Config.Nicks.MemberGroups = []string{}
	}
	if s.CurrentQuestionIndex < NotStarted || s.CurrentQuestionIndex >= len(s.Questions) {
		s.CurrentQuestionIndex = NotStarted
	}
	return &s
}

// ValidIndex reports whether idx is a question index or NotStarted.
func (s *Session) ValidIndex(idx int) bool {
	return idx == NotStarted || (idx >= 0 && idx < len(s.Questions))
}

// Clone returns a deep copy that is safe to hand to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Questions != nil {
		out.Questions = make([]Question, len(s.Questions))
		for i, q := range s.Questions {
			out.Questions[i] = q.clone()
		}
	}
	out.Config = s.Config.Clone()
	return &out
}

func (c SessionConfig) Clone() SessionConfig {
	out := c
	out.Nicks.SelectedNicks = slices.Clone(c.Nicks.SelectedNicks)
	out.Nicks.MemberGroups = slices.Clone(c.Nicks.MemberGroups)
	return out
}
