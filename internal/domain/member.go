package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueText
	ValueNumber
	ValueChoices
)

// Value is the opaque answer payload of a Response. Its shape depends on
// the question kind; see QuestionKind.ResponseKind.
type Value struct {
	kind    ValueKind
	text    string
	number  float64
	choices []int
}

func TextValue(s string) Value      { return Value{kind: ValueText, text: s} }
func NumberValue(f float64) Value   { return Value{kind: ValueNumber, number: f} }
func ChoicesValue(idx ...int) Value { return Value{kind: ValueChoices, choices: slices.Clone(idx)} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) Text() string    { return v.text }
func (v Value) Number() float64 { return v.number }
func (v Value) Choices() []int  { return slices.Clone(v.choices) }

// Present reports whether the value counts as an answer: a non-empty string,
// a well-formed number or at least one selected choice.
func (v Value) Present() bool {
	switch v.kind {
	case ValueText:
		return len(v.text) > 0
	case ValueNumber:
		return !math.IsNaN(v.number) && !math.IsInf(v.number, 0)
	case ValueChoices:
		return len(v.choices) > 0
	default:
		return false
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueText:
		return json.Marshal(v.text)
	case ValueNumber:
		if math.IsNaN(v.number) || math.IsInf(v.number, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.number)
	case ValueChoices:
		if v.choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.choices)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case '[':
		var idx []int
		if err := json.Unmarshal(data, &idx); err != nil {
			return err
		}
		*v = Value{kind: ValueChoices, choices: idx}
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("response value: %w", err)
		}
		*v = NumberValue(f)
	}
	return nil
}

// Response is one participant's answer to one question.
type Response struct {
	Value               Value    `json:"value"`
	ResponseTime        int64    `json:"responseTime,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	ReadingConfirmation bool     `json:"readingConfirmation,omitempty"`
}

func (r Response) HasValue() bool { return r.Value.Present() }

// HasConfidence requires the confidence field to hold a valid number.
func (r Response) HasConfidence() bool {
	return r.Confidence != nil && !math.IsNaN(*r.Confidence)
}

func (r Response) clone() Response {
	out := r
	out.Value.choices = slices.Clone(r.Value.choices)
	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}
	return out
}

// ResponseUpdate is a partial Response; only non-nil fields are merged.
type ResponseUpdate struct {
	Value               *Value   `json:"value,omitempty"`
	ResponseTime        *int64   `json:"responseTime,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	ReadingConfirmation *bool    `json:"readingConfirmation,omitempty"`
}

// Apply merges the set fields of u into r.
func (u ResponseUpdate) Apply(r *Response) {
	if u.Value != nil {
		r.Value = *u.Value
		r.Value.choices = slices.Clone(u.Value.choices)
	}
	if u.ResponseTime != nil {
		r.ResponseTime = *u.ResponseTime
	}
	if u.Confidence != nil {
		c := *u.Confidence
		r.Confidence = &c
	}
	if u.ReadingConfirmation != nil {
		r.ReadingConfirmation = *u.ReadingConfirmation
	}
}

// Member is one roster entry, as serialized by the server.
type Member struct {
	Name      string     `json:"name"`
	GroupName string     `json:"groupName,omitempty"`
	ColorCode string     `json:"colorCode,omitempty"`
	Responses []Response `json:"responses"`
}

// NewMember builds a roster entry from its serialized form. A member always
// starts with at least one (empty) response slot.
func NewMember(m Member) *Member {
	out := m.Clone()
	if len(out.Responses) == 0 {
		out.Responses = []Response{{}}
	}
	return &out
}

func (m Member) Clone() Member {
	out := m
	if m.Responses != nil {
		out.Responses = make([]Response, len(m.Responses))
		for i, r := range m.Responses {
			out.Responses[i] = r.clone()
		}
	}
	return out
}

// ResponseAt returns the response at idx, or false when there is none.
func (m *Member) ResponseAt(idx int) (Response, bool) {
	if idx < 0 || idx >= len(m.Responses) {
		return Response{}, false
	}
	return m.Responses[idx], true
}

// Pad appends empty placeholders until a response slot exists for idx.
func (m *Member) Pad(idx int) {
	for len(m.Responses) <= idx {
		m.Responses = append(m.Responses, Response{})
	}
}
