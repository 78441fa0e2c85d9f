package protocol

import (
	"encoding/json"

	"quiz-sync/internal/domain"
)

// Event is a decoded frame payload.
type Event interface {
	Step() Step
}

type AllPlayers struct {
	Members []domain.Member `json:"members"`
}

type Added struct {
	Member domain.Member `json:"member"`
}

type Removed struct {
	Name string `json:"name"`
}

type NextQuestion struct {
	NextQuestionIndex int `json:"nextQuestionIndex"`
}

type Start struct {
	CurrentStartTimestamp int64 `json:"currentStartTimestamp"`
}

type Stop struct{}

type Reset struct{}

type Closed struct{}

type UpdatedSettings struct {
	SessionConfig domain.SessionConfig `json:"sessionConfig"`
}

type UpdatedResponse struct {
	Nickname      string                `json:"nickname"`
	QuestionIndex int                   `json:"questionIndex"`
	Update        domain.ResponseUpdate `json:"update"`
}

type ReadingConfirmationRequested struct{}

type SetActive struct {
	QuizName string `json:"quizName"`
}

type SetInactive struct {
	QuizName string `json:"quizName"`
}

// Raw carries a frame whose step has no typed payload.
type Raw struct {
	Kind    Step
	Payload json.RawMessage
}

func (AllPlayers) Step() Step                   { return StepAllPlayers }
func (Added) Step() Step                        { return StepAdded }
func (Removed) Step() Step                      { return StepRemoved }
func (NextQuestion) Step() Step                 { return StepNextQuestion }
func (Start) Step() Step                        { return StepStart }
func (Stop) Step() Step                         { return StepStop }
func (Reset) Step() Step                        { return StepReset }
func (Closed) Step() Step                       { return StepClosed }
func (UpdatedSettings) Step() Step              { return StepUpdatedSettings }
func (UpdatedResponse) Step() Step              { return StepUpdatedResponse }
func (ReadingConfirmationRequested) Step() Step { return StepReadingConfirmationRequested }
func (SetActive) Step() Step                    { return StepSetActive }
func (SetInactive) Step() Step                  { return StepSetInactive }
func (r Raw) Step() Step                        { return r.Kind }

var decoders = map[Step]func(json.RawMessage) (Event, error){
	StepAllPlayers:                   decodeAs[AllPlayers],
	StepAdded:                        decodeAs[Added],
	StepRemoved:                      decodeAs[Removed],
	StepNextQuestion:                 decodeAs[NextQuestion],
	StepStart:                        decodeAs[Start],
	StepStop:                         decodeAs[Stop],
	StepReset:                        decodeAs[Reset],
	StepClosed:                       decodeAs[Closed],
	StepUpdatedSettings:              decodeAs[UpdatedSettings],
	StepUpdatedResponse:              decodeAs[UpdatedResponse],
	StepReadingConfirmationRequested: decodeAs[ReadingConfirmationRequested],
	StepSetActive:                    decodeAs[SetActive],
	StepSetInactive:                  decodeAs[SetInactive],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
