package domain

import (
	"fmt"
	"slices"
)

// QuestionKind tags the question variant. Each kind expects one response value shape.
type QuestionKind string

const (
	KindSingleChoice   QuestionKind = "SingleChoiceQuestion"
	KindMultipleChoice QuestionKind = "MultipleChoiceQuestion"
	KindYesNo          QuestionKind = "YesNoSingleChoiceQuestion"
	KindTrueFalse      QuestionKind = "TrueFalseSingleChoiceQuestion"
	KindABCD           QuestionKind = "ABCDSingleChoiceQuestion"
	KindSurvey         QuestionKind = "SurveyQuestion"
	KindRangedNumber   QuestionKind = "RangedQuestion"
	KindFreeText       QuestionKind = "FreeTextQuestion"
)

// ResponseKind is the value shape a response to this kind of question carries.
func (k QuestionKind) ResponseKind() ValueKind {
	switch k {
	case KindRangedNumber:
		return ValueNumber
	case KindFreeText:
		return ValueText
	case KindSingleChoice, KindMultipleChoice, KindYesNo, KindTrueFalse, KindABCD, KindSurvey:
		return ValueChoices
	default:
		return ValueNone
	}
}

// Question is a tagged variant over QuestionKind. Only the block matching
// Kind is populated; generic code reads the common fields only.
type Question struct {
	Kind     QuestionKind    `json:"TYPE"`
	Text     string          `json:"questionText"`
	Timer    int             `json:"timer"`
	Answers  []AnswerOption  `json:"answerOptionList,omitempty"`
	Range    *NumberRange    `json:"range,omitempty"`
	FreeText *FreeTextConfig `json:"freeText,omitempty"`
}

type AnswerOption struct {
	Text      string `json:"answerText"`
	IsCorrect bool   `json:"isCorrect"`
}

type NumberRange struct {
	Min     float64 `json:"rangeMin"`
	Max     float64 `json:"rangeMax"`
	Correct float64 `json:"correctValue"`
}

type FreeTextConfig struct {
	CaseSensitive   bool     `json:"configCaseSensitive"`
	TrimWhitespaces bool     `json:"configTrimWhitespaces"`
	UsePunctuation  bool     `json:"configUsePunctuation"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty"`
}

// Validate checks that the populated variant block matches Kind.
func (q Question) Validate() error {
	switch q.Kind.ResponseKind() {
	case ValueChoices:
		if len(q.Answers) == 0 {
			return fmt.Errorf("%s: no answer options", q.Kind)
		}
	case ValueNumber:
		if q.Range == nil || q.Range.Min > q.Range.Max {
			return fmt.Errorf("%s: invalid range", q.Kind)
		}
	case ValueText:
		if q.FreeText == nil {
			return fmt.Errorf("%s: missing free text config", q.Kind)
		}
	default:
		return fmt.Errorf("unknown question kind %q", q.Kind)
	}
	return nil
}

func (q Question) clone() Question {
	out := q
	out.Answers = slices.Clone(q.Answers)
	if q.Range != nil {
		r := *q.Range
		out.Range = &r
	}
	if q.FreeText != nil {
		ft := *q.FreeText
		ft.AcceptedAnswers = slices.Clone(q.FreeText.AcceptedAnswers)
		out.FreeText = &ft
	}
	return out
}
