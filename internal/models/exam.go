package models

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

type QuestionType string

const (
	QuestionMCQ         QuestionType = "MCQ"
	QuestionShortAnswer QuestionType = "SHORT_ANSWER"
)

// DefaultRubric is used for short answers that carry no rubric of their own.
const DefaultRubric = "Accuracy, clarity, and relevance."

var validate = validator.New()

type Question struct {
	ID            string       `json:"id" validate:"required"`
	Text          string       `json:"text" validate:"required"`
	Type          QuestionType `json:"type" validate:"required,oneof=MCQ SHORT_ANSWER"`
	Points        float64      `json:"points" validate:"gt=0"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty"`
	Rubric        string       `json:"rubric,omitempty"`
}

// GradingRubric returns the rubric or the default grading instruction.
func (q Question) GradingRubric() string {
	if q.Rubric == "" {
		return DefaultRubric
	}
	return q.Rubric
}

func (q Question) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("question %s: %w", q.ID, err)
	}
	if q.Type == QuestionMCQ {
		if len(q.Options) < 2 {
			return fmt.Errorf("question %s: multiple choice needs at least 2 options", q.ID)
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("question %s: correct answer %q is not one of the options", q.ID, q.CorrectAnswer)
		}
	}
	return nil
}

type Exam struct {
	ID              string     `json:"id" validate:"required"`
	Title           string     `json:"title" validate:"required,max=200"`
	Description     string     `json:"description"`
	DurationMinutes int        `json:"durationMinutes" validate:"gt=0,lte=600"`
	Questions       []Question `json:"questions" validate:"required,min=1"`
	CreatedBy       string     `json:"createdBy" validate:"required"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartTime       *time.Time `json:"startTime,omitempty"`
}

func (e Exam) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("exam %s: %w", e.ID, err)
	}

	seen := make(map[string]bool, len(e.Questions))
	var errs []error
	for _, q := range e.Questions {
		if seen[q.ID] {
			errs = append(errs, fmt.Errorf("question id %s is used twice", q.ID))
		}
		seen[q.ID] = true
		if err := q.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e Exam) TotalPoints() float64 {
	var total float64
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e Exam) Question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func (e Exam) Clone() Exam {
	qs := make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.Options = slices.Clone(q.Options)
		qs[i] = q
	}
	e.Questions = qs
	if e.StartTime != nil {
		ts := *e.StartTime
		e.StartTime = &ts
	}
	return e
}

// Redacted returns the exam as a student may see it, without answer keys
// or rubrics.
func (e Exam) Redacted() Exam {
	e = e.Clone()
	for i := range e.Questions {
		e.Questions[i].CorrectAnswer = ""
		e.Questions[i].Rubric = ""
	}
	return e
}
