package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "SUBMITTED"
	StatusGrading   SubmissionStatus = "GRADING"
	StatusCompleted SubmissionStatus = "COMPLETED"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// GRADING -> SUBMITTED hands a submission back when its grade could not be
// stored. Nothing leaves COMPLETED.
var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusSubmitted: {StatusGrading},
	StatusGrading:   {StatusCompleted, StatusSubmitted},
}

// Transition returns next if the move from s is allowed.
func (s SubmissionStatus) Transition(next SubmissionStatus) (SubmissionStatus, error) {
	if slices.Contains(submissionTransitions[s], next) {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

type Answer struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

// QuestionGrade is the per-question part of a graded submission.
type QuestionGrade struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	Score      float64      `json:"score"`
	MaxPoints  float64      `json:"maxPoints"`
	Feedback   string       `json:"feedback,omitempty"`
	Anomalies  bool         `json:"anomaliesDetected,omitempty"`
	Fallback   bool         `json:"fallback,omitempty"`
}

type Submission struct {
	ID               string           `json:"id"`
	ExamID           string           `json:"examId"`
	StudentID        string           `json:"studentId"`
	Answers          []Answer         `json:"answers"`
	SubmittedAt      time.Time        `json:"submittedAt"`
	Status           SubmissionStatus `json:"status"`
	Score            *float64         `json:"score,omitempty"`
	AIFeedback       *string          `json:"aiFeedback,omitempty"`
	Breakdown        []QuestionGrade  `json:"breakdown,omitempty"`
	ExaminerComments string           `json:"examinerComments,omitempty"`
}

// AnswerFor returns the recorded answer for a question.
func (s Submission) AnswerFor(questionID string) (string, bool) {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return a.Value, true
		}
	}
	return "", false
}

func (s Submission) Clone() Submission {
	s.Answers = slices.Clone(s.Answers)
	s.Breakdown = slices.Clone(s.Breakdown)
	if s.Score != nil {
		v := *s.Score
		s.Score = &v
	}
	if s.AIFeedback != nil {
		v := *s.AIFeedback
		s.AIFeedback = &v
	}
	return s
}

// GradingOutcome is what a completed grading pass writes onto a submission.
type GradingOutcome struct {
	Score     float64
	Feedback  string
	Breakdown []QuestionGrade
}

// GradingResult is what the AI collaborator returns for one short answer.
type GradingResult struct {
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback"`
	Anomalies bool    `json:"anomaliesDetected,omitempty"`
}
