// Package session drives one student through one timed exam attempt, from
// the first question to a single stored submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/metrics"
	"github.com/shrimpsizemoose/examportal/internal/models"
)

type State string

const (
	StateInProgress State = "IN_PROGRESS"
	StateSubmitted  State = "SUBMITTED"
	StateAbandoned  State = "ABANDONED"
)

const (
	TriggerManual  = "manual"
	TriggerTimeout = "timeout"
)

var (
	ErrSessionClosed    = errors.New("exam session is closed")
	ErrTimeUp           = errors.New("exam time is up")
	ErrUnknownQuestion  = errors.New("question is not part of this exam")
	ErrNotConfirmed     = errors.New("student is not confirmed yet")
	ErrNotStudent       = errors.New("only students can take exams")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrExamNotStarted   = errors.New("exam has not started yet")
)

// countdown is the cancellation token of one running timer.
type countdown struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (c *countdown) cancel() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stop)
	})
}

type Session struct {
	manager  *Manager
	exam     models.Exam
	student  models.User
	started  time.Time
	deadline time.Time

	mu         sync.Mutex
	state      State
	index      int
	answers    map[string]string
	submission *models.Submission
	timer      *countdown
	done       chan struct{}
}

func (s *Session) Exam() models.Exam       { return s.exam.Clone() }
func (s *Session) Student() models.User    { return s.student.Clone() }
func (s *Session) Started() time.Time      { return s.started }
func (s *Session) Deadline() time.Time     { return s.deadline }
func (s *Session) Done() <-chan struct{}   { return s.done }
func (s *Session) key() string             { return sessionKey(s.student.ID, s.exam.ID) }
func (s *Session) now() time.Time          { return s.manager.clock.Now() }
func (s *Session) left(at time.Time) int64 { return remainingSeconds(s.deadline, at) }

func remainingSeconds(deadline, now time.Time) int64 {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining is the number of whole seconds left, rounded up.
func (s *Session) Remaining() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return 0
	}
	return s.left(s.now())
}

// Current returns the question under the cursor and its index.
func (s *Session) Current() (models.Question, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exam.Questions[s.index], s.index
}

// Navigate moves the cursor by delta, clamped to the question range.
func (s *Session) Navigate(delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return s.index, ErrSessionClosed
	}
	s.index = max(0, min(len(s.exam.Questions)-1, s.index+delta))
	return s.index, nil
}

// RecordAnswer replaces any earlier answer to the question.
func (s *Session) RecordAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return ErrSessionClosed
	}
	if s.left(s.now()) == 0 {
		return ErrTimeUp
	}
	if _, ok := s.exam.Question(questionID); !ok {
		return fmt.Errorf("%s: %w", questionID, ErrUnknownQuestion)
	}
	s.answers[questionID] = value
	return nil
}

// Answers lists the recorded answers in exam question order. Unanswered
// questions are left out.
func (s *Session) Answers() []models.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answerList()
}

func (s *Session) answerList() []models.Answer {
	out := make([]models.Answer, 0, len(s.answers))
	for _, q := range s.exam.Questions {
		if v, ok := s.answers[q.ID]; ok {
			out = append(out, models.Answer{QuestionID: q.ID, Value: v})
		}
	}
	return out
}

// Submission returns the stored submission once the session is submitted.
func (s *Session) Submission() (models.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submission == nil {
		return models.Submission{}, false
	}
	return s.submission.Clone(), true
}

// Submit stores the answers and ends the session. Calling it again returns
// the submission stored the first time.
func (s *Session) Submit(ctx context.Context) (models.Submission, error) {
	return s.submit(ctx, TriggerManual)
}

func (s *Session) submit(ctx context.Context, trigger string) (models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSubmitted:
		return s.submission.Clone(), nil
	case StateAbandoned:
		return models.Submission{}, ErrSessionClosed
	}

	now := s.now()
	reg := s.manager.registry
	sub, created, err := reg.CreateSubmission(ctx, models.Submission{
		ID:          models.NewID("sub"),
		ExamID:      s.exam.ID,
		StudentID:   s.student.ID,
		Answers:     s.answerList(),
		SubmittedAt: now,
		Status:      models.StatusSubmitted,
	})
	if err != nil {
		return models.Submission{}, fmt.Errorf("failed to store submission for %s: %w", s.key(), err)
	}

	s.state = StateSubmitted
	s.submission = &sub
	s.finish()

	if !created {
		logger.Info.Printf("Session %s already had submission %s", s.key(), sub.ID)
		return sub.Clone(), nil
	}

	metrics.SubmissionsTotal.WithLabelValues(s.exam.ID, trigger).Inc()
	logger.Info.Printf("Submission %s stored for %s (%s, %d answers)", sub.ID, s.key(), trigger, len(sub.Answers))
	details := fmt.Sprintf("Submitted exam response for ID: %s", s.exam.ID)
	if _, err := s.manager.recorder.Record(ctx, s.student, models.ActivitySubmission, details); err != nil {
		logger.Error.Printf("Submission %s stored but not logged: %v", sub.ID, err)
	}
	return sub.Clone(), nil
}

// Cancel abandons the session without storing anything. The attendance mark
// made on entry stays.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return
	}
	s.state = StateAbandoned
	s.finish()
	logger.Info.Printf("Session %s abandoned", s.key())
}

// finish stops the countdown and releases the session. Callers hold s.mu.
func (s *Session) finish() {
	if s.timer != nil {
		s.timer.cancel()
		s.timer = nil
	}
	close(s.done)
	s.manager.release(s)
}

// startCountdown cancels any running timer and starts a new one.
func (s *Session) startCountdown(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return
	}
	if s.timer != nil {
		s.timer.cancel()
	}
	ticker := s.manager.clock.NewTicker(period)
	token := &countdown{ticker: ticker, stop: make(chan struct{})}
	s.timer = token
	go s.run(ticker.Chan(), token.stop)
}

func (s *Session) run(ticks <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			// a tick may be stale, so the clock decides
			if s.left(s.now()) > 0 {
				continue
			}
			if _, err := s.submit(context.Background(), TriggerTimeout); err != nil {
				if errors.Is(err, ErrSessionClosed) {
					return
				}
				logger.Error.Printf("Automatic submission for %s failed, retrying on next tick: %v", s.key(), err)
				continue
			}
			return
		}
	}
}
