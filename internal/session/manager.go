package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
)

// Manager hands out live sessions, at most one per student and exam.
type Manager struct {
	registry *registry.Registry
	recorder *activity.Recorder
	clock    clockwork.Clock
	tick     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(reg *registry.Registry, rec *activity.Recorder, clk clockwork.Clock, tick time.Duration) *Manager {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Manager{
		registry: reg,
		recorder: rec,
		clock:    clk,
		tick:     tick,
		sessions: map[string]*Session{},
	}
}

func sessionKey(studentID, examID string) string {
	return studentID + "/" + examID
}

// Start opens a session for the student, or returns the one already running.
// Entering an exam marks the student present for it.
func (m *Manager) Start(ctx context.Context, studentID, examID string) (*Session, error) {
	student, ok := m.registry.User(studentID)
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, registry.ErrNotFound)
	}
	if student.Role != models.RoleStudent {
		return nil, ErrNotStudent
	}
	if !student.IsConfirmed() {
		return nil, ErrNotConfirmed
	}
	exam, ok := m.registry.Exam(examID)
	if !ok {
		return nil, fmt.Errorf("exam %s: %w", examID, registry.ErrNotFound)
	}
	now := m.clock.Now()
	if exam.StartTime != nil && now.Before(*exam.StartTime) {
		return nil, fmt.Errorf("%w: opens at %s", ErrExamNotStarted, exam.StartTime.Format(time.RFC3339))
	}
	if sub, ok := m.registry.SubmissionFor(studentID, examID); ok {
		return nil, fmt.Errorf("%w: submission %s", ErrAlreadySubmitted, sub.ID)
	}

	key := sessionKey(studentID, examID)
	m.mu.Lock()
	if live, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return live, nil
	}
	s := &Session{
		manager:  m,
		exam:     exam,
		student:  student,
		started:  now,
		deadline: now.Add(exam.Duration()),
		state:    StateInProgress,
		answers:  map[string]string{},
		done:     make(chan struct{}),
	}
	m.sessions[key] = s
	m.mu.Unlock()

	if _, created, err := m.registry.MarkAttendance(ctx, studentID, examID); err != nil {
		logger.Error.Printf("Failed to mark attendance for %s: %v", key, err)
	} else if created {
		details := fmt.Sprintf("Marked present for exam: %s", exam.Title)
		if _, err := m.recorder.Record(ctx, student, models.ActivityAttendance, details); err != nil {
			logger.Error.Printf("Attendance for %s stored but not logged: %v", key, err)
		}
	}

	s.startCountdown(m.tick)
	logger.Info.Printf("Session %s started, deadline %s", key, s.deadline.Format(time.RFC3339))
	return s, nil
}

// Get returns the live session for the pair, if any.
func (m *Manager) Get(studentID, examID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(studentID, examID)]
	return s, ok
}

// Live reports how many sessions are in progress.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.key()] == s {
		delete(m.sessions, s.key())
	}
}

// Close abandons every live session and stops their timers.
func (m *Manager) Close() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Cancel()
	}
}
