package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/store/memory"
)

var start = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg     *registry.Registry
	clk     *clockwork.FakeClock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(start)
	reg, err := registry.Open(ctx, memory.NewMemoryStore(), clk)
	require.NoError(t, err)

	_, err = reg.SaveExam(ctx, models.Exam{
		ID:              "quick",
		Title:           "Arithmetic",
		DurationMinutes: 1,
		CreatedBy:       registry.SeedExaminerID,
		Questions: []models.Question{
			{ID: "q1", Text: "2+2", Type: models.QuestionMCQ, Points: 5, Options: []string{"3", "4"}, CorrectAnswer: "4"},
			{ID: "q2", Text: "Why?", Type: models.QuestionShortAnswer, Points: 3},
		},
	})
	require.NoError(t, err)

	m := NewManager(reg, activity.NewRecorder(reg, clk, nil), clk, time.Second)
	t.Cleanup(m.Close)
	return &fixture{reg: reg, clk: clk, manager: m}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

// waitTickers fails unless the clock settles on n running tickers.
func waitTickers(t *testing.T, clk *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntilContext(ctx, n), "want %d running tickers", n)
}

func countActivity(reg *registry.Registry, kind models.ActivityType) int {
	n := 0
	for _, l := range reg.ActivityLogs() {
		if l.Type == kind {
			n++
		}
	}
	return n
}

func TestStart_Gates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.Start(ctx, "s2", "quick")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = f.manager.Start(ctx, registry.SeedExaminerID, "quick")
	assert.ErrorIs(t, err, ErrNotStudent)

	_, err = f.manager.Start(ctx, "s1", "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	opens := start.Add(time.Hour)
	exam, _ := f.reg.Exam("quick")
	exam.ID = "later"
	exam.StartTime = &opens
	_, err = f.reg.SaveExam(ctx, exam)
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, "s1", "later")
	assert.ErrorIs(t, err, ErrExamNotStarted)

	assert.Equal(t, 0, f.manager.Live())
	assert.Empty(t, f.reg.Attendance())
}

func TestStart_MarksAttendanceOnceAndReusesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)
	second, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.Len(t, f.reg.Attendance(), 1)
	assert.Equal(t, 1, countActivity(f.reg, models.ActivityAttendance))
	assert.Equal(t, int64(60), first.Remaining())
	waitTickers(t, f.clk, 1)
}

func TestSession_RecordAndNavigate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)

	q, idx := s.Current()
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, 0, idx)

	idx, err = s.Navigate(-3)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = s.Navigate(5)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, s.RecordAnswer("q2", "first draft"))
	require.NoError(t, s.RecordAnswer("q1", "3"))
	require.NoError(t, s.RecordAnswer("q1", "4"))
	assert.ErrorIs(t, s.RecordAnswer("q9", "?"), ErrUnknownQuestion)

	assert.Equal(t, []models.Answer{
		{QuestionID: "q1", Value: "4"},
		{QuestionID: "q2", Value: "first draft"},
	}, s.Answers())

	_, idx = s.Current()
	assert.Equal(t, 1, idx)
}

func TestSession_SubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)
	require.NoError(t, s.RecordAnswer("q1", "4"))

	first, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, first.Status)
	assert.Equal(t, start, first.SubmittedAt)
	assert.Nil(t, first.Score)

	again, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	assert.Len(t, f.reg.SubmissionsForExam("quick"), 1)
	assert.Equal(t, 1, countActivity(f.reg, models.ActivitySubmission))
	assert.Equal(t, StateSubmitted, s.State())
	waitTickers(t, f.clk, 0)
	assert.Equal(t, 0, f.manager.Live())

	assert.ErrorIs(t, s.RecordAnswer("q1", "3"), ErrSessionClosed)
	_, err = s.Navigate(1)
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = f.manager.Start(ctx, "s1", "quick")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSession_TimerSubmitsAtDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)
	require.NoError(t, s.RecordAnswer("q1", "4"))

	for i := 0; i < 59; i++ {
		f.clk.Advance(time.Second)
	}
	assert.Equal(t, StateInProgress, s.State())
	assert.Equal(t, int64(1), s.Remaining())

	f.clk.Advance(time.Second)
	waitDone(t, s)

	assert.Equal(t, StateSubmitted, s.State())
	sub, ok := f.reg.SubmissionFor("s1", "quick")
	require.True(t, ok)
	assert.Equal(t, []models.Answer{{QuestionID: "q1", Value: "4"}}, sub.Answers)
	assert.Equal(t, start.Add(time.Minute), sub.SubmittedAt)
	waitTickers(t, f.clk, 0)
}

func TestSession_UntouchedSessionSubmitsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)

	f.clk.Advance(90 * time.Second)
	waitDone(t, s)

	sub, ok := s.Submission()
	require.True(t, ok)
	assert.Empty(t, sub.Answers)

	// a late manual submit converges on the same submission
	again, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
	assert.Len(t, f.reg.Submissions(), 1)
	assert.ErrorIs(t, s.RecordAnswer("q1", "4"), ErrSessionClosed)
}

func TestSession_CancelStopsTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)

	s.Cancel()
	waitDone(t, s)
	assert.Equal(t, StateAbandoned, s.State())
	waitTickers(t, f.clk, 0)

	f.clk.Advance(2 * time.Minute)
	assert.Empty(t, f.reg.Submissions())
	_, err = s.Submit(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// attendance survives the abandoned attempt
	assert.Len(t, f.reg.AttendanceFor("s1"), 1)

	// the student may come back while the exam was never submitted
	again, err := f.manager.Start(ctx, "s1", "quick")
	require.NoError(t, err)
	assert.NotSame(t, s, again)
	assert.Len(t, f.reg.Attendance(), 1)
}

func TestRemainingSeconds(t *testing.T) {
	deadline := start.Add(time.Minute)
	assert.Equal(t, int64(60), remainingSeconds(deadline, start))
	assert.Equal(t, int64(1), remainingSeconds(deadline, deadline.Add(-time.Millisecond)))
	assert.Equal(t, int64(0), remainingSeconds(deadline, deadline))
	assert.Equal(t, int64(0), remainingSeconds(deadline, deadline.Add(time.Hour)))
}
