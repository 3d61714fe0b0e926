package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/store/memory"
)

type MockEvaluator struct {
	mock.Mock
}

func (m *MockEvaluator) GradeShortAnswer(ctx context.Context, q models.Question, answer string) (models.GradingResult, error) {
	args := m.Called(ctx, q, answer)
	return args.Get(0).(models.GradingResult), args.Error(1)
}

func (m *MockEvaluator) OverallFeedback(ctx context.Context, examTitle string, score, total float64) (string, error) {
	args := m.Called(ctx, examTitle, score, total)
	return args.String(0), args.Error(1)
}

var (
	start    = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	examiner = models.User{ID: "x1", Name: "Dr. Sarah", Role: models.RoleExaminer}
	errAI    = errors.New("upstream unavailable")
)

var mixedExam = models.Exam{
	ID:              "mixed",
	Title:           "Mixed",
	DurationMinutes: 30,
	CreatedBy:       "x1",
	Questions: []models.Question{
		{ID: "m1", Text: "Capital of France?", Type: models.QuestionMCQ, Points: 10, Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"},
		{ID: "s1", Text: "Explain transparency.", Type: models.QuestionShortAnswer, Points: 8},
	},
}

func newTestRegistry(t *testing.T, exams ...models.Exam) *registry.Registry {
	t.Helper()
	ctx := context.Background()
	reg, err := registry.Open(ctx, memory.NewMemoryStore(), clockwork.NewFakeClockAt(start))
	require.NoError(t, err)
	for _, e := range exams {
		_, err := reg.SaveExam(ctx, e)
		require.NoError(t, err)
	}
	return reg
}

func submit(t *testing.T, reg *registry.Registry, id, examID string, answers ...models.Answer) {
	t.Helper()
	_, created, err := reg.CreateSubmission(context.Background(), models.Submission{
		ID:          id,
		ExamID:      examID,
		StudentID:   "s1",
		Answers:     answers,
		SubmittedAt: start,
		Status:      models.StatusSubmitted,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func newTestGrader(reg *registry.Registry, ev Evaluator) *Grader {
	return NewGrader(reg, ev, activity.NewRecorder(reg, clockwork.NewFakeClockAt(start), nil), time.Second)
}

func TestScoreMCQ(t *testing.T) {
	q := models.Question{ID: "q1", Text: "2+2", Type: models.QuestionMCQ, Points: 5, Options: []string{"3", "4"}, CorrectAnswer: "4"}

	testCases := []struct {
		name   string
		answer string
		want   float64
	}{
		{"correct", "4", 5},
		{"wrong", "3", 0},
		{"blank", "", 0},
		{"padded is not exact", " 4", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ScoreMCQ(q, tc.answer))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 8.0, clamp(12, 8))
	assert.Equal(t, 0.0, clamp(-3, 8))
	assert.Equal(t, 4.5, clamp(4.5, 8))
}

func TestGrade_FallbackDeterminism(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed",
		models.Answer{QuestionID: "m1", Value: "Paris"},
		models.Answer{QuestionID: "s1", Value: "It builds trust."},
	)

	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything).Return(models.GradingResult{}, errAI)
	ev.On("OverallFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errAI)

	got, err := newTestGrader(reg, ev).Grade(ctx, examiner, "sub1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 10.0, *got.Score)
	require.NotNil(t, got.AIFeedback)
	assert.Equal(t, FallbackSummary, *got.AIFeedback)

	require.Len(t, got.Breakdown, 2)
	assert.Equal(t, 10.0, got.Breakdown[0].Score)
	assert.Equal(t, 0.0, got.Breakdown[1].Score)
	assert.Equal(t, FallbackFeedback, got.Breakdown[1].Feedback)
	assert.True(t, got.Breakdown[1].Fallback)

	ev.AssertCalled(t, "OverallFeedback", mock.Anything, "Mixed", 10.0, 18.0)
}

func TestGrade_ClampsAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	exam := mixedExam
	exam.ID = "order"
	exam.Questions = append(exam.Clone().Questions, models.Question{
		ID: "s2", Text: "Explain ethics.", Type: models.QuestionShortAnswer, Points: 4, Rubric: "Mentions duty.",
	})
	reg := newTestRegistry(t, exam)
	submit(t, reg, "sub1", "order",
		models.Answer{QuestionID: "s2", Value: "Duty."},
		models.Answer{QuestionID: "m1", Value: "Rome"},
	)

	var order []string
	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.MatchedBy(func(q models.Question) bool { return q.ID == "s1" }), "").
		Run(func(args mock.Arguments) { order = append(order, "s1") }).
		Return(models.GradingResult{Score: 99, Feedback: "Empty answer."}, nil)
	ev.On("GradeShortAnswer", mock.Anything, mock.MatchedBy(func(q models.Question) bool { return q.ID == "s2" }), "Duty.").
		Run(func(args mock.Arguments) { order = append(order, "s2") }).
		Return(models.GradingResult{Score: -2, Feedback: "Too short.", Anomalies: true}, nil)
	ev.On("OverallFeedback", mock.Anything, "Mixed", 8.0, 22.0).Return("Keep going.", nil)

	got, err := newTestGrader(reg, ev).Grade(ctx, examiner, "sub1")
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2"}, order)
	assert.Equal(t, 8.0, *got.Score)
	assert.Equal(t, "Keep going.", *got.AIFeedback)
	assert.Equal(t, []string{"m1", "s1", "s2"}, []string{got.Breakdown[0].QuestionID, got.Breakdown[1].QuestionID, got.Breakdown[2].QuestionID})
	assert.Equal(t, 8.0, got.Breakdown[1].Score)
	assert.Equal(t, 0.0, got.Breakdown[2].Score)
	assert.True(t, got.Breakdown[2].Anomalies)
	ev.AssertExpectations(t)
}

func TestGrade_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed", models.Answer{QuestionID: "m1", Value: "Paris"})

	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, "").Return(models.GradingResult{Score: 3, Feedback: "Blank."}, nil).Once()
	ev.On("OverallFeedback", mock.Anything, mock.Anything, 13.0, 18.0).Return("Nice.", nil).Once()
	g := newTestGrader(reg, ev)

	first, err := g.Grade(ctx, examiner, "sub1")
	require.NoError(t, err)

	second, err := g.Grade(ctx, examiner, "sub1")
	assert.ErrorIs(t, err, ErrNotGradable)
	assert.Equal(t, *first.Score, *second.Score)
	assert.Equal(t, *first.AIFeedback, *second.AIFeedback)

	stored, _ := reg.Submission("sub1")
	assert.Equal(t, 13.0, *stored.Score)
	assert.Equal(t, "Nice.", *stored.AIFeedback)
	ev.AssertExpectations(t)

	graded := 0
	for _, l := range reg.ActivityLogs() {
		if l.Type == models.ActivityGraded {
			graded++
			assert.Equal(t, examiner.ID, l.UserID)
		}
	}
	assert.Equal(t, 1, graded)
}

func TestGrade_RejectsSubmissionAlreadyGrading(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed")
	_, err := reg.TransitionSubmission(ctx, "sub1", models.StatusSubmitted, models.StatusGrading)
	require.NoError(t, err)

	ev := &MockEvaluator{}
	got, err := newTestGrader(reg, ev).Grade(ctx, examiner, "sub1")
	assert.ErrorIs(t, err, ErrNotGradable)
	assert.Equal(t, models.StatusGrading, got.Status)
	ev.AssertNotCalled(t, "GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything)
}

func TestGrade_Errors(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	g := newTestGrader(reg, &MockEvaluator{})

	_, err := g.Grade(ctx, examiner, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	submit(t, reg, "orphan", "deleted-exam")
	_, err = g.Grade(ctx, examiner, "orphan")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	stored, _ := reg.Submission("orphan")
	assert.Equal(t, models.StatusSubmitted, stored.Status)
}

func TestGrade_ArithmeticScenario(t *testing.T) {
	exam := models.Exam{
		ID:              "arith",
		Title:           "Arithmetic",
		DurationMinutes: 5,
		CreatedBy:       "x1",
		Questions: []models.Question{
			{ID: "q1", Text: "2+2", Type: models.QuestionMCQ, Points: 5, Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
		},
	}

	testCases := []struct {
		name    string
		answers []models.Answer
		want    float64
	}{
		{"correct", []models.Answer{{QuestionID: "q1", Value: "4"}}, 5},
		{"wrong", []models.Answer{{QuestionID: "q1", Value: "3"}}, 0},
		{"blank", nil, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newTestRegistry(t, exam)
			submit(t, reg, "sub1", "arith", tc.answers...)

			ev := &MockEvaluator{}
			ev.On("OverallFeedback", mock.Anything, "Arithmetic", tc.want, 5.0).Return("Done.", nil)

			got, err := newTestGrader(reg, ev).Grade(context.Background(), examiner, "sub1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got.Score)
			ev.AssertNotCalled(t, "GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGrade_TimesOutSlowEvaluator(t *testing.T) {
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed", models.Answer{QuestionID: "m1", Value: "Paris"})

	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything).
		Return(models.GradingResult{}, context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
		})
	ev.On("OverallFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("Summary.", nil)

	g := NewGrader(reg, ev, nil, 20*time.Millisecond)
	got, err := g.Grade(context.Background(), examiner, "sub1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, *got.Score)
	assert.True(t, got.Breakdown[1].Fallback)
}

func TestGradePending(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed", models.Answer{QuestionID: "m1", Value: "Paris"})
	_, created, err := reg.CreateSubmission(ctx, models.Submission{
		ID: "sub2", ExamID: "mixed", StudentID: "s2", SubmittedAt: start.Add(-time.Minute), Status: models.StatusSubmitted,
	})
	require.NoError(t, err)
	require.True(t, created)

	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything).Return(models.GradingResult{Score: 1}, nil)
	ev.On("OverallFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)

	graded, err := newTestGrader(reg, ev).GradePending(ctx, examiner)
	require.NoError(t, err)
	require.Len(t, graded, 2)
	assert.Equal(t, "sub2", graded[0].ID)
	assert.Equal(t, "sub1", graded[1].ID)
	assert.Empty(t, reg.SubmissionsByStatus(models.StatusSubmitted))

	again, err := newTestGrader(reg, ev).GradePending(ctx, examiner)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// hangUpEvaluator cancels the caller's context partway through grading and
// answers only while its own context is still live.
type hangUpEvaluator struct {
	cancel context.CancelFunc
}

func (e hangUpEvaluator) GradeShortAnswer(ctx context.Context, _ models.Question, _ string) (models.GradingResult, error) {
	e.cancel()
	if err := ctx.Err(); err != nil {
		return models.GradingResult{}, err
	}
	return models.GradingResult{Score: 6, Feedback: "Clear and relevant."}, nil
}

func (e hangUpEvaluator) OverallFeedback(ctx context.Context, _ string, _, _ float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Well done.", nil
}

func TestGrade_CallerCancellationDoesNotCutThePassShort(t *testing.T) {
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed",
		models.Answer{QuestionID: "m1", Value: "Paris"},
		models.Answer{QuestionID: "s1", Value: "It builds trust."},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got, err := newTestGrader(reg, hangUpEvaluator{cancel: cancel}).Grade(ctx, examiner, "sub1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 16.0, *got.Score)
	assert.Equal(t, "Well done.", *got.AIFeedback)
	require.Len(t, got.Breakdown, 2)
	assert.False(t, got.Breakdown[1].Fallback)

	stored, _ := reg.Submission("sub1")
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

// failingCompletion loses every final grade write.
type failingCompletion struct {
	*registry.Registry
	err error
}

func (f failingCompletion) CompleteSubmission(context.Context, string, models.GradingOutcome) (models.Submission, error) {
	return models.Submission{}, f.err
}

func TestGrade_FailedWriteHandsSubmissionBack(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, mixedExam)
	submit(t, reg, "sub1", "mixed", models.Answer{QuestionID: "m1", Value: "Paris"})

	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything).Return(models.GradingResult{Score: 5}, nil)
	ev.On("OverallFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("Fine.", nil)

	boom := errors.New("database is locked")
	broken := NewGrader(failingCompletion{Registry: reg, err: boom}, ev, nil, time.Second)
	got, err := broken.Grade(ctx, examiner, "sub1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	stored, _ := reg.Submission("sub1")
	assert.Equal(t, models.StatusSubmitted, stored.Status)

	// a later attempt against a healthy store goes through
	done, err := newTestGrader(reg, ev).Grade(ctx, examiner, "sub1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 15.0, *done.Score)
}

func TestGrade_StuckWhenHandBackFailsToo(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryStore()
	reg, err := registry.Open(ctx, backend, clockwork.NewFakeClockAt(start))
	require.NoError(t, err)
	_, err = reg.SaveExam(ctx, mixedExam)
	require.NoError(t, err)
	submit(t, reg, "sub1", "mixed")

	boom := errors.New("disk full")
	ev := &MockEvaluator{}
	ev.On("GradeShortAnswer", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { backend.FailSaves(boom) }).
		Return(models.GradingResult{Score: 5}, nil)
	ev.On("OverallFeedback", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("Fine.", nil)

	got, err := NewGrader(reg, ev, nil, time.Second).Grade(ctx, examiner, "sub1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.StatusGrading, got.Status)
	stored, _ := reg.Submission("sub1")
	assert.Equal(t, models.StatusGrading, stored.Status)
}
