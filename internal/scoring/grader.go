// internal/scoring/grader.go
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/metrics"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
)

const (
	FallbackFeedback = "Error during AI evaluation."
	FallbackSummary  = "Evaluation complete."
)

// ErrNotGradable is returned for a submission that is not waiting for
// grading. The submission is left untouched.
var ErrNotGradable = errors.New("submission is not awaiting grading")

// Evaluator is the AI collaborator for free-text answers.
type Evaluator interface {
	GradeShortAnswer(ctx context.Context, q models.Question, answer string) (models.GradingResult, error)
	OverallFeedback(ctx context.Context, examTitle string, score, total float64) (string, error)
}

// Store is the slice of the registry grading needs.
type Store interface {
	Submission(id string) (models.Submission, bool)
	SubmissionsByStatus(status models.SubmissionStatus) []models.Submission
	Exam(id string) (models.Exam, bool)
	TransitionSubmission(ctx context.Context, id string, from, to models.SubmissionStatus) (models.Submission, error)
	CompleteSubmission(ctx context.Context, id string, outcome models.GradingOutcome) (models.Submission, error)
}

type Grader struct {
	store       Store
	evaluator   Evaluator
	recorder    *activity.Recorder
	callTimeout time.Duration
}

// NewGrader builds the orchestrator. Every evaluator call is bounded by
// callTimeout; a call that runs out of time counts as a failure.
func NewGrader(store Store, evaluator Evaluator, recorder *activity.Recorder, callTimeout time.Duration) *Grader {
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	return &Grader{store: store, evaluator: evaluator, recorder: recorder, callTimeout: callTimeout}
}

// ScoreMCQ awards full points on an exact match, nothing otherwise.
func ScoreMCQ(q models.Question, answer string) float64 {
	if answer == q.CorrectAnswer {
		return q.Points
	}
	return 0
}

func clamp(score, maxPoints float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Min(score, maxPoints)
}

// Grade moves a SUBMITTED submission through GRADING to COMPLETED. Questions
// are graded one at a time in exam order. A failed AI call costs that
// question its points and nothing else.
func (g *Grader) Grade(ctx context.Context, actor models.User, submissionID string) (models.Submission, error) {
	sub, ok := g.store.Submission(submissionID)
	if !ok {
		return models.Submission{}, fmt.Errorf("submission %s: %w", submissionID, registry.ErrNotFound)
	}
	if sub.Status != models.StatusSubmitted {
		return sub, fmt.Errorf("%w: %s is %s", ErrNotGradable, sub.ID, sub.Status)
	}
	exam, ok := g.store.Exam(sub.ExamID)
	if !ok {
		return sub, fmt.Errorf("exam %s of submission %s: %w", sub.ExamID, sub.ID, registry.ErrNotFound)
	}

	sub, err := g.store.TransitionSubmission(ctx, sub.ID, models.StatusSubmitted, models.StatusGrading)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return sub, fmt.Errorf("%w: %s is %s", ErrNotGradable, sub.ID, sub.Status)
		}
		return sub, err
	}
	logger.Info.Printf("Grading submission %s for exam %s", sub.ID, exam.ID)
	started := time.Now()

	// once claimed, the pass runs to the end even if the caller goes away
	work := context.WithoutCancel(ctx)
	outcome := g.evaluate(work, exam, sub)

	done, err := g.store.CompleteSubmission(work, sub.ID, outcome)
	if err != nil {
		logger.Error.Printf("Failed to store grade for %s: %v", sub.ID, err)
		return g.release(work, sub, fmt.Errorf("failed to store grade for %s: %w", sub.ID, err))
	}

	metrics.GradingDuration.WithLabelValues(exam.ID).Observe(time.Since(started).Seconds())
	if total := exam.TotalPoints(); total > 0 {
		metrics.ScoreHistogram.WithLabelValues(exam.ID).Observe(outcome.Score / total)
	}
	logger.Info.Printf("Submission %s graded: %g/%g", sub.ID, outcome.Score, exam.TotalPoints())

	if g.recorder != nil {
		details := fmt.Sprintf("Graded submission %s for %s: %g/%g", sub.ID, exam.Title, outcome.Score, exam.TotalPoints())
		if _, err := g.recorder.Record(work, actor, models.ActivityGraded, details); err != nil {
			logger.Error.Printf("Grade for %s stored but not logged: %v", sub.ID, err)
		}
	}
	return done, nil
}

// release hands a claimed submission back to SUBMITTED so it can be graded
// again, and returns cause. If even that write fails the submission is left
// in GRADING and both errors are returned.
func (g *Grader) release(ctx context.Context, sub models.Submission, cause error) (models.Submission, error) {
	back, err := g.store.TransitionSubmission(ctx, sub.ID, models.StatusGrading, models.StatusSubmitted)
	if err != nil {
		logger.Error.Printf("Submission %s is stuck in GRADING: %v", sub.ID, err)
		return sub, errors.Join(cause, err)
	}
	logger.Info.Printf("Submission %s handed back for grading", sub.ID)
	return back, cause
}

func (g *Grader) evaluate(ctx context.Context, exam models.Exam, sub models.Submission) models.GradingOutcome {
	breakdown := make([]models.QuestionGrade, 0, len(exam.Questions))
	var total float64

	for _, q := range exam.Questions {
		answer, _ := sub.AnswerFor(q.ID)
		grade := models.QuestionGrade{QuestionID: q.ID, Type: q.Type, MaxPoints: q.Points}

		switch q.Type {
		case models.QuestionMCQ:
			grade.Score = ScoreMCQ(q, answer)
		case models.QuestionShortAnswer:
			result, err := g.gradeShortAnswer(ctx, q, answer)
			if err != nil {
				logger.Error.Printf("AI grading failed for %s question %s: %v", sub.ID, q.ID, err)
				metrics.AIFallbacksTotal.WithLabelValues("grade_short_answer").Inc()
				grade.Feedback = FallbackFeedback
				grade.Fallback = true
				break
			}
			grade.Score = clamp(result.Score, q.Points)
			grade.Feedback = result.Feedback
			grade.Anomalies = result.Anomalies
		}

		total += grade.Score
		breakdown = append(breakdown, grade)
	}

	summary, err := g.overallFeedback(ctx, exam.Title, total, exam.TotalPoints())
	if err != nil {
		logger.Error.Printf("Overall feedback failed for %s: %v", sub.ID, err)
		metrics.AIFallbacksTotal.WithLabelValues("overall_feedback").Inc()
		summary = FallbackSummary
	}

	return models.GradingOutcome{Score: total, Feedback: summary, Breakdown: breakdown}
}

func (g *Grader) gradeShortAnswer(ctx context.Context, q models.Question, answer string) (models.GradingResult, error) {
	if g.evaluator == nil {
		return models.GradingResult{}, errors.New("no evaluator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.evaluator.GradeShortAnswer(ctx, q, answer)
}

func (g *Grader) overallFeedback(ctx context.Context, title string, score, total float64) (string, error) {
	if g.evaluator == nil {
		return "", errors.New("no evaluator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.evaluator.OverallFeedback(ctx, title, score, total)
}

// GradePending grades every SUBMITTED submission, oldest first, one after
// the other. Submissions picked up by someone else in the meantime are
// skipped.
func (g *Grader) GradePending(ctx context.Context, actor models.User) ([]models.Submission, error) {
	pending := g.store.SubmissionsByStatus(models.StatusSubmitted)
	slices.SortStableFunc(pending, func(a, b models.Submission) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	var (
		graded []models.Submission
		errs   []error
	)
	for _, sub := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		done, err := g.Grade(ctx, actor, sub.ID)
		switch {
		case errors.Is(err, ErrNotGradable):
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		graded = append(graded, done)
	}
	return graded, errors.Join(errs...)
}
