// Package registry is the single authoritative home of users, exams,
// submissions, attendance and activity. Every mutation is written through to
// the durable CollectionStore before it becomes visible. Reads hand out
// copies; nothing outside this package holds a reference into the
// collections.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jonboulle/clockwork"

	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/store"
)

const (
	CollectionUsers       = "users"
	CollectionExams       = "exams"
	CollectionSubmissions = "submissions"
	CollectionAttendance  = "attendance"
	CollectionActivity    = "activity_logs"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered to another user")
	ErrInvalidEntity  = errors.New("invalid entity")
)

type Registry struct {
	backend store.CollectionStore
	clock   clockwork.Clock

	users       *collection[models.User]
	exams       *collection[models.Exam]
	submissions *collection[models.Submission]
	attendance  *collection[models.AttendanceRecord]
	activity    *collection[models.ActivityLog]
}

// Open restores every collection from backend, seeding the ones that were
// never written. Each collection falls back to its bootstrap data on its
// own; one corrupt snapshot does not affect the others.
func Open(ctx context.Context, backend store.CollectionStore, clk clockwork.Clock) (*Registry, error) {
	if backend == nil {
		return nil, fmt.Errorf("registry needs a collection store")
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	r := &Registry{
		backend:     backend,
		clock:       clk,
		users:       newCollection(CollectionUsers, func(u models.User) string { return u.ID }, models.User.Clone),
		exams:       newCollection(CollectionExams, func(e models.Exam) string { return e.ID }, models.Exam.Clone),
		submissions: newCollection(CollectionSubmissions, func(s models.Submission) string { return s.ID }, models.Submission.Clone),
		attendance:  newCollection(CollectionAttendance, func(a models.AttendanceRecord) string { return a.ID }, identity[models.AttendanceRecord]),
		activity:    newCollection(CollectionActivity, func(l models.ActivityLog) string { return l.ID }, identity[models.ActivityLog]),
	}

	now := clk.Now()
	r.users.restore(ctx, backend, now, seedUsers())
	r.exams.restore(ctx, backend, now, seedExams(now))
	r.submissions.restore(ctx, backend, now, nil)
	r.attendance.restore(ctx, backend, now, nil)
	r.activity.restore(ctx, backend, now, nil)

	return r, nil
}

func identity[T any](v T) T { return v }

// Refresh picks up what other processes sharing the backend wrote since the
// last read or write. Writes always work on the latest stored state; readers
// that outlive a single request call Refresh before they look.
func (r *Registry) Refresh(ctx context.Context) error {
	return errors.Join(
		r.users.refresh(ctx, r.backend),
		r.exams.refresh(ctx, r.backend),
		r.submissions.refresh(ctx, r.backend),
		r.attendance.refresh(ctx, r.backend),
		r.activity.refresh(ctx, r.backend),
	)
}

// Close releases the backend. Writes are synchronous, so there is nothing
// left to flush.
func (r *Registry) Close() error {
	return r.backend.Close()
}

// Users

func (r *Registry) Users() []models.User {
	return r.users.snapshot()
}

func (r *Registry) User(id string) (models.User, bool) {
	return r.users.get(id)
}

func (r *Registry) UserByEmail(email string) (models.User, bool) {
	email = models.NormalizeEmail(email)
	return r.users.find(func(u models.User) bool { return u.Email == email })
}

// SaveUser inserts or replaces a user by id.
func (r *Registry) SaveUser(ctx context.Context, u models.User) error {
	u.Normalize()
	if u.ID == "" || u.Email == "" || !u.Role.Valid() {
		return fmt.Errorf("%w: user needs id, email and a known role", ErrInvalidEntity)
	}

	return r.users.mutate(ctx, r.backend, r.clock.Now(), func(items []models.User) ([]models.User, error) {
		for _, existing := range items {
			if existing.Email == u.Email && existing.ID != u.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
			}
		}
		if i := r.users.indexOf(items, u.ID); i >= 0 {
			items[i] = u.Clone()
			return items, nil
		}
		return append(items, u.Clone()), nil
	})
}

// PatchUser merges patch into the stored user; fields the patch leaves nil
// keep whatever value the store holds at that moment.
func (r *Registry) PatchUser(ctx context.Context, id string, patch models.UserPatch) (models.User, error) {
	var out models.User
	err := r.users.mutate(ctx, r.backend, r.clock.Now(), func(items []models.User) ([]models.User, error) {
		i := r.users.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		items[i] = patch.Apply(items[i].Clone())
		out = items[i].Clone()
		return items, nil
	})
	return out, err
}

// RemoveUser deletes the user record only. Submissions and attendance that
// reference the id stay in place.
func (r *Registry) RemoveUser(ctx context.Context, id string) error {
	return r.users.mutate(ctx, r.backend, r.clock.Now(), func(items []models.User) ([]models.User, error) {
		i := r.users.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Exams

func (r *Registry) Exams() []models.Exam {
	return r.exams.snapshot()
}

func (r *Registry) Exam(id string) (models.Exam, bool) {
	return r.exams.get(id)
}

func (r *Registry) SaveExam(ctx context.Context, e models.Exam) (models.Exam, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now()
	}
	if err := e.Validate(); err != nil {
		return models.Exam{}, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	err := r.exams.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Exam) ([]models.Exam, error) {
		if i := r.exams.indexOf(items, e.ID); i >= 0 {
			items[i] = e.Clone()
			return items, nil
		}
		return append(items, e.Clone()), nil
	})
	if err != nil {
		return models.Exam{}, err
	}
	return e.Clone(), nil
}

func (r *Registry) RemoveExam(ctx context.Context, id string) error {
	return r.exams.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Exam) ([]models.Exam, error) {
		i := r.exams.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Submissions

func (r *Registry) Submissions() []models.Submission {
	return r.submissions.snapshot()
}

func (r *Registry) Submission(id string) (models.Submission, bool) {
	return r.submissions.get(id)
}

func (r *Registry) SubmissionFor(studentID, examID string) (models.Submission, bool) {
	return r.submissions.find(func(s models.Submission) bool {
		return s.StudentID == studentID && s.ExamID == examID
	})
}

func (r *Registry) SubmissionsByStatus(status models.SubmissionStatus) []models.Submission {
	return r.submissions.filter(func(s models.Submission) bool { return s.Status == status })
}

func (r *Registry) SubmissionsForExam(examID string) []models.Submission {
	return r.submissions.filter(func(s models.Submission) bool { return s.ExamID == examID })
}

// CreateSubmission stores s unless the student already has a submission for
// the exam, in which case the existing one is returned with created=false.
func (r *Registry) CreateSubmission(ctx context.Context, s models.Submission) (models.Submission, bool, error) {
	if s.ID == "" || s.ExamID == "" || s.StudentID == "" {
		return models.Submission{}, false, fmt.Errorf("%w: submission needs id, exam and student", ErrInvalidEntity)
	}
	if s.Status != models.StatusSubmitted || s.Score != nil || s.AIFeedback != nil {
		return models.Submission{}, false, fmt.Errorf("%w: new submissions start SUBMITTED and ungraded", ErrInvalidEntity)
	}

	var (
		out     models.Submission
		created bool
	)
	err := r.submissions.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Submission) ([]models.Submission, error) {
		created = false
		for _, existing := range items {
			if existing.StudentID == s.StudentID && existing.ExamID == s.ExamID {
				out = existing.Clone()
				return nil, errUnchanged
			}
		}
		out = s.Clone()
		created = true
		return append(items, s.Clone()), nil
	})
	if err != nil {
		return models.Submission{}, false, err
	}
	return out, created, nil
}

// TransitionSubmission moves a submission from one status to the next. It
// is a compare-and-set: a submission that is not currently in from is left
// alone and models.ErrInvalidTransition is returned.
func (r *Registry) TransitionSubmission(ctx context.Context, id string, from, to models.SubmissionStatus) (models.Submission, error) {
	var out models.Submission
	err := r.submissions.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Submission) ([]models.Submission, error) {
		i := r.submissions.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		cur := items[i].Clone()
		if cur.Status != from {
			out = cur
			return nil, fmt.Errorf("submission %s is %s, not %s: %w", id, cur.Status, from, models.ErrInvalidTransition)
		}
		next, err := cur.Status.Transition(to)
		if err != nil {
			out = cur
			return nil, err
		}
		cur.Status = next
		items[i] = cur
		out = cur.Clone()
		return items, nil
	})
	return out, err
}

// CompleteSubmission writes the grading result and moves GRADING -> COMPLETED
// in one write.
func (r *Registry) CompleteSubmission(ctx context.Context, id string, outcome models.GradingOutcome) (models.Submission, error) {
	var out models.Submission
	err := r.submissions.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Submission) ([]models.Submission, error) {
		i := r.submissions.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		cur := items[i].Clone()
		next, err := cur.Status.Transition(models.StatusCompleted)
		if err != nil {
			out = cur
			return nil, err
		}
		score := outcome.Score
		feedback := outcome.Feedback
		cur.Status = next
		cur.Score = &score
		cur.AIFeedback = &feedback
		cur.Breakdown = slices.Clone(outcome.Breakdown)
		items[i] = cur
		out = cur.Clone()
		return items, nil
	})
	return out, err
}

// CommentSubmission sets the examiner comments without touching the status.
func (r *Registry) CommentSubmission(ctx context.Context, id, comment string) (models.Submission, error) {
	var out models.Submission
	err := r.submissions.mutate(ctx, r.backend, r.clock.Now(), func(items []models.Submission) ([]models.Submission, error) {
		i := r.submissions.indexOf(items, id)
		if i < 0 {
			return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
		}
		cur := items[i].Clone()
		cur.ExaminerComments = comment
		items[i] = cur
		out = cur.Clone()
		return items, nil
	})
	return out, err
}

// Attendance

func (r *Registry) Attendance() []models.AttendanceRecord {
	return r.attendance.snapshot()
}

func (r *Registry) AttendanceFor(userID string) []models.AttendanceRecord {
	return r.attendance.filter(func(a models.AttendanceRecord) bool { return a.UserID == userID })
}

// MarkAttendance records userID as present for examID. Marking the same pair
// again returns the first record with created=false.
func (r *Registry) MarkAttendance(ctx context.Context, userID, examID string) (models.AttendanceRecord, bool, error) {
	var (
		out     models.AttendanceRecord
		created bool
	)
	now := r.clock.Now()
	err := r.attendance.mutate(ctx, r.backend, now, func(items []models.AttendanceRecord) ([]models.AttendanceRecord, error) {
		created = false
		for _, existing := range items {
			if existing.UserID == userID && existing.ExamID == examID {
				out = existing
				return nil, errUnchanged
			}
		}
		out = models.AttendanceRecord{
			ID:        models.NewID("att"),
			UserID:    userID,
			ExamID:    examID,
			Timestamp: now,
			Status:    models.AttendancePresent,
		}
		created = true
		return append(items, out), nil
	})
	if err != nil {
		return models.AttendanceRecord{}, false, err
	}
	return out, created, nil
}

// Activity

// ActivityLogs returns the audit trail, newest first.
func (r *Registry) ActivityLogs() []models.ActivityLog {
	return r.activity.snapshot()
}

// AppendActivity prepends entry to the audit trail.
func (r *Registry) AppendActivity(ctx context.Context, entry models.ActivityLog) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: activity entry needs an id", ErrInvalidEntity)
	}
	return r.activity.mutate(ctx, r.backend, r.clock.Now(), func(items []models.ActivityLog) ([]models.ActivityLog, error) {
		return append([]models.ActivityLog{entry}, items...), nil
	})
}
