package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/session"
)

func examView(user models.User, exam models.Exam) models.Exam {
	if user.Role == models.RoleStudent {
		return exam.Redacted()
	}
	return exam
}

func (h *Handler) HandleListExams(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	exams := h.service.Registry.Exams()
	for i := range exams {
		exams[i] = examView(user, exams[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"exams": exams})
}

func (h *Handler) HandleGetExam(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	exam, ok := h.service.Registry.Exam(r.PathValue("exam"))
	if !ok {
		writeError(w, r, fmt.Errorf("exam %s: %w", r.PathValue("exam"), registry.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam": examView(user, exam)})
}

func (h *Handler) HandleSaveExam(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r, models.RoleExaminer, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var exam models.Exam
	if err := decode(r, &exam); err != nil {
		writeError(w, r, err)
		return
	}
	if exam.ID == "" {
		exam.ID = models.NewID("exam")
	}
	exam.CreatedBy = user.ID
	exam.CreatedAt = time.Time{}
	if existing, ok := h.service.Registry.Exam(exam.ID); ok {
		exam.CreatedBy = existing.CreatedBy
		exam.CreatedAt = existing.CreatedAt
	}

	saved, err := h.service.Registry.SaveExam(r.Context(), exam)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info.Printf("Exam %s saved by %s", saved.ID, user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"exam": saved})
}

func (h *Handler) HandleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r, models.RoleExaminer, models.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.Registry.RemoveExam(r.Context(), r.PathValue("exam")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionView struct {
	ExamID           string          `json:"examId"`
	State            session.State   `json:"state"`
	QuestionIndex    int             `json:"questionIndex"`
	Question         models.Question `json:"question"`
	RemainingSeconds int64           `json:"remainingSeconds"`
	Deadline         time.Time       `json:"deadline"`
	Answers          []models.Answer `json:"answers"`
	SubmissionID     string          `json:"submissionId,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	q, idx := s.Current()
	q.CorrectAnswer = ""
	q.Rubric = ""
	v := sessionView{
		ExamID:           s.Exam().ID,
		State:            s.State(),
		QuestionIndex:    idx,
		Question:         q,
		RemainingSeconds: s.Remaining(),
		Deadline:         s.Deadline(),
		Answers:          s.Answers(),
	}
	if sub, ok := s.Submission(); ok {
		v.SubmissionID = sub.ID
	}
	return v
}

func (h *Handler) liveSession(r *http.Request) (*session.Session, error) {
	user, err := h.principal(r, models.RoleStudent)
	if err != nil {
		return nil, err
	}
	examID := r.PathValue("exam")
	s, ok := h.service.Sessions.Get(user.ID, examID)
	if !ok {
		if _, submitted := h.service.Registry.SubmissionFor(user.ID, examID); submitted {
			return nil, session.ErrSessionClosed
		}
		return nil, fmt.Errorf("live session for exam %s: %w", examID, registry.ErrNotFound)
	}
	return s, nil
}

func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r, models.RoleStudent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.service.Sessions.Start(r.Context(), user.ID, r.PathValue("exam"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": viewOf(s),
		"exam":    s.Exam().Redacted(),
	})
}

func (h *Handler) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	s, err := h.liveSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": viewOf(s)})
}

func (h *Handler) HandleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	s, err := h.liveSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.RecordAnswer(r.PathValue("question"), body.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": viewOf(s)})
}

func (h *Handler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	s, err := h.liveSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Delta int `json:"delta"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.Navigate(body.Delta); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": viewOf(s)})
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r, models.RoleStudent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	examID := r.PathValue("exam")

	s, ok := h.service.Sessions.Get(user.ID, examID)
	if !ok {
		// a submit that arrives after the timer fired still answers with the
		// stored submission
		if sub, submitted := h.service.Registry.SubmissionFor(user.ID, examID); submitted {
			writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
			return
		}
		writeError(w, r, fmt.Errorf("live session for exam %s: %w", examID, registry.ErrNotFound))
		return
	}

	sub, err := s.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
}

func (h *Handler) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.liveSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Cancel()
	w.WriteHeader(http.StatusNoContent)
}
