package handlers

import (
	"fmt"
	"net/http"

	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
)

func (h *Handler) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	examID := r.URL.Query().Get("exam")
	status := models.SubmissionStatus(r.URL.Query().Get("status"))

	var out []models.Submission
	for _, sub := range h.service.Registry.Submissions() {
		if user.Role == models.RoleStudent && sub.StudentID != user.ID {
			continue
		}
		if examID != "" && sub.ExamID != examID {
			continue
		}
		if status != "" && sub.Status != status {
			continue
		}
		out = append(out, sub)
	}
	if out == nil {
		out = []models.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": out})
}

func (h *Handler) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	sub, ok := h.service.Registry.Submission(id)
	if !ok || (user.Role == models.RoleStudent && sub.StudentID != user.ID) {
		writeError(w, r, fmt.Errorf("submission %s: %w", id, registry.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
}

func (h *Handler) HandleGrade(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r, models.RoleExaminer, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := h.service.Grader.Grade(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
}

func (h *Handler) HandleGradePending(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r, models.RoleExaminer, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	graded, err := h.service.Grader.GradePending(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if graded == nil {
		graded = []models.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"graded": graded})
}

func (h *Handler) HandleComment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r, models.RoleExaminer, models.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	var body struct {
		Comments string `json:"examinerComments"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := h.service.Registry.CommentSubmission(r.Context(), r.PathValue("id"), body.Comments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": sub})
}
