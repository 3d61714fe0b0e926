package handlers

import (
	"net/http"
	"strconv"

	"github.com/shrimpsizemoose/examportal/internal/models"
)

const defaultActivityLimit = 50

func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r, models.RoleAdmin, models.RoleExaminer); err != nil {
		writeError(w, r, err)
		return
	}

	users := h.service.Registry.Users()
	if r.URL.Query().Get("pending") == "true" {
		pending := users[:0]
		for _, u := range users {
			if !u.IsConfirmed() {
				pending = append(pending, u)
			}
		}
		users = pending
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	admin, err := h.principal(r, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.service.Registration.ConfirmStudent(r.Context(), admin, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	admin, err := h.principal(r, models.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.service.Registration.DeleteUser(r.Context(), admin, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r, models.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	logs := h.service.Registry.ActivityLogs()
	if len(logs) > limit {
		logs = logs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": logs})
}

func (h *Handler) HandleAttendance(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r, models.RoleAdmin, models.RoleExaminer); err != nil {
		writeError(w, r, err)
		return
	}

	examID := r.URL.Query().Get("exam")
	records := []models.AttendanceRecord{}
	for _, rec := range h.service.Registry.Attendance() {
		if examID == "" || rec.ExamID == examID {
			records = append(records, rec)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attendance": records})
}
