package handlers

import (
	"net/http"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/registration"
)

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req registration.AuthRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.service.Registration.Authenticate(r.Context(), req)
	if err != nil {
		logger.Debug.Printf("Authentication rejected for %s: %v", req.Email, err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, err := h.principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.Registration.EndSession(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
