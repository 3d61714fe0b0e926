package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/app"
	"github.com/shrimpsizemoose/examportal/internal/metrics"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registration"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/scoring"
	"github.com/shrimpsizemoose/examportal/internal/session"
)

var (
	errUnauthorized = errors.New("unknown or missing user")
	errForbidden    = errors.New("not allowed for this role")
)

type Handler struct {
	service *app.Service
}

func NewHandler(service *app.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"POST /api/v1/auth/login", h.HandleLogin},
		{"POST /api/v1/auth/logout", h.HandleLogout},

		{"GET /api/v1/exams", h.HandleListExams},
		{"POST /api/v1/exams", h.HandleSaveExam},
		{"GET /api/v1/exams/{exam}", h.HandleGetExam},
		{"DELETE /api/v1/exams/{exam}", h.HandleDeleteExam},

		{"POST /api/v1/exams/{exam}/session", h.HandleStartSession},
		{"GET /api/v1/exams/{exam}/session", h.HandleSessionState},
		{"PUT /api/v1/exams/{exam}/session/answers/{question}", h.HandleRecordAnswer},
		{"POST /api/v1/exams/{exam}/session/navigate", h.HandleNavigate},
		{"POST /api/v1/exams/{exam}/session/submit", h.HandleSubmit},
		{"DELETE /api/v1/exams/{exam}/session", h.HandleCancelSession},

		{"GET /api/v1/submissions", h.HandleListSubmissions},
		{"POST /api/v1/submissions/grade-pending", h.HandleGradePending},
		{"GET /api/v1/submissions/{id}", h.HandleGetSubmission},
		{"POST /api/v1/submissions/{id}/grade", h.HandleGrade},
		{"PUT /api/v1/submissions/{id}/comments", h.HandleComment},

		{"GET /api/v1/users", h.HandleListUsers},
		{"POST /api/v1/users/{id}/confirm", h.HandleConfirm},
		{"DELETE /api/v1/users/{id}", h.HandleDeleteUser},
		{"GET /api/v1/activity", h.HandleActivity},
		{"GET /api/v1/attendance", h.HandleAttendance},
	}
	for _, route := range routes {
		mux.Handle(route.pattern, h.instrument(route.pattern, route.fn))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) instrument(pattern string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			duration := time.Since(start).Seconds()
			metrics.APIRequestDuration.WithLabelValues(
				pattern,
				r.Method,
				strconv.Itoa(rec.status),
			).Observe(duration)
		}()

		if !h.service.ValidateHeaders(r.Header) {
			http.Error(rec, "these are not the droids you are looking for", http.StatusForbidden)
			return
		}
		if err := h.service.Registry.Refresh(r.Context()); err != nil {
			logger.Error.Printf("Failed to reload portal state for %s: %v", pattern, err)
		}
		fn(rec, r)
	})
}

// principal resolves the calling user from the configured id header. The id
// must belong to a user that signed in and has not signed out since.
func (h *Handler) principal(r *http.Request, roles ...models.Role) (models.User, error) {
	id := r.Header.Get(h.service.Config.API.UserIDHeader)
	if id == "" {
		return models.User{}, errUnauthorized
	}
	if _, ok := h.service.Registration.Principal(id); !ok {
		return models.User{}, errUnauthorized
	}
	user, ok := h.service.Registry.User(id)
	if !ok {
		return models.User{}, errUnauthorized
	}
	if len(roles) == 0 {
		return user, nil
	}
	for _, role := range roles {
		if user.Role == role {
			return user, nil
		}
	}
	return models.User{}, errForbidden
}

func statusFor(err error) int {
	var verr *registration.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, registry.ErrInvalidEntity):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden), errors.Is(err, session.ErrNotConfirmed), errors.Is(err, session.ErrNotStudent):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadySubmitted),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrTimeUp),
		errors.Is(err, session.ErrExamNotStarted),
		errors.Is(err, scoring.ErrNotGradable),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, registry.ErrDuplicateEmail),
		errors.Is(err, registration.ErrNotStudent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("Failed to encode response: %v", err)
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &registration.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
