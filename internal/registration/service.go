// Package registration turns a role and identity claim into an authenticated
// user and keeps track of who is signed in.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
)

var ErrNotStudent = errors.New("user is not a student")

// ValidationError is returned when a request is rejected before any state
// was touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type AuthRequest struct {
	Role    models.Role            `json:"role" validate:"required,oneof=STUDENT EXAMINER ADMIN"`
	Name    string                 `json:"name" validate:"max=128"`
	Email   string                 `json:"email" validate:"required,email"`
	SignUp  bool                   `json:"isSignUp"`
	Profile *models.StudentProfile `json:"metadata,omitempty"`
}

type Service struct {
	registry *registry.Registry
	recorder *activity.Recorder
	clock    clockwork.Clock
	domain   string
	validate *validator.Validate

	mu         sync.RWMutex
	principals map[string]models.User
}

// NewService builds the workflow. domain is the institutional email domain,
// e.g. "ladtem.org"; every authenticated email must belong to it.
func NewService(reg *registry.Registry, rec *activity.Recorder, clk clockwork.Clock, domain string) *Service {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Service{
		registry:   reg,
		recorder:   rec,
		clock:      clk,
		domain:     strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@")),
		validate:   validator.New(),
		principals: map[string]models.User{},
	}
}

func (s *Service) checkRequest(req AuthRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: strings.ToLower(verrs[0].Field()), Reason: "failed " + verrs[0].Tag() + " check"}
		}
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	if !strings.HasSuffix(req.Email, "@"+s.domain) {
		return &ValidationError{Field: "email", Reason: "must be an @" + s.domain + " address"}
	}
	return nil
}

// Authenticate signs a user in, creating the account if the email is new.
// An existing account keeps its role, name, profile and confirmation; it is
// only marked present.
func (s *Service) Authenticate(ctx context.Context, req AuthRequest) (models.User, error) {
	req.Email = models.NormalizeEmail(req.Email)
	if err := s.checkRequest(req); err != nil {
		return models.User{}, err
	}

	now := s.clock.Now()
	user, found := s.registry.UserByEmail(req.Email)
	if found {
		present := true
		patched, err := s.registry.PatchUser(ctx, user.ID, models.UserPatch{Present: &present, LastActive: &now})
		if err != nil {
			return models.User{}, fmt.Errorf("failed to mark %s present: %w", user.ID, err)
		}
		user = patched
	} else {
		var profile *models.StudentProfile
		if req.SignUp {
			profile = req.Profile
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			label := req.Role.Label()
			name = strings.ToUpper(label[:1]) + label[1:] + " User"
		}
		user = models.NewUser(models.NewID("u"), name, req.Email, req.Role, profile)
		user.Present = true
		user.LastActive = &now
		if err := s.registry.SaveUser(ctx, user); err != nil {
			return models.User{}, fmt.Errorf("failed to create user for %s: %w", req.Email, err)
		}
		logger.Info.Printf("Created %s account %s for %s", user.Role.Label(), user.ID, user.Email)
	}

	kind := models.ActivityLogin
	details := fmt.Sprintf("Successful %s authentication (Marked Present)", user.Role.Label())
	if req.SignUp {
		kind = models.ActivitySignup
		details = fmt.Sprintf("New %s registration", user.Role.Label())
	}
	if _, err := s.recorder.Record(ctx, user, kind, details); err != nil {
		logger.Error.Printf("%s of %s stored but not logged: %v", kind, user.ID, err)
	}

	s.mu.Lock()
	s.principals[user.ID] = user.Clone()
	s.mu.Unlock()
	return user, nil
}

// Principal returns the signed-in user with the given id.
func (s *Service) Principal(userID string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.principals[userID]
	return u.Clone(), ok
}

// ConfirmStudent sets the student's confirmation flag. Confirming an already
// confirmed student changes nothing and records nothing.
func (s *Service) ConfirmStudent(ctx context.Context, actor models.User, studentID string) (models.User, error) {
	current, ok := s.registry.User(studentID)
	if !ok {
		return models.User{}, fmt.Errorf("student %s: %w", studentID, registry.ErrNotFound)
	}
	if current.Role != models.RoleStudent {
		return models.User{}, fmt.Errorf("%s: %w", studentID, ErrNotStudent)
	}
	if current.Confirmed {
		return current, nil
	}

	confirmed := true
	user, err := s.registry.PatchUser(ctx, studentID, models.UserPatch{Confirmed: &confirmed})
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	if p, ok := s.principals[studentID]; ok {
		p.Confirmed = true
		s.principals[studentID] = p
	}
	s.mu.Unlock()

	logger.Info.Printf("Student %s confirmed by %s", studentID, actor.ID)
	if _, err := s.recorder.Record(ctx, actor, models.ActivityConfirmation, fmt.Sprintf("Confirmed student %s (%s)", user.Name, user.ID)); err != nil {
		logger.Error.Printf("Confirmation of %s stored but not logged: %v", studentID, err)
	}
	return user, nil
}

// EndSession marks the user absent and forgets the principal. Submissions and
// attendance recorded during the session stay as they are.
func (s *Service) EndSession(ctx context.Context, userID string) error {
	absent := false
	user, err := s.registry.PatchUser(ctx, userID, models.UserPatch{Present: &absent})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.principals, userID)
	s.mu.Unlock()

	if _, err := s.recorder.Record(ctx, user, models.ActivityLogout, fmt.Sprintf("%s signed out", user.Name)); err != nil {
		logger.Error.Printf("Logout of %s stored but not logged: %v", userID, err)
	}
	return nil
}

// DeleteUser removes the account only; the user's submissions and
// attendance remain and keep referencing the old id.
func (s *Service) DeleteUser(ctx context.Context, actor models.User, userID string) error {
	user, ok := s.registry.User(userID)
	if !ok {
		return fmt.Errorf("user %s: %w", userID, registry.ErrNotFound)
	}
	if err := s.registry.RemoveUser(ctx, userID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.principals, userID)
	s.mu.Unlock()

	logger.Info.Printf("User %s removed by %s", userID, actor.ID)
	if _, err := s.recorder.Record(ctx, actor, models.ActivityUserRemoved, fmt.Sprintf("Removed %s %s (%s)", user.Role.Label(), user.Name, user.ID)); err != nil {
		logger.Error.Printf("Removal of %s stored but not logged: %v", userID, err)
	}
	return nil
}
