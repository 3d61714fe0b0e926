package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleStudent  Role = "STUDENT"
	RoleExaminer Role = "EXAMINER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleExaminer, RoleAdmin:
		return true
	}
	return false
}

// Label renders the role the way activity details spell it, e.g. "student".
func (r Role) Label() string {
	return strings.ToLower(string(r))
}

// Profile is the role-specific part of a User. Only the three profile types
// of this package implement it.
type Profile interface {
	role() Role
}

type StudentProfile struct {
	Institute     string `json:"institute,omitempty" validate:"max=128"`
	Department    string `json:"department,omitempty" validate:"max=128"`
	MatricNumber  string `json:"matricNumber,omitempty" validate:"max=64"`
	AdmissionYear string `json:"yearOfAdmission,omitempty" validate:"omitempty,numeric,len=4"`
}

type ExaminerProfile struct{}

type AdminProfile struct{}

func (StudentProfile) role() Role  { return RoleStudent }
func (ExaminerProfile) role() Role { return RoleExaminer }
func (AdminProfile) role() Role    { return RoleAdmin }

// ProfileFor returns the empty profile matching role.
func ProfileFor(role Role) Profile {
	switch role {
	case RoleStudent:
		return StudentProfile{}
	case RoleExaminer:
		return ExaminerProfile{}
	default:
		return AdminProfile{}
	}
}

type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Present    bool       `json:"isPresent"`
	Confirmed  bool       `json:"isConfirmed"`
	LastActive *time.Time `json:"lastActive,omitempty"`
	Profile    Profile    `json:"-"`
}

// NewUser builds a user whose profile matches role. Students start
// unconfirmed, everybody else is confirmed for good.
func NewUser(id, name, email string, role Role, profile *StudentProfile) User {
	u := User{
		ID:        id,
		Name:      name,
		Email:     NormalizeEmail(email),
		Role:      role,
		Confirmed: role != RoleStudent,
		Profile:   ProfileFor(role),
	}
	if role == RoleStudent && profile != nil {
		u.Profile = *profile
	}
	return u
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsConfirmed reports whether the user may take exams.
func (u User) IsConfirmed() bool {
	return u.Role != RoleStudent || u.Confirmed
}

// Student returns the student profile, if the user is a student.
func (u User) Student() (StudentProfile, bool) {
	p, ok := u.Profile.(StudentProfile)
	return p, ok && u.Role == RoleStudent
}

// Normalize enforces the role invariants: the profile matches the role and
// non-students are always confirmed.
func (u *User) Normalize() {
	u.Email = NormalizeEmail(u.Email)
	if u.Profile == nil || u.Profile.role() != u.Role {
		u.Profile = ProfileFor(u.Role)
	}
	if u.Role != RoleStudent {
		u.Confirmed = true
	}
}

type userJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Role       Role            `json:"role"`
	Present    bool            `json:"isPresent"`
	Confirmed  bool            `json:"isConfirmed"`
	LastActive *time.Time      `json:"lastActive,omitempty"`
	Profile    json.RawMessage `json:"profile,omitempty"`
}

func (u User) MarshalJSON() ([]byte, error) {
	out := userJSON{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Present:    u.Present,
		Confirmed:  u.IsConfirmed(),
		LastActive: u.LastActive,
	}
	if p, ok := u.Student(); ok {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out.Profile = raw
	}
	return json.Marshal(out)
}

func (u *User) UnmarshalJSON(data []byte) error {
	var in userJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Role.Valid() {
		return fmt.Errorf("unknown role %q for user %s", in.Role, in.ID)
	}

	*u = User{
		ID:         in.ID,
		Name:       in.Name,
		Email:      in.Email,
		Role:       in.Role,
		Present:    in.Present,
		Confirmed:  in.Confirmed,
		LastActive: in.LastActive,
		Profile:    ProfileFor(in.Role),
	}
	if in.Role == RoleStudent && len(in.Profile) > 0 {
		var p StudentProfile
		if err := json.Unmarshal(in.Profile, &p); err != nil {
			return fmt.Errorf("failed to decode student profile for %s: %w", in.ID, err)
		}
		u.Profile = p
	}
	u.Normalize()
	return nil
}

// UserPatch is a partial update; nil fields are left untouched.
type UserPatch struct {
	Name       *string
	Present    *bool
	Confirmed  *bool
	LastActive *time.Time
}

func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Present != nil {
		u.Present = *p.Present
	}
	if p.Confirmed != nil {
		u.Confirmed = *p.Confirmed
	}
	if p.LastActive != nil {
		ts := *p.LastActive
		u.LastActive = &ts
	}
	u.Normalize()
	return u
}

// Clone returns a copy that shares no pointers with u.
func (u User) Clone() User {
	if u.LastActive != nil {
		ts := *u.LastActive
		u.LastActive = &ts
	}
	return u
}
