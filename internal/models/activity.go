package models

import "time"

type ActivityType string

const (
	ActivityLogin        ActivityType = "LOGIN"
	ActivitySignup       ActivityType = "SIGNUP"
	ActivityLogout       ActivityType = "LOGOUT"
	ActivitySubmission   ActivityType = "SUBMISSION"
	ActivityAttendance   ActivityType = "ATTENDANCE"
	ActivityConfirmation ActivityType = "CONFIRMATION"
	ActivityGraded       ActivityType = "GRADED"
	ActivityUserRemoved  ActivityType = "USER_REMOVED"
)

type ActivityLog struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	UserName  string       `json:"userName"`
	UserRole  Role         `json:"userRole"`
	Type      ActivityType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Details   string       `json:"details,omitempty"`
}

type AttendanceStatus string

const AttendancePresent AttendanceStatus = "PRESENT"

type AttendanceRecord struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	ExamID    string           `json:"examId"`
	Timestamp time.Time        `json:"timestamp"`
	Status    AttendanceStatus `json:"status"`
}
