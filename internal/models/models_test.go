package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionStatus_Transition(t *testing.T) {
	testCases := []struct {
		from    SubmissionStatus
		to      SubmissionStatus
		allowed bool
	}{
		{StatusSubmitted, StatusGrading, true},
		{StatusGrading, StatusCompleted, true},
		{StatusSubmitted, StatusCompleted, false},
		{StatusGrading, StatusSubmitted, true},
		{StatusCompleted, StatusGrading, false},
		{StatusCompleted, StatusSubmitted, false},
		{StatusSubmitted, StatusSubmitted, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			got, err := tc.from.Transition(tc.to)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, got)
		})
	}
}

func TestQuestion_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		q       Question
		wantErr bool
	}{
		{
			name: "valid mcq",
			q:    Question{ID: "q1", Text: "2+2", Type: QuestionMCQ, Points: 5, Options: []string{"3", "4"}, CorrectAnswer: "4"},
		},
		{
			name:    "mcq with one option",
			q:       Question{ID: "q1", Text: "2+2", Type: QuestionMCQ, Points: 5, Options: []string{"4"}, CorrectAnswer: "4"},
			wantErr: true,
		},
		{
			name:    "mcq answer not among options",
			q:       Question{ID: "q1", Text: "2+2", Type: QuestionMCQ, Points: 5, Options: []string{"3", "5"}, CorrectAnswer: "4"},
			wantErr: true,
		},
		{
			name:    "non-positive points",
			q:       Question{ID: "q1", Text: "Explain", Type: QuestionShortAnswer, Points: 0},
			wantErr: true,
		},
		{
			name:    "unknown type",
			q:       Question{ID: "q1", Text: "Explain", Type: "ESSAY", Points: 3},
			wantErr: true,
		},
		{
			name: "short answer without rubric",
			q:    Question{ID: "q2", Text: "Explain", Type: QuestionShortAnswer, Points: 8},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuestion_GradingRubric(t *testing.T) {
	assert.Equal(t, DefaultRubric, Question{}.GradingRubric())
	assert.Equal(t, "mention trust", Question{Rubric: "mention trust"}.GradingRubric())
}

func TestExam_ValidateRejectsDuplicateQuestionIDs(t *testing.T) {
	exam := Exam{
		ID:              "e1",
		Title:           "Ethics",
		DurationMinutes: 10,
		CreatedBy:       "x1",
		Questions: []Question{
			{ID: "q1", Text: "a", Type: QuestionShortAnswer, Points: 1},
			{ID: "q1", Text: "b", Type: QuestionShortAnswer, Points: 1},
		},
	}
	assert.Error(t, exam.Validate())

	exam.Questions[1].ID = "q2"
	assert.NoError(t, exam.Validate())
	assert.Equal(t, 2.0, exam.TotalPoints())
}

func TestUser_JSONKeepsProfileOnStudentsOnly(t *testing.T) {
	student := NewUser("s1", "Alice", "Alice@Ladtem.org", RoleStudent, &StudentProfile{
		Institute:    "DFMI",
		MatricNumber: "DF/23/001",
	})
	assert.Equal(t, "alice@ladtem.org", student.Email)
	assert.False(t, student.IsConfirmed())

	data, err := json.Marshal(student)
	require.NoError(t, err)

	var decoded User
	require.NoError(t, json.Unmarshal(data, &decoded))
	profile, ok := decoded.Student()
	require.True(t, ok)
	assert.Equal(t, "DF/23/001", profile.MatricNumber)

	t.Run("examiner drops student fields", func(t *testing.T) {
		raw := []byte(`{"id":"x1","name":"Dr. Sarah","email":"sarah@ladtem.org","role":"EXAMINER","isConfirmed":false,"profile":{"matricNumber":"X"}}`)
		var examiner User
		require.NoError(t, json.Unmarshal(raw, &examiner))
		_, ok := examiner.Student()
		assert.False(t, ok)
		assert.True(t, examiner.Confirmed)
		assert.IsType(t, ExaminerProfile{}, examiner.Profile)
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		var u User
		assert.Error(t, json.Unmarshal([]byte(`{"id":"z","role":"JANITOR"}`), &u))
	})
}

func TestUserPatch_ApplyLeavesOtherFields(t *testing.T) {
	u := NewUser("s1", "Alice", "alice@ladtem.org", RoleStudent, &StudentProfile{Institute: "DFMI"})
	confirmed := true
	got := UserPatch{Confirmed: &confirmed}.Apply(u)

	assert.True(t, got.Confirmed)
	assert.Equal(t, "Alice", got.Name)
	profile, _ := got.Student()
	assert.Equal(t, "DFMI", profile.Institute)
}
