package registry

import (
	"time"

	"github.com/shrimpsizemoose/examportal/internal/models"
)

// Bootstrap accounts and exam written on first start.
const (
	SeedExamID     = "e1"
	SeedExaminerID = "x1"
)

func seedUsers() []models.User {
	alice := models.NewUser("s1", "Alice Johnson", "alice@ladtem.org", models.RoleStudent, &models.StudentProfile{
		Institute:    "DFMI",
		MatricNumber: "DF/23/001",
	})
	alice.Confirmed = true

	bob := models.NewUser("s2", "Bob Smith", "bob@ladtem.org", models.RoleStudent, &models.StudentProfile{
		Institute:    "IES",
		MatricNumber: "IE/23/042",
	})

	sarah := models.NewUser(SeedExaminerID, "Dr. Sarah", "sarah@ladtem.org", models.RoleExaminer, nil)

	return []models.User{alice, bob, sarah}
}

func seedExams(now time.Time) []models.Exam {
	return []models.Exam{
		{
			ID:              SeedExamID,
			Title:           "Introduction to Ethical Governance",
			Description:     "Covers the core principles of the Ladtem Commission regarding transparency and ethics.",
			DurationMinutes: 45,
			CreatedBy:       SeedExaminerID,
			CreatedAt:       now,
			Questions: []models.Question{
				{
					ID:     "q1",
					Text:   "What is the primary mission of the Ladtem Commission?",
					Type:   models.QuestionMCQ,
					Points: 2,
					Options: []string{
						"Profit maximization",
						"Public trust and transparency",
						"Territorial expansion",
						"Algorithm optimization",
					},
					CorrectAnswer: "Public trust and transparency",
				},
				{
					ID:     "q2",
					Text:   "Describe why accountability is vital in public administration.",
					Type:   models.QuestionShortAnswer,
					Points: 8,
					Rubric: "Must mention institutional trust, prevention of corruption, and democratic stability.",
				},
			},
		},
	}
}
