package bot

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/examportal/internal/app"
	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/store"
	"github.com/shrimpsizemoose/examportal/internal/store/memory"
)

var (
	adminUser = &tgbotapi.User{ID: 42, UserName: "registrar"}
	stranger  = &tgbotapi.User{ID: 7, FirstName: "Random", LastName: "Person"}
)

func newTestBot(t *testing.T) *Bot {
	t.Helper()
	return newTestBotOn(t, memory.NewMemoryStore())
}

func newTestBotOn(t *testing.T, backend store.CollectionStore) *Bot {
	t.Helper()
	t.Setenv("PORTAL_AI_BASE_URL", "")
	cfg, err := app.ParseConfig("test.toml", []byte(`
[server]
port = ":0"
[portal]
institutional_domain = "ladtem.org"
`))
	require.NoError(t, err)

	svc, err := app.Assemble(context.Background(), cfg, backend, clockwork.NewFakeClockAt(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return newBot(svc, []int64{42})
}

func TestDispatch_OnlyAdmins(t *testing.T) {
	b := newTestBot(t)
	assert.Equal(t, guestHelp, b.dispatch(context.Background(), stranger, "confirm", []string{"s2"}))
	assert.Equal(t, adminHelp, b.dispatch(context.Background(), adminUser, "help", nil))
	assert.Equal(t, adminHelp, b.dispatch(context.Background(), adminUser, "unknown", nil))

	bob, _ := b.service.Registry.User("s2")
	assert.False(t, bob.Confirmed)
}

func TestDispatch_PendingAndConfirm(t *testing.T) {
	ctx := context.Background()
	b := newTestBot(t)

	reply := b.dispatch(ctx, adminUser, "pending", nil)
	assert.Contains(t, reply, "Bob Smith (s2)")
	assert.NotContains(t, reply, "Alice")

	reply = b.dispatch(ctx, adminUser, "confirm", []string{"s2"})
	assert.Contains(t, reply, "is confirmed")
	assert.Equal(t, "No students waiting for confirmation", b.dispatch(ctx, adminUser, "pending", nil))

	logs := b.service.Registry.ActivityLogs()
	require.NotEmpty(t, logs)
	assert.Equal(t, models.ActivityConfirmation, logs[0].Type)
	assert.Equal(t, "tg:42", logs[0].UserID)
	assert.Equal(t, "registrar", logs[0].UserName)

	assert.Contains(t, b.dispatch(ctx, adminUser, "confirm", nil), "usage")
}

func TestDispatch_GradeAndResults(t *testing.T) {
	ctx := context.Background()
	b := newTestBot(t)
	reg := b.service.Registry

	_, _, err := reg.CreateSubmission(ctx, models.Submission{
		ID:        "sub1",
		ExamID:    "e1",
		StudentID: "s1",
		Answers:   []models.Answer{{QuestionID: "q1", Value: "Public trust and transparency"}},
		Status:    models.StatusSubmitted,
	})
	require.NoError(t, err)

	assert.Contains(t, b.dispatch(ctx, adminUser, "results", []string{"e1"}), "Alice Johnson: SUBMITTED")

	reply := b.dispatch(ctx, adminUser, "grade", []string{"all"})
	assert.Contains(t, reply, "Graded 1 submissions")
	assert.Contains(t, reply, "sub1: 2")

	assert.Contains(t, b.dispatch(ctx, adminUser, "grade", []string{"sub1"}), "is COMPLETED, nothing to do")
	assert.Contains(t, b.dispatch(ctx, adminUser, "results", []string{"e1"}), "Alice Johnson: 2")
	assert.Contains(t, b.dispatch(ctx, adminUser, "results", []string{"nope"}), "Error")
}

func TestDispatch_Activity(t *testing.T) {
	ctx := context.Background()
	b := newTestBot(t)
	assert.Equal(t, "No activity yet", b.dispatch(ctx, adminUser, "activity", nil))

	b.dispatch(ctx, adminUser, "confirm", []string{"s2"})
	reply := b.dispatch(ctx, adminUser, "activity", []string{"5"})
	assert.Contains(t, reply, "CONFIRMATION registrar (admin)")
	assert.Contains(t, b.dispatch(ctx, adminUser, "activity", []string{"-1"}), "invalid count")
}

func TestDispatch_SeesWritesFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryStore()
	b := newTestBotOn(t, backend)

	server, err := registry.Open(ctx, backend, clockwork.NewFakeClockAt(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	confirmed := true
	_, err = server.PatchUser(ctx, "s2", models.UserPatch{Confirmed: &confirmed})
	require.NoError(t, err)

	assert.Equal(t, "No students waiting for confirmation", b.dispatch(ctx, adminUser, "pending", nil))
}

func TestActorFor(t *testing.T) {
	actor := actorFor(stranger)
	assert.Equal(t, "tg:7", actor.ID)
	assert.Equal(t, "Random Person", actor.Name)
	assert.Equal(t, models.RoleAdmin, actor.Role)
}
