package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/models"
	"github.com/shrimpsizemoose/examportal/internal/scoring"
)

const (
	guestHelp = `This bot is for portal administrators.
/help - Show this message`

	adminHelp = `Available commands:
/pending - Students waiting for confirmation
/confirm <user-id> - Confirm a student
/grade <submission-id|all> - Grade one submission or every pending one
/results <exam-id> - Results of an exam
/activity [n] - Latest activity entries (default 10)
/help - Show this message

Examples:
/confirm s2
/grade all
/results e1
/activity 20`
)

const defaultActivityCount = 10

type commandHandler func(ctx context.Context, actor models.User, args []string) (string, error)

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"pending":  b.handlePending,
		"confirm":  b.handleConfirm,
		"grade":    b.handleGrade,
		"results":  b.handleResults,
		"activity": b.handleActivity,
	}
	handler, found := commands[cmd]
	return handler, found
}

// actorFor is the identity bot actions are logged under.
func actorFor(from *tgbotapi.User) models.User {
	name := from.UserName
	if name == "" {
		name = strings.TrimSpace(from.FirstName + " " + from.LastName)
	}
	return models.User{
		ID:   fmt.Sprintf("tg:%d", from.ID),
		Name: name,
		Role: models.RoleAdmin,
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !msg.IsCommand() {
		b.sendHelp(msg.Chat.ID)
		return
	}

	text := b.dispatch(ctx, msg.From, msg.Command(), strings.Fields(msg.CommandArguments()))
	if err := b.sendMessage(msg.Chat.ID, text); err != nil {
		logger.Error.Printf("Failed to reply to %d: %v", msg.Chat.ID, err)
	}
}

// dispatch runs one command and returns the reply text.
func (b *Bot) dispatch(ctx context.Context, from *tgbotapi.User, cmd string, args []string) string {
	if !b.admins[from.ID] {
		return guestHelp
	}
	if cmd == "help" || cmd == "start" {
		return adminHelp
	}

	handler, ok := b.routeAdminCommands(cmd)
	if !ok {
		return adminHelp
	}
	if err := b.service.Registry.Refresh(ctx); err != nil {
		logger.Error.Printf("Failed to reload portal state before /%s: %v", cmd, err)
	}
	reply, err := handler(ctx, actorFor(from), args)
	if err != nil {
		logger.Error.Printf("Command error: %v", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return reply
}

func (b *Bot) handlePending(_ context.Context, _ models.User, _ []string) (string, error) {
	var msg strings.Builder
	for _, u := range b.service.Registry.Users() {
		if u.IsConfirmed() {
			continue
		}
		p, _ := u.Student()
		msg.WriteString(fmt.Sprintf("👤 %s (%s)\n%s, %s %s\n\n", u.Name, u.ID, u.Email, p.Institute, p.MatricNumber))
	}
	if msg.Len() == 0 {
		return "No students waiting for confirmation", nil
	}
	return "Waiting for confirmation:\n\n" + msg.String(), nil
}

func (b *Bot) handleConfirm(ctx context.Context, actor models.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /confirm <user-id>")
	}
	user, err := b.service.Registration.ConfirmStudent(ctx, actor, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ %s (%s) is confirmed", user.Name, user.ID), nil
}

func (b *Bot) handleGrade(ctx context.Context, actor models.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /grade <submission-id|all>")
	}

	if args[0] == "all" {
		graded, err := b.service.Grader.GradePending(ctx, actor)
		var msg strings.Builder
		msg.WriteString(fmt.Sprintf("Graded %d submissions\n", len(graded)))
		for _, sub := range graded {
			msg.WriteString(fmt.Sprintf("📝 %s: %s\n", sub.ID, scoreText(sub)))
		}
		if err != nil {
			msg.WriteString(fmt.Sprintf("\nSome submissions failed: %v", err))
		}
		return msg.String(), nil
	}

	sub, err := b.service.Grader.Grade(ctx, actor, args[0])
	if errors.Is(err, scoring.ErrNotGradable) {
		return fmt.Sprintf("Submission %s is %s, nothing to do", sub.ID, sub.Status), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📝 %s graded: %s\n\n%s", sub.ID, scoreText(sub), *sub.AIFeedback), nil
}

func scoreText(sub models.Submission) string {
	if sub.Score == nil {
		return string(sub.Status)
	}
	return strconv.FormatFloat(*sub.Score, 'g', -1, 64)
}

func (b *Bot) handleResults(_ context.Context, _ models.User, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: /results <exam-id>")
	}
	exam, ok := b.service.Registry.Exam(args[0])
	if !ok {
		return "", fmt.Errorf("exam %s not found", args[0])
	}

	subs := b.service.Registry.SubmissionsForExam(exam.ID)
	if len(subs) == 0 {
		return fmt.Sprintf("No submissions for %s yet", exam.Title), nil
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("Results for %s (out of %g):\n\n", exam.Title, exam.TotalPoints()))
	for _, sub := range subs {
		name := sub.StudentID
		if u, ok := b.service.Registry.User(sub.StudentID); ok {
			name = u.Name
		}
		msg.WriteString(fmt.Sprintf("👉🏻 %s: %s\n", name, scoreText(sub)))
	}
	return msg.String(), nil
}

func (b *Bot) handleActivity(_ context.Context, _ models.User, args []string) (string, error) {
	n := defaultActivityCount
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return "", fmt.Errorf("invalid count: %s", args[0])
		}
		n = parsed
	}

	logs := b.service.Registry.ActivityLogs()
	if len(logs) == 0 {
		return "No activity yet", nil
	}
	if len(logs) > n {
		logs = logs[:n]
	}

	var msg strings.Builder
	for _, l := range logs {
		msg.WriteString(fmt.Sprintf("%s %s %s (%s): %s\n",
			l.Timestamp.UTC().Format("2006-Jan-02 15:04"),
			l.Type,
			l.UserName,
			l.UserRole.Label(),
			l.Details,
		))
	}
	return msg.String(), nil
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Use commands to talk to the bot. Send /help for the list.")
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}
