package export

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/examportal/internal/app"
	"github.com/shrimpsizemoose/examportal/internal/models"
)

// Source is the read side of the registry the exporter needs.
type Source interface {
	Refresh(ctx context.Context) error
	Exam(id string) (models.Exam, bool)
	SubmissionsForExam(examID string) []models.Submission
	User(id string) (models.User, bool)
}

// sheetWriter replaces the contents of one sheet.
type sheetWriter interface {
	Replace(ctx context.Context, spreadsheetID, sheetName string, rows [][]interface{}) error
}

type sheetsWriter struct {
	svc *sheets.Service
}

func (w sheetsWriter) Replace(ctx context.Context, spreadsheetID, sheetName string, rows [][]interface{}) error {
	_, err := w.svc.Spreadsheets.Values.Clear(spreadsheetID, sheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", sheetName, err)
	}
	_, err = w.svc.Spreadsheets.Values.Update(spreadsheetID, sheetName+"!A1",
		&sheets.ValueRange{Values: rows}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", sheetName, err)
	}
	return nil
}

type GSheetExporter struct {
	source    Source
	scheduler *gocron.Scheduler
	writers   map[string]sheetWriter
}

var header = []interface{}{"Student", "Email", "Matric number", "Status", "Score", "Total", "Submitted at"}

func NewGSheetExporter(ctx context.Context, sheetsCfg []app.SheetConfig, source Source) (*GSheetExporter, error) {
	e := &GSheetExporter{
		source:    source,
		scheduler: gocron.NewScheduler(time.UTC),
		writers:   map[string]sheetWriter{},
	}

	for _, cfg := range sheetsCfg {
		writer, ok := e.writers[cfg.CredentialsFile]
		if !ok {
			svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
			if err != nil {
				return nil, fmt.Errorf("failed to create sheets service: %w", err)
			}
			writer = sheetsWriter{svc: svc}
			e.writers[cfg.CredentialsFile] = writer
		}

		_, err := e.scheduler.Cron(cfg.Cron).Do(func() {
			if err := e.Export(ctx, writer, cfg); err != nil {
				logger.Error.Printf("Export of %s failed: %v", cfg.ExamID, err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule export of %s: %w", cfg.ExamID, err)
		}
	}

	e.scheduler.StartAsync()
	return e, nil
}

func (e *GSheetExporter) Stop() {
	e.scheduler.Stop()
}

func (e *GSheetExporter) Export(ctx context.Context, writer sheetWriter, cfg app.SheetConfig) error {
	if err := e.source.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to reload before export: %w", err)
	}
	exam, ok := e.source.Exam(cfg.ExamID)
	if !ok {
		return fmt.Errorf("exam %s not found", cfg.ExamID)
	}
	rows := buildRows(exam, e.source.SubmissionsForExam(exam.ID), e.source.User)
	if err := writer.Replace(ctx, cfg.SpreadsheetID, cfg.SheetName, rows); err != nil {
		return err
	}
	logger.Info.Printf("Exported %d results of %s to %s", len(rows)-1, exam.ID, cfg.SheetName)
	return nil
}

// buildRows lays out one header row plus one row per submission, ordered by
// submission time. Students that were removed keep their id in place of the
// name.
func buildRows(exam models.Exam, subs []models.Submission, lookup func(string) (models.User, bool)) [][]interface{} {
	slices.SortStableFunc(subs, func(a, b models.Submission) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	rows := make([][]interface{}, 0, len(subs)+1)
	rows = append(rows, header)
	for _, sub := range subs {
		name, email, matric := sub.StudentID, "", ""
		if u, ok := lookup(sub.StudentID); ok {
			name, email = u.Name, u.Email
			if p, ok := u.Student(); ok {
				matric = p.MatricNumber
			}
		}

		var score interface{} = ""
		if sub.Score != nil {
			score = *sub.Score
		}
		rows = append(rows, []interface{}{
			name,
			email,
			matric,
			string(sub.Status),
			score,
			exam.TotalPoints(),
			sub.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}
