package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/validator"
)

const questionSheet = "Questions"

var optionColumns = []struct {
	column string
	id     string
}{
	{"option_a", "A"},
	{"option_b", "B"},
	{"option_c", "C"},
	{"option_d", "D"},
	{"option_e", "E"},
}

// QuestionSheetHeader is the column layout read by Import and written by Export.
var QuestionSheetHeader = []string{
	"subject", "question",
	"option_a", "option_b", "option_c", "option_d", "option_e",
	"correct", "explanation", "difficulty",
}

var requiredImportColumns = []string{"subject", "question", "option_a", "option_b", "correct"}

// Import reads questions from the first sheet of an .xlsx workbook. Rows that
// fail validation are reported and skipped; the rest are inserted together.
func (s *questionService) Import(ctx context.Context, r io.Reader, userID string, publish bool) (*models.ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidImport)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidImport)
	}

	columns := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredImportColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidImport, name)
		}
	}

	s.logger.Info("Importing questions", "user_id", userID, "rows", len(rows)-1, "publish", publish)

	result := &models.ImportResult{Errors: []models.ImportRowError{}}
	bv := s.validator.GetBusinessValidator()
	subjects := make(map[string]*models.Subject)
	seen := make(map[string]int)
	var questions []*models.Question

	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		result.TotalRows++

		reject := func(field, msg string) {
			result.Skipped++
			result.Errors = append(result.Errors, models.ImportRowError{Row: rowNum, Field: field, Message: msg})
		}

		subjectName := cell("subject")
		subject, err := s.lookupSubject(ctx, subjects, subjectName)
		if err != nil {
			return nil, err
		}
		if subject == nil {
			reject("subject", fmt.Sprintf("unknown subject %q", subjectName))
			continue
		}

		req := &validator.QuestionCreateRequest{
			SubjectID:       subject.ID,
			Stem:            cell("question"),
			CorrectOptionID: strings.ToUpper(cell("correct")),
			Difficulty:      models.DifficultyLevel(strings.ToLower(cell("difficulty"))),
			Publish:         publish,
		}
		if req.Difficulty == "" {
			req.Difficulty = models.DifficultyMedium
		}
		if explanation := cell("explanation"); explanation != "" {
			req.Explanation = &explanation
		}
		for _, oc := range optionColumns {
			if text := cell(oc.column); text != "" {
				req.Options = append(req.Options, validator.OptionRequest{ID: oc.id, Text: text})
			}
		}

		if errs := bv.ValidateQuestionCreate(req); len(errs) > 0 {
			reject(errs[0].Field, errs[0].Message)
			continue
		}

		key := fmt.Sprintf("%d|%s", subject.ID, strings.ToLower(req.Stem))
		if first, dup := seen[key]; dup {
			reject("question", fmt.Sprintf("duplicate of row %d", first))
			continue
		}
		exists, err := s.repo.Question().ExistsByStem(ctx, s.db, subject.ID, req.Stem, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to check duplicate stem: %w", err)
		}
		if exists {
			reject("question", "a question with this stem already exists")
			continue
		}
		seen[key] = rowNum

		questions = append(questions, questionFromRequest(req, userID, models.SourceImport))
	}

	if len(questions) > 0 {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			return s.repo.Question().CreateBatch(ctx, tx, questions)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to import questions: %w", err)
		}
	}
	result.Imported = len(questions)

	s.logger.Info("Questions imported",
		"user_id", userID,
		"imported", result.Imported,
		"skipped", result.Skipped)

	return result, nil
}

// Export writes the matching questions as an .xlsx workbook using the same
// columns Import reads.
func (s *questionService) Export(ctx context.Context, filters repositories.QuestionFilters) ([]byte, error) {
	filters.Limit = 0
	filters.Offset = 0
	if filters.SortBy == "" {
		filters.SortBy = "id"
		filters.SortOrder = "asc"
	}
	questions, _, err := s.repo.Question().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	subjects, err := s.repo.Subject().List(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	names := make(map[uint]string, len(subjects))
	for _, subj := range subjects {
		names[subj.ID] = subj.Name
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), questionSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeHeader(f, questionSheet, QuestionSheetHeader); err != nil {
		return nil, err
	}

	for i, q := range questions {
		row := make([]interface{}, len(QuestionSheetHeader))
		row[0] = names[q.SubjectID]
		row[1] = q.Stem
		for j, oc := range optionColumns {
			for _, o := range q.Options {
				if o.ID == oc.id {
					row[2+j] = o.Text
				}
			}
		}
		row[7] = q.CorrectOptionID
		if q.Explanation != nil {
			row[8] = *q.Explanation
		}
		row[9] = string(q.Difficulty)

		cellName, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(questionSheet, cellName, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}

	s.logger.Info("Questions exported", "count", len(questions))
	return buf.Bytes(), nil
}

func (s *questionService) lookupSubject(ctx context.Context, known map[string]*models.Subject, name string) (*models.Subject, error) {
	key := strings.ToLower(name)
	if subj, ok := known[key]; ok {
		return subj, nil
	}
	if key == "" {
		return nil, nil
	}
	subj, err := s.repo.Subject().FindByNameOrSlug(ctx, s.db, name)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			known[key] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up subject: %w", err)
	}
	known[key] = subj
	return subj, nil
}

// writeHeader writes a bold header row.
func writeHeader(f *excelize.File, sheet string, header []string) error {
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
