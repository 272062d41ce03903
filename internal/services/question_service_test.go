package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/validator"
)

func newTestQuestionService(env *testEnv) QuestionService {
	return NewQuestionService(env.repo, env.db, env.logger, env.validator)
}

func validQuestionRequest(subjectID uint, stem string) *CreateQuestionRequest {
	explanation := "The probe reads from the gingival margin to the base of the sulcus."
	return &CreateQuestionRequest{
		SubjectID: subjectID,
		Stem:      stem,
		Options: []validator.OptionRequest{
			{ID: "A", Text: "0.5 mm"},
			{ID: "B", Text: "1-3 mm"},
			{ID: "C", Text: "5-7 mm"},
		},
		CorrectOptionID: "B",
		Explanation:     &explanation,
		Difficulty:      models.DifficultyEasy,
		Tags:            []string{"probing"},
	}
}

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestQuestionService_CreateAndDuplicates(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")

	q, err := svc.Create(ctx, validQuestionRequest(perio.ID, "Normal sulcus depth in health?"), "admin-1")
	require.NoError(t, err)
	assert.NotZero(t, q.ID)
	assert.Equal(t, models.SourceManual, q.Source)
	assert.False(t, q.IsPublished)
	assert.Equal(t, "admin-1", q.CreatedBy)
	assert.Len(t, q.Options, 3)

	_, err = svc.Create(ctx, validQuestionRequest(perio.ID, "  normal SULCUS depth in health?"), "admin-1")
	assert.ErrorIs(t, err, ErrQuestionDuplicateStem)

	_, err = svc.Create(ctx, validQuestionRequest(9999, "Stem for a subject that does not exist"), "admin-1")
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	bad := validQuestionRequest(perio.ID, "Which option is the correct one here?")
	bad.CorrectOptionID = "E"
	_, err = svc.Create(ctx, bad, "admin-1")
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.NotEmpty(t, verrs)

	short := validQuestionRequest(perio.ID, "Too short")
	_, err = svc.Create(ctx, short, "admin-1")
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "stem", verrs[0].Field)
}

func TestQuestionService_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	endo := seedSubject(t, env.db, "Endodontics", "endodontics")

	first, err := svc.Create(ctx, validQuestionRequest(perio.ID, "Normal sulcus depth in health?"), "admin-1")
	require.NoError(t, err)
	second, err := svc.Create(ctx, validQuestionRequest(perio.ID, "Pocket depth that indicates disease?"), "admin-1")
	require.NoError(t, err)

	hard := models.DifficultyHard
	correct := "C"
	updated, err := svc.Update(ctx, first.ID, &UpdateQuestionRequest{Difficulty: &hard, CorrectOptionID: &correct}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.DifficultyHard, updated.Difficulty)
	assert.Equal(t, "C", updated.CorrectOptionID)

	got, err := svc.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.CorrectOptionID)

	stem := "pocket depth that indicates disease?"
	_, err = svc.Update(ctx, first.ID, &UpdateQuestionRequest{Stem: &stem}, "admin-1")
	assert.ErrorIs(t, err, ErrQuestionDuplicateStem)

	// The same stem is fine in another subject
	updated, err = svc.Update(ctx, first.ID, &UpdateQuestionRequest{Stem: &stem, SubjectID: &endo.ID}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, endo.ID, updated.SubjectID)

	missing := "Z"
	_, err = svc.Update(ctx, second.ID, &UpdateQuestionRequest{CorrectOptionID: &missing}, "admin-1")
	var verrs ValidationErrors
	assert.True(t, errors.As(err, &verrs))

	_, err = svc.Update(ctx, 9999, &UpdateQuestionRequest{Difficulty: &hard}, "admin-1")
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	require.NoError(t, svc.Delete(ctx, second.ID, "admin-1"))
	_, err = svc.GetByID(ctx, second.ID)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, second.ID, "admin-1"), ErrQuestionNotFound)

	_, err = svc.GetStats(ctx, second.ID)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestQuestionService_SetPublished(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	a, err := svc.Create(ctx, validQuestionRequest(perio.ID, "Normal sulcus depth in health?"), "admin-1")
	require.NoError(t, err)
	b, err := svc.Create(ctx, validQuestionRequest(perio.ID, "Pocket depth that indicates disease?"), "admin-1")
	require.NoError(t, err)

	_, err = svc.SetPublished(ctx, nil, true, "admin-1")
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "ids", verrs[0].Field)

	n, err := svc.SetPublished(ctx, []uint{a.ID, b.ID}, true, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	published := true
	list, total, err := svc.List(ctx, repositories.QuestionFilters{Published: &published})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

func TestQuestionService_Subjects(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	subject, err := svc.CreateSubject(ctx, &CreateSubjectRequest{Name: " Oral Surgery & Anesthesia "})
	require.NoError(t, err)
	assert.Equal(t, "oral-surgery-anesthesia", subject.Slug)
	assert.Equal(t, "Oral Surgery & Anesthesia", subject.Name)

	_, err = svc.CreateSubject(ctx, &CreateSubjectRequest{Name: "Oral surgery", Slug: "oral-surgery-anesthesia"})
	assert.ErrorIs(t, err, ErrSubjectDuplicateSlug)

	_, err = svc.CreateSubject(ctx, &CreateSubjectRequest{Name: "X"})
	var verrs ValidationErrors
	assert.True(t, errors.As(err, &verrs))

	_, err = svc.CreateSubject(ctx, &CreateSubjectRequest{Name: "Pediatrics", Slug: "Not A Slug"})
	assert.True(t, errors.As(err, &verrs))

	subjects, err := svc.ListSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, subject.ID, subjects[0].ID)
}

func TestQuestionService_Import(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	existing := seedQuestions(t, env.db, perio.ID, 1)[0]

	buf := buildWorkbook(t, [][]interface{}{
		{"Subject", "Question", "Option_A", "Option_B", "Option_C", "Correct", "Explanation", "Difficulty"},
		{"Periodontics", "What is the normal sulcus depth in health?", "1-3 mm", "4-6 mm", "7-9 mm", "a", "Healthy sulcus", "Easy"},
		{"Orthodontics", "Which appliance corrects a crossbite quickly?", "Quad helix", "Retainer", "", "A", "", ""},
		{"periodontics", "Which bacterium is linked to aggressive periodontitis?", "A. actinomycetemcomitans", "S. mutans", "", "D", "", ""},
		{"Periodontics", "WHAT IS THE NORMAL SULCUS DEPTH IN HEALTH?", "1-3 mm", "4-6 mm", "", "A", "", ""},
		{"", "", "", "", "", "", "", ""},
		{"Periodontics", existing.Stem, "Enamel", "Dentin", "", "B", "", ""},
		{"periodontics", "Which instrument measures pocket depth?", "Periodontal probe", "Explorer", "Curette", "A", "", ""},
	})

	result, err := svc.Import(ctx, buf, "admin-1", true)
	require.NoError(t, err)
	assert.Equal(t, 6, result.TotalRows)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 4, result.Skipped)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Equal(t, "subject", result.Errors[0].Field)
	assert.Equal(t, 4, result.Errors[1].Row)
	assert.Equal(t, 5, result.Errors[2].Row)
	assert.Equal(t, "question", result.Errors[2].Field)
	assert.Equal(t, "duplicate of row 2", result.Errors[2].Message)
	assert.Equal(t, 7, result.Errors[3].Row)
	assert.Equal(t, "question", result.Errors[3].Field)

	source := models.SourceImport
	imported, total, err := svc.List(ctx, repositories.QuestionFilters{Source: &source, SortBy: "id", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, imported, 2)
	assert.Equal(t, "A", imported[0].CorrectOptionID)
	assert.Equal(t, models.DifficultyEasy, imported[0].Difficulty)
	assert.True(t, imported[0].IsPublished)
	assert.Equal(t, models.DifficultyMedium, imported[1].Difficulty)
	assert.Len(t, imported[1].Options, 3)
}

func TestQuestionService_ImportRejectsBadWorkbooks(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	_, err := svc.Import(ctx, bytes.NewReader([]byte("not a workbook")), "admin-1", false)
	assert.ErrorIs(t, err, ErrInvalidImport)

	buf := buildWorkbook(t, [][]interface{}{
		{"subject", "question", "option_a"},
		{"Periodontics", "What is the normal sulcus depth in health?", "1-3 mm"},
	})
	_, err = svc.Import(ctx, buf, "admin-1", false)
	assert.ErrorIs(t, err, ErrInvalidImport)
}

func TestQuestionService_ExportRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)
	svc := newTestQuestionService(env)
	ctx := context.Background()

	perio := seedSubject(t, env.db, "Periodontics", "periodontics")
	endo := seedSubject(t, env.db, "Endodontics", "endodontics")
	seedQuestions(t, env.db, perio.ID, 3)
	seedQuestions(t, env.db, endo.ID, 2)

	data, err := svc.Export(ctx, repositories.QuestionFilters{SubjectID: &perio.ID, Limit: 1})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Questions"}, f.GetSheetList())
	rows, err := f.GetRows("Questions")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, QuestionSheetHeader, rows[0])
	assert.Equal(t, "Periodontics", rows[1][0])
	assert.Equal(t, "Enamel", rows[1][2])
	assert.Equal(t, "Pulp", rows[1][5])
	assert.Equal(t, "B", rows[1][7])
	assert.Equal(t, "medium", rows[1][9])

	// The export imports cleanly into a fresh bank
	other := newTestEnv(t, false)
	seedSubject(t, other.db, "Periodontics", "periodontics")
	result, err := newTestQuestionService(other).Import(ctx, bytes.NewReader(data), "admin-1", false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 0, result.Skipped)
}
