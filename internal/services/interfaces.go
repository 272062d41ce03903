package services

import (
	"context"
	"io"
	"time"

	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/jobs"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

type CreateQuestionRequest = validator.QuestionCreateRequest
type UpdateQuestionRequest = validator.QuestionUpdateRequest
type CreateSubjectRequest = validator.SubjectCreateRequest

type StartQuizRequest = validator.StartQuizRequest
type SubmitAnswerRequest = validator.SubmitAnswerRequest

type GenerationRequest = validator.GenerationCreateRequest

// ===== QUIZ DTOs =====

// QuizQuestion is a question as presented during a session. It never
// carries the correct option.
type QuizQuestion struct {
	Position         int                    `json:"position"`
	QuestionID       uint                   `json:"question_id"`
	SubjectID        uint                   `json:"subject_id"`
	Stem             string                 `json:"stem"`
	Options          []models.Option        `json:"options"`
	Difficulty       models.DifficultyLevel `json:"difficulty"`
	SelectedOptionID *string                `json:"selected_option_id,omitempty"`
}

type QuizSessionResponse struct {
	*models.QuizSession
	Questions        []QuizQuestion `json:"questions"`
	RemainingSeconds *int           `json:"remaining_seconds,omitempty"`
	Resumed          bool           `json:"resumed"`
}

type AnswerResult struct {
	QuestionID      uint    `json:"question_id"`
	Accepted        bool    `json:"accepted"`
	IsCorrect       *bool   `json:"is_correct,omitempty"`
	CorrectOptionID *string `json:"correct_option_id,omitempty"`
	Explanation     *string `json:"explanation,omitempty"`
	AnsweredCount   int     `json:"answered_count"`
	TotalQuestions  int     `json:"total_questions"`
	CurrentIndex    int     `json:"current_index"`
}

type QuizResult struct {
	SessionID   uint      `json:"session_id"`
	Total       int       `json:"total"`
	Answered    int       `json:"answered"`
	Correct     int       `json:"correct"`
	Percentage  float64   `json:"percentage"`
	Passed      bool      `json:"passed"`
	PassMark    float64   `json:"pass_mark"`
	CompletedAt time.Time `json:"completed_at"`
}

type ReviewItem struct {
	Position         int             `json:"position"`
	QuestionID       uint            `json:"question_id"`
	Stem             string          `json:"stem"`
	Options          []models.Option `json:"options"`
	CorrectOptionID  string          `json:"correct_option_id"`
	Explanation      *string         `json:"explanation,omitempty"`
	SelectedOptionID *string         `json:"selected_option_id,omitempty"`
	IsCorrect        bool            `json:"is_correct"`
	TimeSpent        int             `json:"time_spent"`
}

type ReviewResponse struct {
	Session *models.QuizSession `json:"session"`
	Items   []ReviewItem        `json:"items"`
}

// ===== PROGRESS DTOs =====

type ProgressResponse struct {
	*models.UserProgress
	StreakAlive bool    `json:"streak_alive"`
	Accuracy    float64 `json:"accuracy"`
}

// XPAward describes what one completed quiz earned.
type XPAward struct {
	SessionID     uint  `json:"session_id"`
	XP            int64 `json:"xp"`
	TotalXP       int64 `json:"total_xp"`
	CurrentStreak int   `json:"current_streak"`
}

type LeaderboardRequest struct {
	Period    string
	SubjectID *uint
	Limit     int
	At        time.Time
}

type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	XP          int64  `json:"xp"`
}

type LeaderboardResponse struct {
	Period    string             `json:"period"`
	Key       string             `json:"key"`
	SubjectID *uint              `json:"subject_id,omitempty"`
	Source    string             `json:"source"`
	Entries   []LeaderboardEntry `json:"entries"`
}

// ===== STUDY DTOs =====

type UploadDocumentInput struct {
	Title       string
	ContentType string
	SubjectID   *uint
	Size        int64
	Content     io.Reader
}

// ===== SERVICE INTERFACES =====

type QuizService interface {
	Start(ctx context.Context, req *StartQuizRequest, userID string) (*QuizSessionResponse, error)
	Get(ctx context.Context, sessionID uint, userID string) (*QuizSessionResponse, error)
	SubmitAnswer(ctx context.Context, sessionID uint, req *SubmitAnswerRequest, userID string) (*AnswerResult, error)
	Complete(ctx context.Context, sessionID uint, userID string) (*QuizResult, error)
	Review(ctx context.Context, sessionID uint, userID string) (*ReviewResponse, error)
	Retake(ctx context.Context, sessionID uint, userID string) (*QuizSessionResponse, error)
	ListSessions(ctx context.Context, userID string, filters repositories.SessionFilters) ([]*models.QuizSession, int64, error)
	ExpireStale(ctx context.Context) (int64, error)
}

type QuestionService interface {
	Create(ctx context.Context, req *CreateQuestionRequest, userID string) (*models.Question, error)
	GetByID(ctx context.Context, id uint) (*models.Question, error)
	Update(ctx context.Context, id uint, req *UpdateQuestionRequest, userID string) (*models.Question, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.QuestionFilters) ([]*models.Question, int64, error)
	SetPublished(ctx context.Context, ids []uint, published bool, userID string) (int64, error)
	GetStats(ctx context.Context, id uint) (*models.QuestionStats, error)

	ListSubjects(ctx context.Context) ([]*models.Subject, error)
	CreateSubject(ctx context.Context, req *CreateSubjectRequest) (*models.Subject, error)

	Import(ctx context.Context, r io.Reader, userID string, publish bool) (*models.ImportResult, error)
	Export(ctx context.Context, filters repositories.QuestionFilters) ([]byte, error)
}

type DocumentService interface {
	Upload(ctx context.Context, userID string, in *UploadDocumentInput) (*models.StudyDocument, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.StudyDocument, int64, error)
	Get(ctx context.Context, id uint, userID string) (*models.StudyDocument, error)
	Download(ctx context.Context, id uint, userID string) (*models.StudyDocument, io.ReadCloser, error)
	Delete(ctx context.Context, id uint, userID string) error
	ReadText(ctx context.Context, doc *models.StudyDocument) (string, error)
}

type GenerationService interface {
	Request(ctx context.Context, userID string, req *GenerationRequest) (*models.GenerationJob, error)
	Get(ctx context.Context, jobID, userID string) (*models.GenerationJob, error)
	List(ctx context.Context, filters repositories.JobFilters) ([]*models.GenerationJob, int64, error)
	Cancel(ctx context.Context, jobID, userID string) (*models.GenerationJob, error)
	Wait(ctx context.Context, jobID, userID string, interval time.Duration) (*models.GenerationJob, error)
	Retry(ctx context.Context, jobID, adminID string) (*models.GenerationJob, error)
	GetDeck(ctx context.Context, deckID uint, userID string) (*models.FlashcardDeck, error)
	ListDecks(ctx context.Context, userID string, limit, offset int) ([]*models.FlashcardDeck, int64, error)

	// Handlers run by the worker pool, one per generation kind
	Handlers() map[models.GenerationKind]jobs.Handler
}

type ProgressService interface {
	RecordQuizCompleted(ctx context.Context, evt *events.QuizCompletedEvent) (*XPAward, error)
	HandleQuizCompleted(ctx context.Context, event *events.Event) error
	GetProgress(ctx context.Context, userID string) (*ProgressResponse, error)
	GetActivity(ctx context.Context, userID string, days int) ([]*models.DailyActivity, error)
}

type LeaderboardService interface {
	AddXP(ctx context.Context, userID string, subjectID *uint, xp int64, at time.Time) error
	Top(ctx context.Context, req LeaderboardRequest) (*LeaderboardResponse, error)
	Rank(ctx context.Context, req LeaderboardRequest, userID string) (*LeaderboardEntry, error)
}

type DashboardService interface {
	GetStats(ctx context.Context) (*models.DashboardStats, error)
	RecentSessions(ctx context.Context, limit int) ([]*models.QuizSession, error)
	RecentJobs(ctx context.Context, limit int) ([]*models.GenerationJob, error)
	ExportSessions(ctx context.Context, from, to time.Time) ([]byte, error)
}
