package repositories

import "context"

// Repository aggregates every repository the service uses
type Repository interface {
	// Question bank
	Subject() SubjectRepository
	Question() QuestionRepository

	// Quiz delivery
	Quiz() QuizSessionRepository
	Answer() AnswerRepository

	// Study material generation
	Document() DocumentRepository
	Generation() GenerationJobRepository
	Flashcard() FlashcardRepository

	// Gamification
	Progress() ProgressRepository

	// Admin analytics
	Dashboard() DashboardRepository

	// Users live in Casdoor; read-only here
	User() UserRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
