package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/ai"
	"github.com/dentprep/exam-service/internal/cache"
	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/storage"
	"github.com/dentprep/exam-service/internal/validator"
)

// ServiceManager owns every service and their shared dependencies.
type ServiceManager interface {
	Initialize(ctx context.Context) error

	Quiz() QuizService
	Question() QuestionService
	Document() DocumentService
	Generation() GenerationService
	Progress() ProgressService
	Leaderboard() LeaderboardService
	Dashboard() DashboardService

	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Dependencies are the collaborators shared by the services.
type Dependencies struct {
	DB        *gorm.DB
	Repo      repositories.Repository
	Logger    *slog.Logger
	Validator *validator.Validator
	Publisher events.EventPublisher
	Store     storage.ObjectStore
	Generator *ai.Generator
	Cache     *cache.CacheManager
	Config    *config.Config
}

type serviceManager struct {
	deps Dependencies

	quizService        QuizService
	questionService    QuestionService
	documentService    DocumentService
	generationService  GenerationService
	progressService    ProgressService
	leaderboardService LeaderboardService
	dashboardService   DashboardService

	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a service manager. Call Initialize before use.
func NewServiceManager(deps Dependencies) ServiceManager {
	if deps.Cache == nil {
		deps.Cache = cache.NewCacheManager(nil)
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &serviceManager{deps: deps}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger().Info("Initializing service manager")

	if err := sm.checkDependencies(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	d := sm.deps
	redisClient := d.Cache.Client()

	sm.questionService = NewQuestionService(d.Repo, d.DB, d.Logger, d.Validator)
	sm.quizService = NewQuizService(d.Repo, d.DB, d.Logger, d.Validator, d.Publisher, d.Config.Quiz)
	sm.documentService = NewDocumentService(d.Repo, d.DB, d.Logger, d.Store, d.Config.Storage.MaxUploadBytes)
	sm.generationService = NewGenerationService(d.Repo, d.DB, d.Logger, d.Validator,
		sm.documentService, d.Store, d.Generator, d.Publisher, d.Cache)
	sm.leaderboardService = NewLeaderboardService(d.Repo, d.DB, d.Logger, cache.NewLeaderboardStore(redisClient))
	sm.progressService = NewProgressService(d.Repo, d.DB, d.Logger, sm.leaderboardService, redisClient)
	sm.dashboardService = NewDashboardService(d.Repo, d.DB, d.Logger)

	sm.initialized = true
	sm.logger().Info("Service manager initialized successfully",
		"redis", redisClient != nil,
		"ai_client", d.Generator.ClientName())

	return nil
}

func (sm *serviceManager) checkDependencies() error {
	d := sm.deps
	switch {
	case d.DB == nil:
		return fmt.Errorf("database is required")
	case d.Repo == nil:
		return fmt.Errorf("repository is required")
	case d.Logger == nil:
		return fmt.Errorf("logger is required")
	case d.Validator == nil:
		return fmt.Errorf("validator is required")
	case d.Publisher == nil:
		return fmt.Errorf("event publisher is required")
	case d.Store == nil:
		return fmt.Errorf("object store is required")
	case d.Generator == nil:
		return fmt.Errorf("generator is required")
	}
	return nil
}

func (sm *serviceManager) logger() *slog.Logger {
	if sm.deps.Logger != nil {
		return sm.deps.Logger
	}
	return slog.Default()
}

// Service getters
func (sm *serviceManager) Quiz() QuizService {
	sm.mustBeInitialized()
	return sm.quizService
}

func (sm *serviceManager) Question() QuestionService {
	sm.mustBeInitialized()
	return sm.questionService
}

func (sm *serviceManager) Document() DocumentService {
	sm.mustBeInitialized()
	return sm.documentService
}

func (sm *serviceManager) Generation() GenerationService {
	sm.mustBeInitialized()
	return sm.generationService
}

func (sm *serviceManager) Progress() ProgressService {
	sm.mustBeInitialized()
	return sm.progressService
}

func (sm *serviceManager) Leaderboard() LeaderboardService {
	sm.mustBeInitialized()
	return sm.leaderboardService
}

func (sm *serviceManager) Dashboard() DashboardService {
	sm.mustBeInitialized()
	return sm.dashboardService
}

func (sm *serviceManager) mustBeInitialized() {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.deps.Repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	if sm.deps.Cache.Client() != nil {
		if err := sm.deps.Cache.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache health check failed: %w", err)
		}
	}
	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger().Info("Shutting down service manager")

	if err := sm.deps.Publisher.Close(); err != nil {
		sm.logger().Error("Failed to close event publisher", "error", err)
	}

	if repoManager, ok := sm.deps.Repo.(repositories.RepositoryManager); ok {
		if err := repoManager.Shutdown(ctx); err != nil {
			sm.logger().Error("Failed to shutdown repository manager", "error", err)
		}
	}

	sm.shutdown = true
	sm.logger().Info("Service manager shut down completed")

	return nil
}
