package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/services"
	"github.com/dentprep/exam-service/internal/utils"
	"github.com/dentprep/exam-service/internal/validator"
)

const healthCheckTimeout = 3 * time.Second

type HandlerManager struct {
	quizHandler       *QuizHandler
	questionHandler   *QuestionHandler
	documentHandler   *DocumentHandler
	generationHandler *GenerationHandler
	progressHandler   *ProgressHandler
	dashboardHandler  *DashboardHandler
	userHandler       *UserHandler
	authMiddleware    *CasdoorAuthMiddleware
	health            func(ctx context.Context) error
	serviceName       string
	version           string
}

// RouterOptions carries the non-service inputs of the HTTP layer.
type RouterOptions struct {
	MaxUploadBytes int64
	ServiceName    string
	Version        string
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	authMiddleware *CasdoorAuthMiddleware,
	userRepo repositories.UserRepository,
	opts RouterOptions,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		quizHandler:       NewQuizHandler(serviceManager.Quiz(), serviceManager.Question(), logger),
		questionHandler:   NewQuestionHandler(serviceManager.Question(), logger),
		documentHandler:   NewDocumentHandler(serviceManager.Document(), opts.MaxUploadBytes, logger),
		generationHandler: NewGenerationHandler(serviceManager.Generation(), logger),
		progressHandler:   NewProgressHandler(serviceManager.Progress(), serviceManager.Leaderboard(), validator, logger),
		dashboardHandler:  NewDashboardHandler(serviceManager.Dashboard(), logger),
		userHandler:       NewUserHandler(userRepo, logger),
		authMiddleware:    authMiddleware,
		health:            serviceManager.HealthCheck,
		serviceName:       opts.ServiceName,
		version:           opts.Version,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		v1.GET("/subjects", hm.quizHandler.ListSubjects)

		quizzes := v1.Group("/quizzes")
		{
			quizzes.POST("", hm.quizHandler.StartQuiz)
			quizzes.GET("", hm.quizHandler.ListQuizzes)
			quizzes.GET("/:id", hm.quizHandler.GetQuiz)
			quizzes.POST("/:id/answers", hm.quizHandler.SubmitAnswer)
			quizzes.POST("/:id/complete", hm.quizHandler.CompleteQuiz)
			quizzes.GET("/:id/review", hm.quizHandler.ReviewQuiz)
			quizzes.POST("/:id/retake", hm.quizHandler.RetakeQuiz)
		}

		documents := v1.Group("/documents")
		{
			documents.POST("", hm.documentHandler.UploadDocument)
			documents.GET("", hm.documentHandler.ListDocuments)
			documents.GET("/:id", hm.documentHandler.GetDocument)
			documents.GET("/:id/download", hm.documentHandler.DownloadDocument)
			documents.DELETE("/:id", hm.documentHandler.DeleteDocument)
		}

		generations := v1.Group("/generations")
		{
			generations.POST("", hm.generationHandler.RequestGeneration)
			generations.GET("", hm.generationHandler.ListGenerations)
			generations.GET("/:id", hm.generationHandler.GetGeneration)
			generations.POST("/:id/cancel", hm.generationHandler.CancelGeneration)
		}

		v1.GET("/decks", hm.generationHandler.ListDecks)
		v1.GET("/decks/:id", hm.generationHandler.GetDeck)

		me := v1.Group("/me")
		{
			me.GET("/progress", hm.progressHandler.GetMyProgress)
			me.GET("/activity", hm.progressHandler.GetMyActivity)
		}

		leaderboards := v1.Group("/leaderboards")
		{
			leaderboards.GET("/:period", hm.progressHandler.GetLeaderboard)
			leaderboards.GET("/:period/me", hm.progressHandler.GetMyRank)
		}

		// Admin routes - Admins only
		admin := v1.Group("/admin")
		admin.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin))
		{
			admin.GET("/dashboard/stats", hm.dashboardHandler.GetStats)
			admin.GET("/dashboard/recent-sessions", hm.dashboardHandler.GetRecentSessions)
			admin.GET("/dashboard/recent-jobs", hm.dashboardHandler.GetRecentJobs)
			admin.GET("/sessions/export", hm.dashboardHandler.ExportSessions)

			admin.POST("/subjects", hm.questionHandler.CreateSubject)

			admin.POST("/questions", hm.questionHandler.CreateQuestion)
			admin.GET("/questions", hm.questionHandler.ListQuestions)
			admin.POST("/questions/publish", hm.questionHandler.PublishQuestions)
			admin.POST("/questions/import", hm.questionHandler.ImportQuestions)
			admin.GET("/questions/export", hm.questionHandler.ExportQuestions)
			admin.GET("/questions/:id", hm.questionHandler.GetQuestion)
			admin.PUT("/questions/:id", hm.questionHandler.UpdateQuestion)
			admin.DELETE("/questions/:id", hm.questionHandler.DeleteQuestion)
			admin.GET("/questions/:id/stats", hm.questionHandler.GetQuestionStats)

			admin.GET("/jobs", hm.generationHandler.ListAllJobs)
			admin.POST("/jobs/:id/retry", hm.generationHandler.RetryJob)

			admin.GET("/users", hm.userHandler.ListUsers)
			admin.GET("/users/:id", hm.userHandler.GetUser)
		}
	}
}

func (hm *HandlerManager) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	body := gin.H{
		"service":   hm.serviceName,
		"version":   hm.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := hm.health(ctx); err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "healthy"
	c.JSON(http.StatusOK, body)
}
