package jobs

import (
	"context"
	"log/slog"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

// Handler executes one claimed job. The returned result is stored as the
// job's JSON result when err is nil.
type Handler func(ctx context.Context, jc *JobContext) (interface{}, error)

// JobContext is the handle a handler gets for a single job run. Handlers
// report progress through it and never update the job row themselves.
type JobContext struct {
	Job *models.GenerationJob

	// ResultKey is the object storage key of the raw result, if the handler
	// stored one.
	ResultKey string

	repo   repositories.GenerationJobRepository
	logger *slog.Logger
}

func newJobContext(job *models.GenerationJob, repo repositories.GenerationJobRepository, logger *slog.Logger) *JobContext {
	return &JobContext{
		Job:    job,
		repo:   repo,
		logger: logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts),
	}
}

// Progress records the current stage and percentage and refreshes the
// heartbeat. Call it outside of any open transaction.
func (jc *JobContext) Progress(ctx context.Context, stage string, pct int) {
	if pct > 100 {
		pct = 100
	}
	jc.Job.Stage = stage
	jc.Job.Progress = pct
	if err := jc.repo.Heartbeat(ctx, jc.Job.ID, stage, pct); err != nil {
		jc.logger.Warn("Failed to record job progress", "stage", stage, "error", err)
	}
}

func (jc *JobContext) Logger() *slog.Logger {
	return jc.logger
}
