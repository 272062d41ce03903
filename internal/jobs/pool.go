package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/dentprep/exam-service/internal/config"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
)

type Config struct {
	// Concurrency is the number of claim loops. Zero disables job processing
	// but periodic tasks still run.
	Concurrency       int
	PollInterval      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	Now               func() time.Time
}

func ConfigFrom(c config.WorkerConfig) Config {
	return Config{
		Concurrency:  c.Concurrency,
		PollInterval: c.PollInterval,
		MaxAttempts:  c.MaxAttempts,
		RetryDelay:   c.RetryDelay,
		StaleRunning: c.StaleRunning,
	}
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 10 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

type periodicTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// Pool claims generation jobs from the database and runs the handler
// registered for their kind. Any number of pools may share one database.
type Pool struct {
	repo   repositories.GenerationJobRepository
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[models.GenerationKind]Handler
	periodic []periodicTask

	wake chan struct{}
	wg   sync.WaitGroup
}

func NewPool(repo repositories.GenerationJobRepository, cfg Config, logger *slog.Logger) *Pool {
	cfg.setDefaults()
	buf := cfg.Concurrency
	if buf < 1 {
		buf = 1
	}
	return &Pool{
		repo:     repo,
		cfg:      cfg,
		logger:   logger.With("component", "JobPool"),
		handlers: make(map[models.GenerationKind]Handler),
		wake:     make(chan struct{}, buf),
	}
}

func (p *Pool) Register(kind models.GenerationKind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Every schedules fn to run at the given interval once the pool starts.
func (p *Pool) Every(name string, interval time.Duration, fn func(ctx context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.periodic = append(p.periodic, periodicTask{name: name, interval: interval, fn: fn})
}

// Notify wakes an idle claim loop without waiting for the next poll.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the claim loops and periodic tasks. They stop when ctx is
// cancelled; use Wait to block until they have returned.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.loop(ctx, worker)
		}(i)
	}

	p.mu.RLock()
	tasks := append([]periodicTask(nil), p.periodic...)
	p.mu.RUnlock()
	for _, task := range tasks {
		p.wg.Add(1)
		go func(task periodicTask) {
			defer p.wg.Done()
			p.runPeriodic(ctx, task)
		}(task)
	}

	p.logger.Info("Job pool started", "workers", p.cfg.Concurrency, "periodic_tasks", len(tasks))
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		// drain everything runnable before sleeping again
		for ctx.Err() == nil {
			ran, err := p.RunOnce(ctx)
			if err != nil {
				p.logger.Warn("Failed to claim job", "worker", worker, "error", err)
				break
			}
			if !ran {
				break
			}
		}
	}
}

func (p *Pool) runPeriodic(ctx context.Context, task periodicTask) {
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task.fn(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("Periodic task failed", "task", task.name, "error", err)
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was run.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.repo.ClaimNextRunnable(ctx, repositories.ClaimOptions{
		MaxAttempts:  p.cfg.MaxAttempts,
		RetryDelay:   p.cfg.RetryDelay,
		StaleRunning: p.cfg.StaleRunning,
		Now:          p.cfg.Now(),
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	p.execute(ctx, job)
	return true, nil
}

func (p *Pool) execute(ctx context.Context, job *models.GenerationJob) {
	jc := newJobContext(job, p.repo, p.logger)

	p.mu.RLock()
	h, ok := p.handlers[job.Kind]
	p.mu.RUnlock()
	if !ok {
		jc.logger.Warn("No handler registered for job kind")
		p.finish(ctx, jc, nil, &missingHandlerError{Kind: job.Kind}, true)
		return
	}

	jc.logger.Info("Job started")
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	stop := p.keepAlive(runCtx, cancel, job.ID)
	result, err := invoke(runCtx, h, jc)
	stop()

	p.finish(ctx, jc, result, err, false)
	jc.logger.Info("Job finished", "duration_ms", time.Since(start).Milliseconds(), "failed", err != nil)
}

// keepAlive refreshes the heartbeat while the handler runs and cancels the
// run once the job has been cancelled by its owner.
func (p *Pool) keepAlive(ctx context.Context, cancel context.CancelFunc, jobID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := p.repo.GetByID(ctx, nil, jobID)
				if err == nil && current.Status == models.JobCancelled {
					p.logger.Info("Job cancelled while running", "job_id", jobID)
					cancel()
					return
				}
				if err := p.repo.Heartbeat(ctx, jobID, "", -1); err != nil && ctx.Err() == nil {
					p.logger.Warn("Job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func invoke(ctx context.Context, h Handler, jc *JobContext) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			jc.logger.Error("Job handler panic", "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = &panicError{Val: r}
		}
	}()
	return h(ctx, jc)
}

// finish records the outcome. It runs on a context detached from shutdown so
// a job interrupted mid-write is still marked, and it never overwrites a
// cancelled job.
func (p *Pool) finish(ctx context.Context, jc *JobContext, result interface{}, runErr error, terminal bool) {
	ctx = context.WithoutCancel(ctx)
	now := p.cfg.Now()

	var updates map[string]interface{}
	if runErr == nil {
		updates = map[string]interface{}{
			"status":       models.JobSucceeded,
			"stage":        "completed",
			"progress":     100,
			"error":        "",
			"result_key":   jc.ResultKey,
			"completed_at": now,
		}
		if result != nil {
			payload, err := json.Marshal(result)
			if err != nil {
				runErr = fmt.Errorf("failed to encode job result: %w", err)
				terminal = true
			} else {
				updates["result"] = datatypes.JSON(payload)
			}
		}
	}
	if runErr != nil {
		updates = map[string]interface{}{
			"status":        models.JobFailed,
			"stage":         "failed",
			"error":         runErr.Error(),
			"last_error_at": now,
		}
		if terminal || jc.Job.Attempts >= p.cfg.MaxAttempts {
			updates["completed_at"] = now
		}
	}

	ok, err := p.repo.UpdateUnlessCancelled(ctx, jc.Job.ID, updates)
	if err != nil {
		jc.logger.Error("Failed to record job outcome", "error", err)
		return
	}
	if !ok {
		jc.logger.Info("Job was cancelled, outcome discarded")
		return
	}
	if runErr != nil {
		_, final := updates["completed_at"]
		jc.logger.Warn("Job failed", "error", runErr, "final", final)
	}
}

type missingHandlerError struct{ Kind models.GenerationKind }

func (e *missingHandlerError) Error() string {
	return "no handler registered for kind " + string(e.Kind)
}

type panicError struct{ Val interface{} }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
