package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/repositories/postgres"
	"github.com/dentprep/exam-service/internal/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupPool(t *testing.T, cfg Config) (*Pool, repositories.GenerationJobRepository, *testClock) {
	t.Helper()
	repo := postgres.NewGenerationJobPostgreSQL(testutil.NewDB(t))
	clock := &testClock{now: time.Now().UTC()}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	return NewPool(repo, cfg, discardLogger()), repo, clock
}

func createJob(t *testing.T, repo repositories.GenerationJobRepository, kind models.GenerationKind) *models.GenerationJob {
	t.Helper()
	job := &models.GenerationJob{UserID: "learner-1", Kind: kind, Prompt: "Fluoride varnish application"}
	require.NoError(t, repo.Create(context.Background(), nil, job))
	return job
}

func TestPool_RunOnceSuccess(t *testing.T) {
	pool, repo, _ := setupPool(t, Config{})
	ctx := context.Background()

	pool.Register(models.KindSummary, func(ctx context.Context, jc *JobContext) (interface{}, error) {
		jc.Progress(ctx, "summarizing", 50)
		jc.ResultKey = "generations/" + jc.Job.ID + ".json"
		return map[string]string{"title": "Fluoride"}, nil
	})
	job := createJob(t, repo, models.KindSummary)

	ran, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := repo.GetByID(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "completed", got.Stage)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "generations/"+job.ID+".json", got.ResultKey)
	assert.JSONEq(t, `{"title":"Fluoride"}`, string(got.Result))
	assert.NotNil(t, got.CompletedAt)

	ran, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestPool_RetryAfterDelay(t *testing.T) {
	pool, repo, clock := setupPool(t, Config{MaxAttempts: 2, RetryDelay: 30 * time.Second})
	ctx := context.Background()

	var calls atomic.Int32
	pool.Register(models.KindFlashcards, func(ctx context.Context, jc *JobContext) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New("upstream unavailable")
	})
	job := createJob(t, repo, models.KindFlashcards)

	ran, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := repo.GetByID(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "upstream unavailable", got.Error)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.IsTerminal())

	ran, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "retry must wait for the delay")

	clock.Advance(31 * time.Second)
	ran, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err = repo.GetByID(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.NotNil(t, got.CompletedAt)
	assert.True(t, got.IsTerminal())

	clock.Advance(time.Minute)
	ran, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPool_PanicAndMissingHandler(t *testing.T) {
	pool, repo, _ := setupPool(t, Config{MaxAttempts: 3})
	ctx := context.Background()

	pool.Register(models.KindSummary, func(ctx context.Context, jc *JobContext) (interface{}, error) {
		panic("kaboom")
	})
	panicking := createJob(t, repo, models.KindSummary)

	ran, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err := repo.GetByID(ctx, nil, panicking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "panic: kaboom", got.Error)
	assert.Nil(t, got.CompletedAt)

	orphan := createJob(t, repo, models.KindQuestions)
	ran, err = pool.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	got, err = repo.GetByID(ctx, nil, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Contains(t, got.Error, "no handler registered")
	assert.NotNil(t, got.CompletedAt, "missing handler is not retried")
}

func TestPool_CancelledWhileRunning(t *testing.T) {
	pool, repo, _ := setupPool(t, Config{HeartbeatInterval: 10 * time.Millisecond})
	ctx := context.Background()

	started := make(chan struct{})
	pool.Register(models.KindFlashcards, func(ctx context.Context, jc *JobContext) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	job := createJob(t, repo, models.KindFlashcards)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = pool.RunOnce(ctx)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}
	ok, err := repo.Cancel(ctx, nil, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not interrupted")
	}

	got, err := repo.GetByID(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)
	assert.Empty(t, got.Error)
}

func TestPool_StartNotifyAndPeriodic(t *testing.T) {
	pool, repo, _ := setupPool(t, Config{Concurrency: 1, PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	pool.Register(models.KindSummary, func(ctx context.Context, jc *JobContext) (interface{}, error) {
		return map[string]int{"points": 3}, nil
	})
	var ticks atomic.Int32
	pool.Every("count", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	pool.Start(ctx)
	job := createJob(t, repo, models.KindSummary)
	pool.Notify()

	require.Eventually(t, func() bool {
		got, err := repo.GetByID(context.Background(), nil, job.ID)
		return err == nil && got.Status == models.JobSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	pool.Wait()
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.NotNil(t, cfg.Now)
}
