package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/ai"
	"github.com/dentprep/exam-service/internal/events"
	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/repositories/postgres"
	"github.com/dentprep/exam-service/internal/storage"
	"github.com/dentprep/exam-service/internal/testutil"
	"github.com/dentprep/exam-service/internal/validator"
)

// stubUsers serves users from memory in place of the identity provider.
type stubUsers struct {
	users map[string]*models.User
}

func newStubUsers(users ...*models.User) *stubUsers {
	s := &stubUsers{users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
}

func (s *stubUsers) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubUsers) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	var out []*models.User
	for _, u := range s.users {
		if filters.Query == "" || strings.Contains(u.Email, filters.Query) {
			out = append(out, u)
		}
	}
	return out, int64(len(out)), nil
}

type testEnv struct {
	db        *gorm.DB
	repo      repositories.Repository
	redis     *redis.Client
	mr        *miniredis.Miniredis
	users     *stubUsers
	publisher *events.MockEventPublisher
	store     *storage.MemoryStore
	validator *validator.Validator
	generator *ai.Generator
	logger    *slog.Logger
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires a repository over a fresh SQLite database. withRedis adds
// a miniredis server behind the caches and leaderboards.
func newTestEnv(t *testing.T, withRedis bool) *testEnv {
	t.Helper()
	env := &testEnv{
		db: testutil.NewDB(t),
		users: newStubUsers(
			&models.User{ID: "learner-1", Name: "amy", DisplayName: "Amy Tran", Email: "amy@example.com", Role: models.RoleStudent},
			&models.User{ID: "learner-2", Name: "ben", DisplayName: "Ben Okafor", Email: "ben@example.com", Role: models.RoleStudent},
			&models.User{ID: "admin-1", Name: "cara", Email: "cara@example.com", Role: models.RoleAdmin},
		),
		store:     storage.NewMemoryStore(),
		validator: validator.New(),
		generator: ai.NewGenerator(ai.NewStaticClient()),
		logger:    discardLogger(),
	}
	env.publisher = events.NewMockEventPublisher(env.logger)
	if withRedis {
		env.redis, env.mr = testutil.NewRedis(t)
	}
	env.repo = postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{
		DB:             env.db,
		RedisClient:    env.redis,
		UserRepository: env.users,
	})
	return env
}

func seedSubject(t *testing.T, db *gorm.DB, name, slug string) *models.Subject {
	t.Helper()
	s := &models.Subject{Name: name, Slug: slug}
	require.NoError(t, db.Create(s).Error)
	return s
}

// seedQuestions creates n published questions whose correct option is B.
func seedQuestions(t *testing.T, db *gorm.DB, subjectID uint, n int) []*models.Question {
	t.Helper()
	out := make([]*models.Question, 0, n)
	for i := 1; i <= n; i++ {
		explanation := fmt.Sprintf("Explanation for item %d", i)
		q := &models.Question{
			SubjectID: subjectID,
			Stem:      fmt.Sprintf("Subject %d question number %02d: which option is right?", subjectID, i),
			Options: []models.Option{
				{ID: "A", Text: "Enamel"},
				{ID: "B", Text: "Dentin"},
				{ID: "C", Text: "Cementum"},
				{ID: "D", Text: "Pulp"},
			},
			CorrectOptionID: "B",
			Explanation:     &explanation,
			Difficulty:      models.DifficultyMedium,
			Source:          models.SourceManual,
			IsPublished:     true,
			CreatedBy:       "admin-1",
		}
		require.NoError(t, db.Create(q).Error)
		out = append(out, q)
	}
	return out
}

func uintPtr(v uint) *uint {
	return &v
}
