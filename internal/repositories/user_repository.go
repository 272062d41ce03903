package repositories

import (
	"context"

	"github.com/dentprep/exam-service/internal/models"
)

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string // Search query for name or email
	Limit  int    // Page size
	Offset int    // Offset for pagination
}

// UserRepository reads users from the identity provider. The service does not
// own user data.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByIDs skips ids that cannot be resolved
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
}
