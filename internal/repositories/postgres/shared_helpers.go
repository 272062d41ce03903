package postgres

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/repositories"
)

// SharedHelpers contains query building shared by the repositories
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// allowedSortColumns whitelists columns that may appear in ORDER BY
var allowedSortColumns = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"id":           true,
	"status":       true,
	"difficulty":   true,
	"subject_id":   true,
	"started_at":   true,
	"completed_at": true,
	"percentage":   true,
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	if strings.EqualFold(sortOrder, "asc") {
		sortOrder = "ASC"
	} else {
		sortOrder = "DESC"
	}

	// id breaks ties so pages are stable
	query = query.Order(sortBy + " " + sortOrder)
	if sortBy != "id" {
		query = query.Order("id " + sortOrder)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}

// ApplyQuestionFilters applies common filters to question queries
func (h *SharedHelpers) ApplyQuestionFilters(query *gorm.DB, filters repositories.QuestionFilters) *gorm.DB {
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}
	if filters.Difficulty != nil {
		query = query.Where("difficulty = ?", *filters.Difficulty)
	}
	if filters.Source != nil {
		query = query.Where("source = ?", *filters.Source)
	}
	if filters.Published != nil {
		query = query.Where("is_published = ?", *filters.Published)
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		query = query.Where("LOWER(stem) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	return query
}

// ApplySessionFilters applies common filters to quiz session queries
func (h *SharedHelpers) ApplySessionFilters(query *gorm.DB, filters repositories.SessionFilters) *gorm.DB {
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Mode != nil {
		query = query.Where("mode = ?", *filters.Mode)
	}
	if filters.DateFrom != nil {
		query = query.Where("started_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("started_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyJobFilters applies common filters to generation job queries
func (h *SharedHelpers) ApplyJobFilters(query *gorm.DB, filters repositories.JobFilters) *gorm.DB {
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Kind != nil {
		query = query.Where("kind = ?", *filters.Kind)
	}
	return query
}

// notFoundOr maps gorm.ErrRecordNotFound onto repositories.ErrNotFound and
// wraps anything else.
func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), repositories.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", fmt.Sprintf(format, args...), err)
}
