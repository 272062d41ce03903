package services

import (
	"time"

	"github.com/dentprep/exam-service/internal/models"
)

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

func stringPtr(s string) *string {
	return &s
}

// utcDay formats t as a UTC calendar day.
func utcDay(t time.Time) string {
	return t.UTC().Format(models.DayLayout)
}
