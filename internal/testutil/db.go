package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dentprep/exam-service/pkg"
)

var testDBCounter atomic.Int64

// NewTestDatabase returns a migrated in-memory SQLite database. Each call
// gets an isolated schema. A single connection is used, so code running
// inside a transaction must only use the transaction handle.
func NewTestDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := pkg.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
