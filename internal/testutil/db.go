package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/database"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB returns a migrated in-memory SQLite database private to the test.
// The pool is pinned to one connection so the shared-cache database lives
// as long as the test and transactions serialize.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, dbSeq.Add(1))

	db, err := database.Open(sqlite.Open(dsn), logger.Discard())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
