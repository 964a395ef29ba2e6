package stor

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wipac/lta/pkg/ltadb"
)

// newTestDB opens a fresh in-memory sqlite database for one test. The DSN
// carries the test name so parallel tests do not share state; cache=shared
// with a single connection keeps every goroutine in the test on the same
// database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := ltadb.ConnectToSqlite(dsn)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, ltadb.RunMigrations(db))

	return db
}
