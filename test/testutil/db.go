package testutil

import (
	"io"
	"os"
	"sync"
	"testing"

	"github.com/bulkwave/bulkwave/internal/database"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var migrateOnce sync.Once

// NopLogger returns a logger that discards all output
func NopLogger() logf.Logger {
	return logf.New(logf.Opts{Writer: io.Discard})
}

// SetupTestDB opens the test database named by BULKWAVE_TEST_DSN and runs
// migrations once per process. Tests that need a database are skipped when
// the variable is unset.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("BULKWAVE_TEST_DSN")
	if dsn == "" {
		t.Skip("BULKWAVE_TEST_DSN not set, skipping database test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to connect to test database")

	migrateOnce.Do(func() {
		require.NoError(t, database.AutoMigrate(db), "failed to migrate test database")
		require.NoError(t, database.CreateIndexes(db), "failed to create test indexes")
	})

	return db
}
