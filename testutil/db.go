// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB opens a migrated SQLite database in t.TempDir().
// WAL mode and a single connection keep concurrent test goroutines from
// hitting SQLITE_BUSY.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "payrecon.db")
	cfg := config.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)

	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), cfg)
	require.NoError(t, err, "open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Use(config.NewAppendOnlyGuardPlugin()))
	require.NoError(t, models.MigrateTable(db), "migrate owned tables")
	require.NoError(t, models.MigrateCollaboratorTables(db), "migrate collaborator tables")
	return db
}

// SeedProcessorAccount creates a connected account with an optional cursor.
func SeedProcessorAccount(t *testing.T, db *gorm.DB, cursor *string) models.ProcessorAccount {
	t.Helper()
	acc := models.ProcessorAccount{
		Provider:   models.ProcessorProviderStripe,
		Name:       "test account",
		Status:     models.ProcessorStatusConnected,
		SyncCursor: cursor,
	}
	require.NoError(t, db.Create(&acc).Error)
	return acc
}
