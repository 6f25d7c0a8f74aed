package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ownedTables are cleared before and after each MySQL-backed test.
var ownedTables = []string{"payment_events", "period_aggregates", "reconciliation_runs", "processor_accounts"}

// OpenMySQLTestDB connects to TEST_MYSQL_DSN when INTEGRATION_TESTS=1 and
// skips the test otherwise. Example DSN:
//
//	root:secret@tcp(127.0.0.1:3306)/payrecon_test?parseTime=true&loc=UTC
func OpenMySQLTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 and TEST_MYSQL_DSN to run against MySQL")
	}
	dsn := strings.TrimSpace(os.Getenv("TEST_MYSQL_DSN"))
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}

	cfg := config.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	require.NoError(t, err, "open mysql")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)

	require.NoError(t, db.Use(config.NewAppendOnlyGuardPlugin()))
	require.NoError(t, models.MigrateTable(db))
	require.NoError(t, models.MigrateCollaboratorTables(db))

	wipe := func() {
		for _, table := range ownedTables {
			require.NoError(t, db.Exec("DELETE FROM "+table).Error)
		}
	}
	wipe()
	t.Cleanup(func() {
		wipe()
		_ = sqlDB.Close()
	})
	return db
}
