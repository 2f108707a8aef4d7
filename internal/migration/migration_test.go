package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/invoicing/internal/dbtest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(embeddedMigrations, down)
		require.NoError(t, err, "missing down migration for %s", up)
	}
}

func TestRowLevelSecurityAllowsUnscopedSessions(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000003_row_level_security.up.sql")
	require.NoError(t, err)
	sql := string(raw)
	require.Contains(t, sql, "app.current_org_id")
	require.Contains(t, sql, "'invoices'")
	require.Contains(t, sql, "'payments'")
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	require.Error(t, RunMigrations(nil))
}

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, AutoMigrate(conn))

	for _, model := range Models() {
		require.True(t, conn.Migrator().HasTable(model), "%T", model)
	}
}

func TestEmbeddedMigrationsCoverModels(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	var all strings.Builder
	for _, up := range ups {
		raw, err := fs.ReadFile(embeddedMigrations, up)
		require.NoError(t, err)
		all.Write(raw)
	}

	conn := dbtest.Open(t)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		require.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table, "%T", model)
	}
}
