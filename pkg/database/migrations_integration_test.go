//go:build integration

package database_test

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/testhelpers"
)

func TestRunMigrations_Idempotent(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)

	sqlDB, err := sql.Open("pgx", engineDB.ConnStr)
	require.NoError(t, err)
	defer sqlDB.Close()

	// The shared database is already migrated; a second run is a no-op.
	require.NoError(t, database.RunMigrations(sqlDB, zap.NewNop()))
	require.NoError(t, database.RunMigrations(sqlDB, zap.NewNop()))
}
